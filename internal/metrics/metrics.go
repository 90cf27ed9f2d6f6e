// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやセッション掃除ジョブから利用する。
type MetricsCollector interface {
	// RecordLogin はコールバックの結果を記録する。outcomeは"success"または失敗理由コード。
	RecordLogin(outcome string)
	RecordLogout()
	// RecordGatewayCall はGoogle API呼び出しの結果とレイテンシを記録する。
	RecordGatewayCall(op string, outcome string, duration time.Duration)
	RecordSessionsSwept(count int64)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins         *prometheus.CounterVec
	logouts        prometheus.Counter
	gatewayCalls   *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
	sessionsSwept  prometheus.Counter
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetauth_logins_total",
			Help: "OAuthコールバックの結果別の合計数",
		}, []string{"outcome"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meetauth_logouts_total",
			Help: "ログアウトの合計数",
		}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetauth_gateway_calls_total",
			Help: "Google API呼び出しの操作・結果別の合計数",
		}, []string{"op", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meetauth_gateway_latency_seconds",
			Help:    "Google API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meetauth_sessions_swept_total",
			Help: "期限切れで削除されたセッションの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetauth_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.logouts,
		c.gatewayCalls,
		c.gatewayLatency,
		c.sessionsSwept,
		c.httpStatus,
	)

	return c
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordLogout はログアウトを記録する。
func (c *Collector) RecordLogout() {
	c.logouts.Inc()
}

// RecordGatewayCall はGoogle API呼び出しを記録する。
func (c *Collector) RecordGatewayCall(op string, outcome string, duration time.Duration) {
	c.gatewayCalls.WithLabelValues(op, outcome).Inc()
	c.gatewayLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordSessionsSwept は削除されたセッション数を記録する。
func (c *Collector) RecordSessionsSwept(count int64) {
	c.sessionsSwept.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type NopCollector struct{}

func (NopCollector) RecordLogin(string)                             {}
func (NopCollector) RecordLogout()                                  {}
func (NopCollector) RecordGatewayCall(string, string, time.Duration) {}
func (NopCollector) RecordSessionsSwept(int64)                      {}
func (NopCollector) RecordHTTPStatus(int)                           {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
