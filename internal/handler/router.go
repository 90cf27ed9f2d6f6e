package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/meetauth/internal/metrics"
	"github.com/hitoshi/meetauth/internal/middleware"
	"github.com/hitoshi/meetauth/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger         *slog.Logger
	Sessions       SessionManager
	FrontendOrigin string
	RateLimiter    *middleware.RateLimiter

	// 監視
	HealthChecker HealthChecker
	Metrics       metrics.MetricsCollector
	Gatherer      prometheus.Gatherer

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ページ
	Gateway    GatewayInterface
	Sanitizer  security.ContentSanitizerService
	URLGuard   URLValidator
	PageConfig PageHandlerConfig
}

// SessionManager はルーター全体で使うセッション操作。
type SessionManager interface {
	middleware.SessionStarter
	SessionAuthenticator
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RequestID → Logging → Metrics → SecurityHeaders → Session
//
// /health と /metrics はセッションを作らないようSessionミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	authHandler := NewAuthHandler(deps.AuthService, deps.Sessions, collector, deps.AuthConfig)
	pageHandler := NewPageHandler(deps.Gateway, deps.Sanitizer, deps.URLGuard, collector, deps.PageConfig)

	// --- セッション不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- セッションを扱うルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Sessions))

		r.Get("/", pageHandler.Index)

		r.Route("/auth", func(r chi.Router) {
			// OAuthフロー
			r.With(deps.RateLimiter.AuthMiddleware()).Get("/start", authHandler.Start)
			r.Get("/callback", authHandler.Callback)
			r.Get("/failure", authHandler.Failure)

			// セッション管理
			r.Get("/logout", authHandler.Logout)
			r.Post("/logout", authHandler.Logout)

			// SPA向け（Cookie付きCORS）
			r.With(middleware.NewCORSMiddleware(deps.FrontendOrigin)).
				Method(http.MethodGet, "/me", http.HandlerFunc(authHandler.Me))
			r.With(middleware.NewCORSMiddleware(deps.FrontendOrigin)).
				Options("/me", func(w http.ResponseWriter, r *http.Request) {})
		})

		// ログインが必要なページ
		// ミドルウェアスタック: RequirePrincipal → RateLimit(Gateway)
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewRequirePrincipalMiddleware("/"))
			r.Use(deps.RateLimiter.GatewayMiddleware())

			r.Get("/calendar", pageHandler.Calendar)
			r.Get("/create-meet", pageHandler.CreateMeet)
		})
	})

	return r
}
