// Package gateway はPrincipalのアクセストークンを使ってGoogle Calendar / Meet APIを呼び出す。
// トークンの更新やリトライは行わない。
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultCalendarBaseURL = "https://www.googleapis.com/calendar/v3"
	defaultMeetBaseURL     = "https://meet.googleapis.com/v2"

	// maxResponseSize はAPIレスポンスボディの読み取り上限。
	maxResponseSize = 1 << 20
)

// Config はゲートウェイクライアントの設定。
type Config struct {
	// Timeout は1回のAPI呼び出しの上限時間。0の場合はリクエストのコンテキストのみに従う。
	Timeout time.Duration

	// テスト用にオーバーライド可能なURL
	CalendarBaseURL string
	MeetBaseURL     string
}

// Client はGoogle APIのクライアント。
// アクセストークンは呼び出しごとに受け取り、クライアント自体は状態を持たない。
type Client struct {
	httpClient      *http.Client
	logger          *slog.Logger
	timeout         time.Duration
	calendarBaseURL string
	meetBaseURL     string
	now             func() time.Time
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, config Config) *Client {
	if config.CalendarBaseURL == "" {
		config.CalendarBaseURL = defaultCalendarBaseURL
	}
	if config.MeetBaseURL == "" {
		config.MeetBaseURL = defaultMeetBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient:      httpClient,
		logger:          logger,
		timeout:         config.Timeout,
		calendarBaseURL: config.CalendarBaseURL,
		meetBaseURL:     config.MeetBaseURL,
		now:             time.Now,
	}
}

// do はBearerトークン付きでAPIを呼び出し、成功時はレスポンスをoutにデコードする。
// 4xx/5xxは*Errorとして返す。
func (c *Client) do(ctx context.Context, accessToken, method, rawURL string, in, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// ベースのhttp.Clientにトークン付与のTransportを重ねる
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	resp, err := client.Do(req)
	if err != nil {
		c.logger.Error("google api request failed",
			slog.String("method", method),
			slog.String("url", req.URL.Redacted()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("google api request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := parseError(resp.StatusCode, respBody)
		c.logger.Warn("google api returned error status",
			slog.String("method", method),
			slog.String("url", req.URL.Redacted()),
			slog.Int("http_status", apiErr.StatusCode),
			slog.String("status", apiErr.Status),
		)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
