package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// 実行環境
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// セッションストアのバックエンド
const (
	SessionStoreMemory   = "memory"
	SessionStorePostgres = "postgres"
	SessionStoreSQLite   = "sqlite"
)

// OAuthコールバック成功時の応答モード
const (
	CallbackModeRedirect = "redirect"
	CallbackModePopup    = "popup"
)

// ローカル開発用のプレースホルダー。本番環境では起動時に拒否する。
const (
	PlaceholderClientID      = "your-google-client-id"
	PlaceholderClientSecret  = "your-google-client-secret"
	PlaceholderSessionSecret = "change-me-local-development-only"
)

// minSessionSecretLen は本番環境で要求するセッション署名鍵の最小長（バイト）。
const minSessionSecretLen = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	Env string `env:"APP_ENV" envDefault:"development"`

	// Server
	ServerPort string `env:"PORT" envDefault:"5000"`
	BaseURL    string `env:"BASE_URL"`

	// OAuth
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID" envDefault:"your-google-client-id"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET" envDefault:"your-google-client-secret"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`
	RevokeOnLogout     bool   `env:"REVOKE_ON_LOGOUT" envDefault:"false"`

	// Callback
	CallbackMode      string `env:"CALLBACK_MODE" envDefault:"redirect"`
	PopupTargetOrigin string `env:"POPUP_TARGET_ORIGIN"`
	FrontendOrigin    string `env:"FRONTEND_ORIGIN"`

	// Session
	SessionSecret        string        `env:"SESSION_SECRET" envDefault:"change-me-local-development-only"`
	SessionTTL           time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"10m"`
	SessionStore         string        `env:"SESSION_STORE" envDefault:"memory"`
	DatabaseURL          string        `env:"DATABASE_URL"`
	SQLitePath           string        `env:"SQLITE_PATH" envDefault:"meetauth.db"`

	// Gateway
	CalendarMaxResults int           `env:"CALENDAR_MAX_RESULTS" envDefault:"10"`
	GatewayTimeout     time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	MeetAccessType     string        `env:"MEET_ACCESS_TYPE"`

	// Rate Limit（req/min）
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH" envDefault:"20"`
	RateLimitGateway int `env:"RATE_LIMIT_GATEWAY" envDefault:"60"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`
}

// Load は環境変数からConfigを読み込む。
// 不正な値や本番環境でのプレースホルダー使用はエラーとして返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	cfg.applyDerivedDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDerivedDefaults は他の設定値から導出されるデフォルトを埋める。
func (c *Config) applyDerivedDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:" + c.ServerPort
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")

	if c.GoogleRedirectURL == "" {
		c.GoogleRedirectURL = c.BaseURL + "/auth/callback"
	}
	if c.FrontendOrigin == "" {
		c.FrontendOrigin = originOf(c.BaseURL)
	}
	// 開発環境のみ、未設定のpostMessage宛先はBASE_URLのオリジンに限定する。
	// ワイルドカードは使用しない。
	if c.PopupTargetOrigin == "" && !c.IsProduction() {
		c.PopupTargetOrigin = originOf(c.BaseURL)
	}

	c.CookieSecure = strings.HasPrefix(c.BaseURL, "https://")
}

// Validate は設定値を検証する。
// 本番環境ではプレースホルダーや未設定の必須値を起動失敗として扱う。
func (c *Config) Validate() error {
	var invalid []string

	switch c.Env {
	case EnvDevelopment, EnvProduction:
	default:
		invalid = append(invalid, fmt.Sprintf("APP_ENV must be %q or %q", EnvDevelopment, EnvProduction))
	}

	switch c.SessionStore {
	case SessionStoreMemory, SessionStoreSQLite:
	case SessionStorePostgres:
		if c.DatabaseURL == "" {
			invalid = append(invalid, "DATABASE_URL is required when SESSION_STORE=postgres")
		}
	default:
		invalid = append(invalid, fmt.Sprintf("SESSION_STORE must be one of memory, postgres, sqlite (got %q)", c.SessionStore))
	}

	switch c.CallbackMode {
	case CallbackModeRedirect, CallbackModePopup:
	default:
		invalid = append(invalid, fmt.Sprintf("CALLBACK_MODE must be redirect or popup (got %q)", c.CallbackMode))
	}

	if c.PopupTargetOrigin == "*" {
		invalid = append(invalid, "POPUP_TARGET_ORIGIN must not be a wildcard")
	}

	if c.SessionTTL <= 0 {
		invalid = append(invalid, "SESSION_TTL must be positive")
	}
	if c.SessionSweepInterval <= 0 {
		invalid = append(invalid, "SESSION_SWEEP_INTERVAL must be positive")
	}
	if c.CalendarMaxResults < 1 || c.CalendarMaxResults > 250 {
		invalid = append(invalid, "CALENDAR_MAX_RESULTS must be between 1 and 250")
	}
	switch c.MeetAccessType {
	case "", "OPEN", "TRUSTED", "RESTRICTED":
	default:
		invalid = append(invalid, fmt.Sprintf("MEET_ACCESS_TYPE must be OPEN, TRUSTED or RESTRICTED (got %q)", c.MeetAccessType))
	}
	if c.RateLimitAuth <= 0 || c.RateLimitGateway <= 0 {
		invalid = append(invalid, "RATE_LIMIT_AUTH and RATE_LIMIT_GATEWAY must be positive")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		invalid = append(invalid, err.Error())
	}

	if c.IsProduction() {
		if c.GoogleClientID == "" || c.GoogleClientID == PlaceholderClientID {
			invalid = append(invalid, "GOOGLE_CLIENT_ID must be set in production")
		}
		if c.GoogleClientSecret == "" || c.GoogleClientSecret == PlaceholderClientSecret {
			invalid = append(invalid, "GOOGLE_CLIENT_SECRET must be set in production")
		}
		if c.SessionSecret == PlaceholderSessionSecret || len(c.SessionSecret) < minSessionSecretLen {
			invalid = append(invalid, fmt.Sprintf("SESSION_SECRET must be at least %d bytes in production", minSessionSecretLen))
		}
		if c.CallbackMode == CallbackModePopup && c.PopupTargetOrigin == "" {
			invalid = append(invalid, "POPUP_TARGET_ORIGIN is required when CALLBACK_MODE=popup in production")
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid configuration: %v", invalid)
	}
	return nil
}

// Warnings は開発環境で許容されるが注意が必要な設定を返す。
func (c *Config) Warnings() []string {
	var warnings []string
	if c.GoogleClientID == PlaceholderClientID || c.GoogleClientSecret == PlaceholderClientSecret {
		warnings = append(warnings, "GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET are placeholders; provider calls will be rejected")
	}
	if c.SessionSecret == PlaceholderSessionSecret {
		warnings = append(warnings, "SESSION_SECRET is the development placeholder")
	}
	return warnings
}

// IsProduction は本番環境かどうかを返す。
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// ParseLogLevel はLOG_LEVELの文字列をslog.Levelに変換する。
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL is invalid: %q", s)
	}
	return level, nil
}

// originOf はURLからscheme://hostのオリジン部分を取り出す。
func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
