package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/meetauth/internal/auth"
	"github.com/hitoshi/meetauth/internal/config"
	"github.com/hitoshi/meetauth/internal/database"
	"github.com/hitoshi/meetauth/internal/gateway"
	"github.com/hitoshi/meetauth/internal/handler"
	"github.com/hitoshi/meetauth/internal/logger"
	"github.com/hitoshi/meetauth/internal/metrics"
	"github.com/hitoshi/meetauth/internal/middleware"
	"github.com/hitoshi/meetauth/internal/repository"
	"github.com/hitoshi/meetauth/internal/security"
	"github.com/hitoshi/meetauth/internal/session"
	"github.com/hitoshi/meetauth/internal/worker/cleanup"
)

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映する（Validate済み）
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger.SetupDefault(w, level)

	for _, warning := range cfg.Warnings() {
		slog.Warn("insecure development configuration", slog.String("detail", warning))
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "5000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_store", cfg.SessionStore),
		slog.String("callback_mode", cfg.CallbackMode),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// sessionStore はセッションストアとその後始末をまとめたもの。
type sessionStore struct {
	repo  repository.SessionRepository
	close func() error
}

// openSessionStore はSESSION_STOREに応じたセッションストアを開く。
// SQLiteは単一ファイルのため起動時にマイグレーションを適用する。
// PostgreSQLのスキーマはmigrateサブコマンドで適用する。
func openSessionStore(cfg *config.Config) (*sessionStore, error) {
	switch cfg.SessionStore {
	case config.SessionStorePostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		return &sessionStore{repo: repository.NewPostgresSessionRepo(db), close: db.Close}, nil

	case config.SessionStoreSQLite:
		db, err := openMigratedSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("sqlite session store opened", slog.String("path", cfg.SQLitePath))
		return &sessionStore{repo: repository.NewSQLiteSessionRepo(db), close: db.Close}, nil

	default:
		slog.Warn("using in-memory session store; sessions are lost on restart")
		return &sessionStore{repo: repository.NewMemorySessionRepo(), close: func() error { return nil }}, nil
	}
}

func openMigratedSQLite(path string) (*sql.DB, error) {
	db, err := database.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if err := database.RunSQLiteMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite migration failed: %w", err)
	}
	return db, nil
}

// server はHTTPサーバーとバックグラウンドジョブの依存関係。
type server struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
	cleanupJob  *cleanup.CleanupJob
}

// newServer は全依存関係をワイヤリングする。
// googleClientはGoogleへの外向き通信に使うHTTPクライアント。
func newServer(cfg *config.Config, repo repository.SessionRepository, googleClient *http.Client, reg *prometheus.Registry) *server {
	collector := metrics.NewCollector(reg)

	// 1. セキュリティサービス
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 2. セッション
	sessions := session.NewManager(repo, session.Config{
		Secret:       cfg.SessionSecret,
		TTL:          cfg.SessionTTL,
		CookieDomain: cfg.CookieDomain,
		CookieSecure: cfg.CookieSecure,
	})

	// 3. 認証
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		HTTPClient:   googleClient,
	})
	authService := auth.NewService(oauthProvider, auth.ServiceConfig{
		RevokeOnLogout: cfg.RevokeOnLogout,
	})

	// 4. 下流API
	gw := gateway.NewClient(googleClient, slog.Default(), gateway.Config{
		Timeout: cfg.GatewayTimeout,
	})

	// 5. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitAuth, cfg.RateLimitGateway),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         slog.Default(),
		Sessions:       sessions,
		FrontendOrigin: cfg.FrontendOrigin,
		RateLimiter:    rateLimiter,

		HealthChecker: repo,
		Metrics:       collector,
		Gatherer:      reg,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CallbackMode:      cfg.CallbackMode,
			PopupTargetOrigin: cfg.PopupTargetOrigin,
			CookieSecure:      cfg.CookieSecure,
		},

		Gateway:   gw,
		Sanitizer: sanitizer,
		URLGuard:  ssrfGuard,
		PageConfig: handler.PageHandlerConfig{
			CalendarMaxResults: cfg.CalendarMaxResults,
			MeetAccessType:     cfg.MeetAccessType,
		},
	})

	return &server{
		handler:     router,
		rateLimiter: rateLimiter,
		cleanupJob:  cleanup.NewCleanupJob(repo, slog.Default(), collector),
	}
}

// runServe はWebサーバーモードで起動する。
// セッションストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. セッションストア
	store, err := openSessionStore(cfg)
	if err != nil {
		return err
	}
	defer store.close()

	// 2. 依存関係のワイヤリング
	// Googleへの通信はSSRF防止クライアント経由（https:443のみ）
	googleClient := security.NewSSRFGuard().NewSafeClient(cfg.GatewayTimeout)
	srv := newServer(cfg, store.repo, googleClient, prometheus.NewRegistry())
	defer srv.rateLimiter.Stop()

	// 3. 期限切れセッションの定期削除
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.cleanupJob.Start(ctx, cfg.SessionSweepInterval)

	// 4. HTTPサーバーの起動
	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.GatewayTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("web server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down web server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("web server stopped gracefully")
	return nil
}

// runMigrate はセッションストアのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	switch cfg.SessionStore {
	case config.SessionStorePostgres:
		slog.Info("running database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

	case config.SessionStoreSQLite:
		slog.Info("running sqlite migrations", slog.String("path", cfg.SQLitePath))
		db, err := openMigratedSQLite(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		db.Close()

	default:
		slog.Info("in-memory session store has no schema; nothing to migrate")
		return nil
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
