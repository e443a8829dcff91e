// Package app はアプリケーションの起動とワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
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
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/healthsync/internal/auth"
	"github.com/hitoshi/healthsync/internal/config"
	"github.com/hitoshi/healthsync/internal/database"
	"github.com/hitoshi/healthsync/internal/handler"
	"github.com/hitoshi/healthsync/internal/health"
	"github.com/hitoshi/healthsync/internal/logger"
	"github.com/hitoshi/healthsync/internal/metrics"
	"github.com/hitoshi/healthsync/internal/middleware"
	"github.com/hitoshi/healthsync/internal/repository"
	"github.com/hitoshi/healthsync/internal/security"
	"github.com/hitoshi/healthsync/internal/zepp"
)

// dbPingTimeout は起動時のDB疎通確認のタイムアウト。
const dbPingTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// .envがあれば環境変数に読み込み、JSON構造化ログをセットアップしてからConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .envの読み込み（既存の環境変数は上書きしない）
	dotEnvErr := config.LoadDotEnv(".env")

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	if dotEnvErr != nil {
		slog.Warn("failed to load .env file", slog.String("error", dotEnvErr.Error()))
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
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
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(fmt.Sprintf("http://localhost:%s/health", port))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("api_prefix", cfg.APIPrefix),
		slog.Bool("zepp_configured", cfg.ZeppConfigured()),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		return err
	}

	slog.Info("database connection established")

	// 2. テーブル作成（AUTO_CREATE_TABLES）
	if cfg.AutoCreateTables {
		if err := runMigrate(cfg); err != nil {
			return err
		}
	}

	// 3. ルーターの構築
	reg := prometheus.NewRegistry()
	router, rateLimiter, err := buildRouter(cfg, db, reg)
	if err != nil {
		return err
	}
	defer rateLimiter.Stop()

	// 4. HTTPサーバーの起動
	server := newServer(cfg, router)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// writeTimeoutMargin はZepp呼び出し以外（DB保存、応答書き込み）に見込む時間。
const writeTimeoutMargin = 15 * time.Second

// newServer はHTTPサーバーを生成する。
// WriteTimeoutはZepp同期の最悪時間（全呼び出しがリトライ上限までタイムアウト）に余裕を加えた値。
func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	syncWorstCase := zepp.CallsPerSync * zepp.DefaultRetryPolicy().WorstCaseDuration(cfg.ZeppTimeout)
	return &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: syncWorstCase + writeTimeoutMargin,
		IdleTimeout:  60 * time.Second,
	}
}

// buildRouter は設定とDBから全依存関係を組み立て、HTTPハンドラーを返す。
// 返されたRateLimiterはサーバー停止時にStopすること。
func buildRouter(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) (http.Handler, *middleware.RateLimiter, error) {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	recordRepo := repository.NewPostgresHealthRecordRepo(db)

	// 2. セキュリティ・メトリクスの初期化
	sanitizer := security.NewTextSanitizer()
	hasher := security.NewPasswordHasher(0)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 3. ドメインサービスの初期化
	tokens, err := auth.NewTokenIssuer(cfg.SecretKey, cfg.Algorithm, cfg.AccessTokenExpires)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure token issuer: %w", err)
	}
	authService := auth.NewService(userRepo, hasher, sanitizer, tokens)

	zeppClient := zepp.NewClient(
		security.NewSSRFGuard().NewSafeClient(cfg.ZeppTimeout),
		slog.Default(),
		zepp.Options{},
	)
	healthService := health.NewService(
		recordRepo,
		zeppClient,
		health.Credentials{Phone: cfg.ZeppPhone, Password: cfg.ZeppPassword},
		collector,
	)

	// 4. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSync),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		ProjectName: cfg.ProjectName,
		APIPrefix:   cfg.APIPrefix,
		Logger:      slog.Default(),

		HealthChecker:      db,
		MetricsHandler:     metrics.Handler(reg),
		StatusCounter:      collector,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        rateLimiter,
		TokenVerifier:      authService,

		AuthService:   authService,
		HealthService: healthService,
	})

	return router, rateLimiter, nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(endpoint string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
