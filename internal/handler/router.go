package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/healthsync/internal/middleware"
)

// HealthChecker は依存先（DB）の疎通確認を行う。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// healthCheckTimeout は/healthでのDB疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	ProjectName string
	APIPrefix   string
	Logger      *slog.Logger

	// ミドルウェア依存
	HealthChecker      HealthChecker
	MetricsHandler     http.Handler
	StatusCounter      middleware.StatusCounter
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	TokenVerifier      middleware.TokenVerifier

	// サービス
	AuthService   AuthServiceInterface
	HealthService HealthServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Metrics → Recovery → SecurityHeaders → CORS
//	→ (認証が必要なルートのみ) Identity → RateLimit(General) [→ RateLimit(Sync)]
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.StatusCounter != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusCounter))
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

	authHandler := NewAuthHandler(deps.AuthService)
	healthHandler := NewHealthHandler(deps.HealthService)
	requireIdentity := middleware.NewIdentityMiddleware(middleware.NewBearerTokenResolver(deps.TokenVerifier))

	// --- 認証不要のルート ---

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": deps.ProjectName + " API"})
	})
	r.Get("/health", healthCheck(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route(deps.APIPrefix, func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", authHandler.Signup)
			r.Post("/login", authHandler.Login)

			r.With(requireIdentity, deps.RateLimiter.GeneralMiddleware()).Get("/me", authHandler.Me)
		})

		// --- 認証が必要なルート ---
		// ミドルウェアスタック: Identity → RateLimit(General)
		r.Route("/health-data", func(r chi.Router) {
			r.Use(requireIdentity)
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Post("/", healthHandler.CreateRecord)
			r.Get("/", healthHandler.ListRecords)
			r.Get("/summary", healthHandler.Summary)

			// Zepp同期は専用のレート制限を追加
			r.With(deps.RateLimiter.SyncMiddleware()).Post("/sync-zepp", healthHandler.SyncZepp)
		})
	})

	return r
}

// healthCheck はDB疎通を確認するヘルスチェックハンドラーを返す。
func healthCheck(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()

			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
