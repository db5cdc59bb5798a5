package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/tabkeep/internal/metrics"
	"github.com/hitoshi/tabkeep/internal/middleware"
)

// HealthChecker はヘルスチェック用のDB疎通確認インターフェース。
// *sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger         *slog.Logger
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler
	HealthChecker  HealthChecker

	// セッション
	SessionStore  middleware.SessionStore
	SessionCookie middleware.SessionCookie
	SessionConfig middleware.SessionLoaderConfig

	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// タブ
	TabService TabServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RealIP → Logging → SecurityHeaders → CORS → RateLimit → SessionLoader
//
// /api/auth/logoutと/api/tabs配下はさらにRequireAuth → CSRFを通る。
// /healthと/metricsはレート制限とセッション読み込みの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	// プリフライトはルートに一致しないため、CORSはトップレベルに置く
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.SessionCookie, deps.AuthConfig)
	tabHandler := NewTabHandler(deps.TabService)

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Use(middleware.NewSessionLoader(deps.SessionStore, deps.SessionCookie, deps.SessionConfig))

		// OAuthフロー
		r.Route("/auth/google", func(r chi.Router) {
			r.Get("/", authHandler.Login)
			r.Get("/callback", authHandler.Callback)
		})

		r.Get("/api/auth/user", authHandler.User)

		// --- 認証とCSRF検証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Use(middleware.NewCSRFMiddleware())

			r.Post("/api/auth/logout", authHandler.Logout)

			r.Route("/api/tabs", func(r chi.Router) {
				r.Get("/", tabHandler.List)
				r.Post("/", tabHandler.Create)
				r.Get("/{id}", tabHandler.Get)
				r.Put("/{id}", tabHandler.Update)
				r.Delete("/{id}", tabHandler.Delete)
			})
		})
	})

	return r
}

// healthHandler はDBへの疎通を確認し、結果を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
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
