package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/campus/internal/guard"
	"github.com/hitoshi/campus/internal/identity"
	"github.com/hitoshi/campus/internal/metrics"
	"github.com/hitoshi/campus/internal/middleware"
)

// HealthChecker はDB接続の死活確認を行う。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	SessionResolver   middleware.SessionResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthProvider identity.Provider
	AuthConfig   AuthHandlerConfig

	// superadmin関数
	StatusService    StatusChecker
	BootstrapService Bootstrapper

	// アクセスガード
	GuardTargets guard.Targets

	// 運用
	HealthChecker HealthChecker
	Metrics       *metrics.Collector
	Gatherer      prometheus.Gatherer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → StatusMetrics → Logging → Recovery → SecurityHeaders → Authenticate
//
// /functions/v1 は全オリジン、/api はCORS_ALLOWED_ORIGINのCORSを個別に適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RealIP)
	if deps.Metrics != nil {
		r.Use(middleware.NewStatusMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewAuthenticateMiddleware(deps.SessionResolver))

	var bootstrapLimit, signInLimit func(http.Handler) http.Handler
	if deps.RateLimiter != nil {
		bootstrapLimit = deps.RateLimiter.BootstrapMiddleware()
		signInLimit = deps.RateLimiter.SignInMiddleware()
	}

	// --- 運用 ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- superadmin関数 ---
	superadminHandler := NewSuperadminHandler(deps.StatusService, deps.BootstrapService, logger)
	r.Mount("/functions/v1", SetupFunctionRoutes(superadminHandler, bootstrapLimit))

	// --- API ---
	authHandler := NewAuthHandler(deps.AuthProvider, deps.AuthConfig, logger)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

		r.Get("/session", GetSession)

		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if signInLimit != nil {
					r.Use(signInLimit)
				}
				r.Post("/signin", authHandler.SignIn)
				r.Post("/signup", authHandler.SignUp)
			})
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/signout", authHandler.SignOut)
		})
	})

	// --- 保護されたページ ---
	var observer guard.DecisionObserver
	if deps.Metrics != nil {
		observer = deps.Metrics
	}
	for _, route := range guard.Routes() {
		r.With(guard.Middleware(route.Path, route.Requirement, deps.GuardTargets, observer)).
			Get(route.Path, PageHandler(route.Path))
	}

	return r
}

// healthHandler はDB接続を確認するヘルスチェックハンドラーを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
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
