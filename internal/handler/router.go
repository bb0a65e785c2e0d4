package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/jobboard/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ハンドラー依存
	Session        SessionServiceInterface
	SavedJobs      SavedJobsLister
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RequestID → Logging → SecurityHeaders → CORS → RateLimit → OriginCheck
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "NOT_FOUND", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	healthHandler := NewHealthHandler(deps.HealthChecker, deps.Logger)
	sessionHandler := NewSessionHandler(deps.Session, deps.Logger)
	savedJobsHandler := NewSavedJobsHandler(deps.SavedJobs, deps.Logger)

	r.Get("/health", healthHandler.Check)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Use(middleware.NewOriginCheckMiddleware(deps.CORSAllowedOrigin, deps.Logger))

		r.Route("/api/session", func(r chi.Router) {
			r.Get("/", sessionHandler.Get)
			r.Post("/logout", sessionHandler.Logout)
		})
		r.Get("/api/saved-jobs", savedJobsHandler.List)
	})

	return r
}
