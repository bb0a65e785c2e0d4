package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/jobboard/internal/middleware"
)

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	checker HealthChecker
	logger  *slog.Logger
}

// NewHealthHandler はHealthHandlerを生成する。checkerがnilの場合は常にokを返す。
func NewHealthHandler(checker HealthChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checker: checker, logger: logger}
}

// Check は依存先の疎通を確認して結果を返す。
// GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if h.checker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := h.checker.PingContext(ctx); err != nil {
			h.logger.Error("health check failed", slog.String("error", err.Error()))
			middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, "UNAVAILABLE", "storage unreachable")
			return
		}
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}
