package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/jobboard/internal/middleware"
	"github.com/hitoshi/jobboard/internal/model"
)

// SavedJobsHandler はローカル保存求人のHTTPハンドラー。
type SavedJobsHandler struct {
	jobs   SavedJobsLister
	logger *slog.Logger
}

// NewSavedJobsHandler はSavedJobsHandlerを生成する。
func NewSavedJobsHandler(jobs SavedJobsLister, logger *slog.Logger) *SavedJobsHandler {
	return &SavedJobsHandler{jobs: jobs, logger: logger}
}

// List はローカルに保存された求人の配列をそのまま返す。
// GET /api/saved-jobs
func (h *SavedJobsHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list saved jobs",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		middleware.WriteInternalServerError(w)
		return
	}
	if jobs == nil {
		jobs = []model.Payload{}
	}
	writeJSON(w, h.logger, http.StatusOK, jobs)
}
