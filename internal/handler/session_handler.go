package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/jobboard/internal/middleware"
	"github.com/hitoshi/jobboard/internal/model"
)

// sessionResponse はGET /api/sessionのレスポンス。
type sessionResponse struct {
	SignedIn  bool             `json:"signed_in"`
	Loading   bool             `json:"loading"`
	Principal *model.Principal `json:"principal"`
}

// logoutResponse はPOST /api/session/logoutのレスポンス。
// リモートのサインアウトが失敗してもローカルのセッションは解除されるため、
// 失敗理由はwarningとして返す。
type logoutResponse struct {
	SignedIn bool   `json:"signed_in"`
	Warning  string `json:"warning,omitempty"`
}

// SessionHandler はセッション状態のHTTPハンドラー。
type SessionHandler struct {
	service SessionServiceInterface
	logger  *slog.Logger
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(service SessionServiceInterface, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{service: service, logger: logger}
}

// Get は現在のセッション状態を返す。
// GET /api/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	state := h.service.State()
	writeJSON(w, h.logger, http.StatusOK, sessionResponse{
		SignedIn:  state.SignedIn(),
		Loading:   state.Loading,
		Principal: state.Principal,
	})
}

// Logout はサインアウトする。
// POST /api/session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	resp := logoutResponse{}
	if err := h.service.Logout(r.Context()); err != nil {
		h.logger.Warn("logout completed with remote failure",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		resp.Warning = err.Error()
	}
	resp.SignedIn = h.service.State().SignedIn()
	writeJSON(w, h.logger, http.StatusOK, resp)
}
