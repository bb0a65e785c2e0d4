// Package handler はコンパニオンサーバーのHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/jobboard/internal/model"
)

// SessionServiceInterface はセッションハンドラーが必要とするサービスインターフェース。
type SessionServiceInterface interface {
	State() model.SessionState
	Logout(ctx context.Context) error
}

// SavedJobsLister はローカルに保存された求人一覧を返す。
type SavedJobsLister interface {
	List(ctx context.Context) ([]model.Payload, error)
}

// HealthChecker は依存先の疎通を確認する。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, logger *slog.Logger, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
