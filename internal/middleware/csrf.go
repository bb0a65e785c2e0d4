package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
)

// NewOriginCheckMiddleware は状態変更メソッドのクロスサイトリクエストを拒否するミドルウェアを返す。
// Originヘッダー（無ければReferer）が許可オリジンと一致しない場合は403を返す。
// どちらも無いリクエスト（CLIなどブラウザ以外）は通す。
func NewOriginCheckMiddleware(allowedOrigin string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			origin := requestOrigin(r)
			if origin != "" && origin != allowedOrigin {
				logger.Warn("cross-site request rejected",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("origin", origin),
				)
				WriteErrorResponse(w, http.StatusForbidden, "FORBIDDEN_ORIGIN", "cross-site request rejected")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requestOrigin はOrigin、無ければRefererのscheme://hostを返す。
func requestOrigin(r *http.Request) string {
	if o := r.Header.Get("Origin"); o != "" {
		return o
	}
	ref := r.Header.Get("Referer")
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ref
	}
	return u.Scheme + "://" + u.Host
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
