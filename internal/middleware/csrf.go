package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/hitoshi/tabkeep/internal/model"
)

// CSRFHeaderName はクライアントがCSRFトークンを送るリクエストヘッダー。
const CSRFHeaderName = "X-CSRF-Token"

// NewCSRFMiddleware はシンクロナイザートークン方式のCSRF検証ミドルウェアを返す。
// 状態変更メソッド（POST, PUT, PATCH, DELETE）は、セッションに保存された
// 有効なトークンとヘッダーのトークンが一致する場合のみ通す。
// 安全なメソッドは検証しない。
func NewCSRFMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			reason := ""
			session := SessionFromContext(r.Context())
			headerToken := r.Header.Get(CSRFHeaderName)
			switch {
			case session == nil || session.CSRFToken == "":
				reason = "no active token"
			case headerToken == "":
				reason = "missing header token"
			case subtle.ConstantTimeCompare([]byte(session.CSRFToken), []byte(headerToken)) != 1:
				reason = "token mismatch"
			}

			if reason != "" {
				slog.Warn("CSRF validation failed",
					slog.String("reason", reason),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteAPIError(w, model.NewCSRFTokenInvalidError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
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
