// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/tabkeep/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// sessionContextKey はリクエストコンテキストにセッションを格納するためのキー。
	sessionContextKey = contextKey("session")
	// userIDHolderKey はログミドルウェアが内側で確定したユーザーIDを受け取るためのキー。
	userIDHolderKey = contextKey("user_id_holder")
)

// userIDHolder は内側のミドルウェアで注入されたユーザーIDを外側に伝える。
type userIDHolder struct {
	userID string
}

func contextWithUserIDHolder(ctx context.Context, h *userIDHolder) context.Context {
	return context.WithValue(ctx, userIDHolderKey, h)
}

// SessionStore はセッションローダーが使うストアの操作。
// repository.SessionRepositoryの部分集合として定義する。
type SessionStore interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	Touch(ctx context.Context, id string, expiresAt, touchedAt time.Time) error
}

// SessionCookie は署名付きセッションCookieの読み書き。
type SessionCookie interface {
	Read(r *http.Request) (string, bool)
	Write(w http.ResponseWriter, sessionID string) error
	Clear(w http.ResponseWriter)
}

// SessionLoaderConfig はセッションローダーの設定。
type SessionLoaderConfig struct {
	// TTL は延長時に設定する残り有効期間。
	TTL time.Duration
	// TouchAfter は前回の延長からこの時間が経過するまで延長を書き込まない。
	TouchAfter time.Duration
}

// NewSessionLoader は署名付きCookieからセッションを読み込み、
// セッションとユーザーIDをリクエストコンテキストに注入するミドルウェアを返す。
// Cookieがない、署名が不正、期限切れの場合は匿名リクエストとして次へ進む。
// 認証の強制はRequireAuthが行う。
func NewSessionLoader(store SessionStore, cookie SessionCookie, config SessionLoaderConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, ok := cookie.Read(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			session, err := store.FindByID(r.Context(), sessionID)
			if err != nil {
				slog.Error("failed to find session",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if session == nil {
				// 期限切れ・削除済みのセッションを指すCookieは破棄する
				cookie.Clear(w)
				next.ServeHTTP(w, r)
				return
			}

			now := time.Now()
			if now.Sub(session.TouchedAt) >= config.TouchAfter {
				expiresAt := now.Add(config.TTL)
				if err := store.Touch(r.Context(), session.ID, expiresAt, now); err != nil {
					slog.Warn("failed to touch session",
						slog.String("error", err.Error()),
					)
				} else {
					session.ExpiresAt = expiresAt
					session.TouchedAt = now
					if err := cookie.Write(w, session.ID); err != nil {
						slog.Warn("failed to refresh session cookie",
							slog.String("error", err.Error()),
						)
					}
				}
			}

			ctx := ContextWithSession(r.Context(), session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth はコンテキストにユーザーIDがあるリクエストのみを通す。
// ユーザーテーブルは参照しない。未認証の場合は401を返しハンドラーを呼ばない。
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := UserIDFromContext(r.Context()); err != nil {
			WriteAPIError(w, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
// 匿名リクエストではnilを返す。
func SessionFromContext(ctx context.Context) *model.Session {
	session, _ := ctx.Value(sessionContextKey).(*model.Session)
	return session
}

// ContextWithSession はコンテキストにセッションを注入する。
// 認証済みセッションの場合はユーザーIDも注入する。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	ctx = context.WithValue(ctx, sessionContextKey, session)
	if session.IsAuthenticated() {
		ctx = ContextWithUserID(ctx, session.UserID)
	}
	return ctx
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションローダーを通過した認証済みリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if h, ok := ctx.Value(userIDHolderKey).(*userIDHolder); ok {
		h.userID = userID
	}
	return context.WithValue(ctx, userIDContextKey, userID)
}
