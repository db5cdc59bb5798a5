// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/hitoshi/tabkeep/internal/auth"
	"github.com/hitoshi/tabkeep/internal/middleware"
	"github.com/hitoshi/tabkeep/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code, previousSessionID string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string)
	GetAuthInfo(ctx context.Context, session *model.Session) (*auth.AuthInfo, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// FrontendURL はログイン成功・失敗後のリダイレクト先。
	FrontendURL  string
	CookieSecure bool
}

// AuthHandler はOAuth認証とセッション関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	cookie  middleware.SessionCookie
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, cookie middleware.SessionCookie, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		cookie:  cookie,
		config:  config,
	}
}

// authUserResponse は認証情報レスポンスのユーザー部分。
type authUserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// authInfoResponse はGET /api/auth/userのレスポンス。
// 未認証の場合、userとcsrfTokenはnullになる。
type authInfoResponse struct {
	IsAuthenticated bool              `json:"isAuthenticated"`
	User            *authUserResponse `json:"user"`
	CSRFToken       *string           `json:"csrfToken"`
}

// logoutResponse はログアウトのレスポンス。
type logoutResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（ログインCSRF対策）
	// Googleからのトップレベル遷移で送られるようSameSite=Laxにする
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/google",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// 成功時はセッションCookieを設定し、成功・失敗いずれもFrontendURLへリダイレクトする。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	h.clearStateCookie(w)

	if err != nil || state == "" ||
		subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		slog.Warn("oauth state mismatch")
		h.redirectToFrontend(w, r)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		slog.Warn("oauth callback without code",
			slog.String("error", r.URL.Query().Get("error")),
		)
		h.redirectToFrontend(w, r)
		return
	}

	previousSessionID, _ := h.cookie.Read(r)

	session, err := h.service.HandleCallback(r.Context(), code, previousSessionID)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		h.redirectToFrontend(w, r)
		return
	}

	if err := h.cookie.Write(w, session.ID); err != nil {
		slog.Error("failed to write session cookie", slog.String("error", err.Error()))
	}

	h.redirectToFrontend(w, r)
}

// User は現在の認証状態を返す。認証済みの場合はCSRFトークンを発行する。
// GET /api/auth/user
func (h *AuthHandler) User(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.GetAuthInfo(r.Context(), middleware.SessionFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if info.SessionCleared {
		h.cookie.Clear(w)
	}

	resp := authInfoResponse{IsAuthenticated: info.Authenticated}
	if info.Authenticated {
		resp.User = &authUserResponse{
			ID:    info.User.ID,
			Email: info.User.Email,
			Name:  info.User.Name,
		}
		resp.CSRFToken = &info.CSRFToken
	}

	writeJSON(w, http.StatusOK, resp)
}

// Logout はCSRFトークンを失効させ、セッションを破棄する。
// 内部エラーはサービス側で記録され、レスポンスは常に成功となる。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if session := middleware.SessionFromContext(r.Context()); session != nil {
		h.service.Logout(r.Context(), session.ID)
	}

	h.cookie.Clear(w)

	writeJSON(w, http.StatusOK, logoutResponse{
		Success: true,
		Message: "Logged out successfully",
	})
}

func (h *AuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth/google",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) redirectToFrontend(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.config.FrontendURL, http.StatusTemporaryRedirect)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
