// Package session はセッションIDを運ぶ署名付きCookieを扱う。
package session

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

// CookieName はセッションCookieの名前。
const CookieName = "session_id"

// CookieConfig はセッションCookieの設定。
type CookieConfig struct {
	Secret string
	MaxAge time.Duration
	Secure bool
}

// Cookie はセッションIDを署名付きで読み書きする。
// Cookieの値はHMAC署名されるため、改ざんされたIDは読み取り時に拒否される。
type Cookie struct {
	codec  *securecookie.SecureCookie
	maxAge time.Duration
	secure bool
}

// NewCookie はCookieを生成する。
func NewCookie(config CookieConfig) *Cookie {
	codec := securecookie.New([]byte(config.Secret), nil)
	codec.MaxAge(int(config.MaxAge.Seconds()))
	return &Cookie{
		codec:  codec,
		maxAge: config.MaxAge,
		secure: config.Secure,
	}
}

// Write はセッションIDを署名してCookieに設定する。
func (c *Cookie) Write(w http.ResponseWriter, sessionID string) error {
	encoded, err := c.codec.Encode(CookieName, sessionID)
	if err != nil {
		return fmt.Errorf("failed to encode session cookie: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(c.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

// Read はリクエストのCookieからセッションIDを取り出す。
// Cookieがない、または署名が不正な場合はfalseを返す。
func (c *Cookie) Read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}

	var sessionID string
	if err := c.codec.Decode(CookieName, cookie.Value, &sessionID); err != nil {
		return "", false
	}
	if sessionID == "" {
		return "", false
	}
	return sessionID, true
}

// Clear はセッションCookieを削除する。
func (c *Cookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
}
