// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// GoogleIDとEmailはそれぞれ全ユーザーで一意。
type User struct {
	ID        string
	GoogleID  string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session はブラウザとCookieで紐付くサーバーサイドのセッションを表す。
// 保持するのはユーザーIDとCSRFトークンのみで、ユーザー情報はキャッシュしない。
type Session struct {
	ID        string
	UserID    string
	CSRFToken string // 空文字は有効なトークンがないことを示す
	ExpiresAt time.Time
	TouchedAt time.Time
	CreatedAt time.Time
}

// IsAuthenticated はセッションがユーザーに紐付いているかを返す。
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.UserID != ""
}
