// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/tabkeep/internal/model"
)

var (
	// ErrOwnerNotFound はタブの所有者となるユーザーが存在しない場合に返る。
	ErrOwnerNotFound = errors.New("owner not found")
	// ErrTabLimitReached はユーザーのタブ数が上限に達している場合に返る。
	ErrTabLimitReached = errors.New("tab limit reached")
	// ErrEmailTaken は別のGoogleアカウントが同じメールアドレスで登録済みの場合に返る。
	ErrEmailTaken = errors.New("email already registered")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// UpsertByGoogleID はgoogle_idをキーにユーザーを作成または更新する。
	// 既存ユーザーの場合はemailとnameのみを更新し、所有するタブには触れない。
	UpsertByGoogleID(ctx context.Context, user *model.User) (*model.User, error)
}

// TabRepository はユーザーが所有するタブの永続化インターフェース。
// すべての操作は所有者のユーザーIDでスコープされる。
type TabRepository interface {
	// ListByUser はユーザーのタブを作成順で返す。
	ListByUser(ctx context.Context, userID string) ([]model.Tab, error)

	// FindByID は所有者とタブIDが一致するタブを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID, tabID string) (*model.Tab, error)

	// CreateWithinLimit は所有者のタブ数がlimit未満の場合に限りタブを追加する。
	// 件数確認と追加は同一トランザクションで所有者行をロックして行う。
	// 上限到達時はErrTabLimitReached、所有者不在時はErrOwnerNotFoundを返す。
	CreateWithinLimit(ctx context.Context, tab *model.Tab, limit int) error

	// Update は所有者とタブIDが一致するタブのタイトル・本文・更新日時を置き換える。
	// 一致するタブがない場合はnilを返す。
	Update(ctx context.Context, tab *model.Tab) (*model.Tab, error)

	// Delete は所有者とタブIDが一致するタブを削除する。
	// 一致するタブがなくてもエラーにしない。
	Delete(ctx context.Context, userID, tabID string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Touch はセッションの有効期限を延長する。
	Touch(ctx context.Context, id string, expiresAt, touchedAt time.Time) error
	// SetCSRFToken はセッションのCSRFトークンを設定する。空文字はトークンの失効を表す。
	SetCSRFToken(ctx context.Context, id, token string) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}
