package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/tabkeep/internal/model"
)

// PostgresTabRepo はPostgreSQLを使用したタブリポジトリ。
type PostgresTabRepo struct {
	db *sql.DB
}

// NewPostgresTabRepo はPostgresTabRepoを生成する。
func NewPostgresTabRepo(db *sql.DB) *PostgresTabRepo {
	return &PostgresTabRepo{db: db}
}

// ListByUser はユーザーのタブを作成順（seq昇順）で返す。
func (r *PostgresTabRepo) ListByUser(ctx context.Context, userID string) ([]model.Tab, error) {
	if !isUUID(userID) {
		return []model.Tab{}, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, title, content, updated_at
		 FROM tabs
		 WHERE user_id = $1
		 ORDER BY seq`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tabs: %w", err)
	}
	defer rows.Close()

	tabs := []model.Tab{}
	for rows.Next() {
		var t model.Tab
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Content, &t.Updated); err != nil {
			return nil, fmt.Errorf("failed to scan tab: %w", err)
		}
		tabs = append(tabs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tabs: %w", err)
	}

	return tabs, nil
}

// FindByID は所有者とタブIDが一致するタブを取得する。見つからない場合はnilを返す。
func (r *PostgresTabRepo) FindByID(ctx context.Context, userID, tabID string) (*model.Tab, error) {
	if !isUUID(userID) || !isUUID(tabID) {
		return nil, nil
	}

	t := &model.Tab{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, content, updated_at
		 FROM tabs
		 WHERE id = $1 AND user_id = $2`,
		tabID, userID,
	).Scan(&t.ID, &t.UserID, &t.Title, &t.Content, &t.Updated)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tab: %w", err)
	}

	return t, nil
}

// CreateWithinLimit は所有者のタブ数がlimit未満の場合に限りタブを追加する。
// users行をFOR UPDATEでロックしてから件数を数えるため、
// 同一ユーザーの同時作成でも上限を超えない。
func (r *PostgresTabRepo) CreateWithinLimit(ctx context.Context, tab *model.Tab, limit int) error {
	if !isUUID(tab.UserID) {
		return ErrOwnerNotFound
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 所有者行をロック
	var ownerID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM users WHERE id = $1 FOR UPDATE`,
		tab.UserID,
	).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOwnerNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock owner: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT count(*) FROM tabs WHERE user_id = $1`,
		tab.UserID,
	).Scan(&count); err != nil {
		return fmt.Errorf("failed to count tabs: %w", err)
	}
	if count >= limit {
		return ErrTabLimitReached
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tabs (id, user_id, title, content, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		tab.ID, tab.UserID, tab.Title, tab.Content, tab.Updated,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tab: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Update は所有者とタブIDが一致するタブを更新する。一致するタブがない場合はnilを返す。
func (r *PostgresTabRepo) Update(ctx context.Context, tab *model.Tab) (*model.Tab, error) {
	if !isUUID(tab.UserID) || !isUUID(tab.ID) {
		return nil, nil
	}

	t := &model.Tab{}
	err := r.db.QueryRowContext(ctx,
		`UPDATE tabs
		 SET title = $3, content = $4, updated_at = $5
		 WHERE id = $1 AND user_id = $2
		 RETURNING id, user_id, title, content, updated_at`,
		tab.ID, tab.UserID, tab.Title, tab.Content, tab.Updated,
	).Scan(&t.ID, &t.UserID, &t.Title, &t.Content, &t.Updated)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update tab: %w", err)
	}

	return t, nil
}

// Delete は所有者とタブIDが一致するタブを削除する。
func (r *PostgresTabRepo) Delete(ctx context.Context, userID, tabID string) error {
	if !isUUID(userID) || !isUUID(tabID) {
		return nil
	}

	_, err := r.db.ExecContext(ctx,
		`DELETE FROM tabs WHERE id = $1 AND user_id = $2`,
		tabID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete tab: %w", err)
	}
	return nil
}

// isUUID はUUID列に渡せる値かどうかを判定する。
// 不正な形式をDBに渡すとキャスト失敗で500になるため、事前に弾く。
func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// compile-time interface check
var _ TabRepository = (*PostgresTabRepo)(nil)
