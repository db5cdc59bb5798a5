// Package tab はユーザーが所有するタブのドメインロジックを提供する。
package tab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/tabkeep/internal/metrics"
	"github.com/hitoshi/tabkeep/internal/model"
	"github.com/hitoshi/tabkeep/internal/repository"
)

// 操作種別（メトリクスのラベル）
const (
	opList   = "list"
	opGet    = "get"
	opCreate = "create"
	opUpdate = "update"
	opDelete = "delete"
)

// Limits はタブの件数と文字数の上限。文字数はUnicodeコードポイントで数える。
type Limits struct {
	MaxTabs             int
	TitleCharacterLimit int
	CharacterLimit      int
}

// Service はタブCRUDのサービス層。
// すべての操作は認証済みユーザーIDを所有者としてスコープされる。
type Service struct {
	repo    repository.TabRepository
	limits  Limits
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.TabRepository, limits Limits, collector metrics.MetricsCollector) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		repo:    repo,
		limits:  limits,
		metrics: collector,
		now:     time.Now,
	}
}

// List はユーザーのタブを作成順で返す。ユーザーが存在しない場合は空スライスを返す。
func (s *Service) List(ctx context.Context, userID string) ([]model.Tab, error) {
	tabs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		s.record(opList, err)
		return nil, fmt.Errorf("タブ一覧の取得に失敗しました: %w", err)
	}
	s.record(opList, nil)
	if tabs == nil {
		tabs = []model.Tab{}
	}
	return tabs, nil
}

// Get は所有者のタブを1件返す。他ユーザーのタブや不正なIDは見つからない扱い。
func (s *Service) Get(ctx context.Context, userID, tabID string) (*model.Tab, error) {
	t, err := s.repo.FindByID(ctx, userID, tabID)
	if err != nil {
		s.record(opGet, err)
		return nil, fmt.Errorf("タブの取得に失敗しました: %w", err)
	}
	if t == nil {
		err := model.NewTabNotFoundError()
		s.record(opGet, err)
		return nil, err
	}
	s.record(opGet, nil)
	return t, nil
}

// Create は入力を検証し、件数上限内であればタブを末尾に追加する。
func (s *Service) Create(ctx context.Context, userID string, input model.TabInput) (*model.Tab, error) {
	if err := s.Validate(input); err != nil {
		s.record(opCreate, err)
		return nil, err
	}

	t := &model.Tab{
		ID:      uuid.New().String(),
		UserID:  userID,
		Title:   input.Title,
		Content: input.Content,
		Updated: s.now(),
	}

	err := s.repo.CreateWithinLimit(ctx, t, s.limits.MaxTabs)
	switch {
	case errors.Is(err, repository.ErrTabLimitReached):
		err = model.NewTabLimitError(s.limits.MaxTabs)
		s.record(opCreate, err)
		return nil, err
	case errors.Is(err, repository.ErrOwnerNotFound):
		err = model.NewUserNotFoundError()
		s.record(opCreate, err)
		return nil, err
	case err != nil:
		s.record(opCreate, err)
		return nil, fmt.Errorf("タブの作成に失敗しました: %w", err)
	}

	s.record(opCreate, nil)
	return t, nil
}

// Update は所有者のタブのタイトルと本文を置き換え、更新日時を現在時刻にする。
func (s *Service) Update(ctx context.Context, userID, tabID string, input model.TabInput) (*model.Tab, error) {
	if err := s.Validate(input); err != nil {
		s.record(opUpdate, err)
		return nil, err
	}

	updated, err := s.repo.Update(ctx, &model.Tab{
		ID:      tabID,
		UserID:  userID,
		Title:   input.Title,
		Content: input.Content,
		Updated: s.now(),
	})
	if err != nil {
		s.record(opUpdate, err)
		return nil, fmt.Errorf("タブの更新に失敗しました: %w", err)
	}
	if updated == nil {
		err := model.NewTabNotFoundError()
		s.record(opUpdate, err)
		return nil, err
	}

	s.record(opUpdate, nil)
	return updated, nil
}

// Delete は所有者のタブを削除する。該当タブがなくても成功として扱う。
func (s *Service) Delete(ctx context.Context, userID, tabID string) error {
	if err := s.repo.Delete(ctx, userID, tabID); err != nil {
		s.record(opDelete, err)
		return fmt.Errorf("タブの削除に失敗しました: %w", err)
	}
	s.record(opDelete, nil)
	return nil
}

// Validate はタイトルと本文を検証し、違反したフィールドをすべて返す。
// 文字数の上限に加え、PostgreSQLのTEXTに格納できないNUL文字を拒否する。
func (s *Service) Validate(input model.TabInput) error {
	var violations []model.FieldViolation

	if v := checkField("title", input.Title, s.limits.TitleCharacterLimit); v != nil {
		violations = append(violations, *v)
	}
	if v := checkField("content", input.Content, s.limits.CharacterLimit); v != nil {
		violations = append(violations, *v)
	}

	if len(violations) > 0 {
		return model.NewValidationError(violations)
	}
	return nil
}

// checkField は1フィールド分の違反を返す。違反がなければnil。
func checkField(field, value string, limit int) *model.FieldViolation {
	if utf8.RuneCountInString(value) > limit {
		return &model.FieldViolation{
			Field:   field,
			Limit:   limit,
			Message: fmt.Sprintf("%s must be at most %d characters", field, limit),
		}
	}
	if strings.ContainsRune(value, 0) {
		return &model.FieldViolation{
			Field:   field,
			Limit:   limit,
			Message: fmt.Sprintf("%s must not contain NUL characters", field),
		}
	}
	return nil
}

// record は操作結果をメトリクスに記録する。APIErrorはコードを、その他は"error"を結果ラベルにする。
func (s *Service) record(op string, err error) {
	result := "ok"
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			result = apiErr.Code
		} else {
			result = "error"
		}
	}
	s.metrics.RecordTabOperation(op, result)
}
