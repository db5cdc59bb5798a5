// Package auth はOAuth認証フロー、セッション管理、CSRFトークンの発行を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tabkeep/internal/metrics"
	"github.com/hitoshi/tabkeep/internal/model"
	"github.com/hitoshi/tabkeep/internal/repository"
)

// ErrInvalidProfile はOAuthプロバイダーから受け取ったプロフィールに
// 必須項目（プロバイダーID、メールアドレス）が欠けている場合に返る。
var ErrInvalidProfile = errors.New("invalid oauth profile")

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionTTL time.Duration
}

// AuthInfo は認証状態の問い合わせ結果。
type AuthInfo struct {
	Authenticated bool
	User          *model.User
	CSRFToken     string
	// SessionCleared はユーザーが見つからずセッションを破棄したことを示す。
	SessionCleared bool
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	metrics     metrics.MetricsCollector
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		metrics:     collector,
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、新しいセッションを発行する。
// previousSessionIDが指定された場合、ログイン前のセッションは破棄する。
func (s *Service) HandleCallback(ctx context.Context, code, previousSessionID string) (*model.Session, error) {
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginFailure)
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	return s.SignIn(ctx, userInfo, previousSessionID)
}

// SignIn はプロフィールからユーザーをupsertし、そのユーザーIDだけを持つセッションを作成する。
// 既存ユーザーの場合はメールアドレスと名前のみ更新され、タブは保持される。
func (s *Service) SignIn(ctx context.Context, userInfo *OAuthUserInfo, previousSessionID string) (*model.Session, error) {
	if userInfo == nil || userInfo.ProviderUserID == "" || userInfo.Email == "" {
		s.metrics.RecordLogin(metrics.LoginFailure)
		return nil, ErrInvalidProfile
	}

	now := s.now()
	user, err := s.userRepo.UpsertByGoogleID(ctx, &model.User{
		ID:        uuid.New().String(),
		GoogleID:  userInfo.ProviderUserID,
		Email:     userInfo.Email,
		Name:      userInfo.Name,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginFailure)
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	// セッション固定化対策: ログイン前のセッションIDは引き継がない
	if previousSessionID != "" {
		if err := s.sessionRepo.DeleteByID(ctx, previousSessionID); err != nil {
			slog.Warn("failed to delete previous session",
				slog.String("error", err.Error()),
			)
		}
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginFailure)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.RecordLogin(metrics.LoginSuccess)
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("provider", userInfo.Provider),
	)
	return session, nil
}

// Logout はCSRFトークンを失効させてからセッションを破棄する。
// 内部エラーはログとメトリクスに記録するのみで、呼び出し元には返さない。
func (s *Service) Logout(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}

	if err := s.sessionRepo.SetCSRFToken(ctx, sessionID, ""); err != nil {
		s.metrics.RecordLogoutFailure()
		slog.Error("failed to revoke csrf token on logout",
			slog.String("error", err.Error()),
		)
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		s.metrics.RecordLogoutFailure()
		slog.Error("failed to delete session on logout",
			slog.String("error", err.Error()),
		)
		return
	}

	slog.Info("user logged out")
}

// GetAuthInfo はセッションの認証状態を返す。
// 認証済みでもユーザーが存在しない場合はセッションを破棄し、未認証として扱う。
func (s *Service) GetAuthInfo(ctx context.Context, session *model.Session) (*AuthInfo, error) {
	if !session.IsAuthenticated() {
		return &AuthInfo{}, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		if err := s.sessionRepo.DeleteByID(ctx, session.ID); err != nil {
			slog.Warn("failed to delete orphaned session",
				slog.String("error", err.Error()),
			)
		}
		return &AuthInfo{SessionCleared: true}, nil
	}

	token, err := s.CSRFToken(ctx, session)
	if err != nil {
		return nil, err
	}

	return &AuthInfo{
		Authenticated: true,
		User:          user,
		CSRFToken:     token,
	}, nil
}

// CSRFToken はセッションの有効なCSRFトークンを返す。
// 有効なトークンがない場合は新規に生成して保存する。
func (s *Service) CSRFToken(ctx context.Context, session *model.Session) (string, error) {
	if session.CSRFToken != "" {
		return session.CSRFToken, nil
	}

	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	if err := s.sessionRepo.SetCSRFToken(ctx, session.ID, token); err != nil {
		return "", fmt.Errorf("failed to store csrf token: %w", err)
	}

	session.CSRFToken = token
	return token, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(s.config.SessionTTL),
		TouchedAt: now,
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateToken は暗号的に安全な32バイトのランダム値を16進文字列で返す。
// セッションIDとCSRFトークンの両方に使う。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
