package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tabkeep/internal/middleware"
	"github.com/hitoshi/tabkeep/internal/model"
	"github.com/hitoshi/tabkeep/internal/repository"
	"github.com/hitoshi/tabkeep/internal/tab"
)

// --- インメモリ実装 ---

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	finds    int
}

func (s *memSessionStore) FindByID(ctx context.Context, id string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *sess
	return &copied, nil
}

func (s *memSessionStore) Touch(ctx context.Context, id string, expiresAt, touchedAt time.Time) error {
	return nil
}

type memTabRepo struct {
	mu   sync.Mutex
	tabs []model.Tab
}

func (r *memTabRepo) ListByUser(ctx context.Context, userID string) ([]model.Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Tab{}
	for _, t := range r.tabs {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memTabRepo) FindByID(ctx context.Context, userID, tabID string) (*model.Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tabs {
		if t.ID == tabID && t.UserID == userID {
			found := t
			return &found, nil
		}
	}
	return nil, nil
}

func (r *memTabRepo) CreateWithinLimit(ctx context.Context, t *model.Tab, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, existing := range r.tabs {
		if existing.UserID == t.UserID {
			count++
		}
	}
	if count >= limit {
		return repository.ErrTabLimitReached
	}
	r.tabs = append(r.tabs, *t)
	return nil
}

func (r *memTabRepo) Update(ctx context.Context, t *model.Tab) (*model.Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.tabs {
		if r.tabs[i].ID == t.ID && r.tabs[i].UserID == t.UserID {
			r.tabs[i] = *t
			updated := *t
			return &updated, nil
		}
	}
	return nil, nil
}

func (r *memTabRepo) Delete(ctx context.Context, userID, tabID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.tabs {
		if r.tabs[i].ID == tabID && r.tabs[i].UserID == userID {
			r.tabs = append(r.tabs[:i], r.tabs[i+1:]...)
			return nil
		}
	}
	return nil
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(ctx context.Context) error { return p.err }

// --- テスト環境 ---

type routerEnv struct {
	handler  http.Handler
	sessions *memSessionStore
	tabSvc   *countingTabService
	authSvc  *mockAuthService
}

// countingTabService は実際のタブサービスへの呼び出し回数を数える。
type countingTabService struct {
	*tab.Service
	mu    sync.Mutex
	calls int
}

func (c *countingTabService) count() {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *countingTabService) List(ctx context.Context, userID string) ([]model.Tab, error) {
	c.count()
	return c.Service.List(ctx, userID)
}

func (c *countingTabService) Create(ctx context.Context, userID string, input model.TabInput) (*model.Tab, error) {
	c.count()
	return c.Service.Create(ctx, userID, input)
}

const (
	aliceID = "11111111-1111-1111-1111-111111111111"
	bobID   = "22222222-2222-2222-2222-222222222222"
)

func newRouterEnv(t *testing.T, rateLimiter *middleware.RateLimiter, pinger HealthChecker) *routerEnv {
	t.Helper()
	sessions := &memSessionStore{sessions: map[string]*model.Session{
		"alice-session": {ID: "alice-session", UserID: aliceID, CSRFToken: "alice-token", TouchedAt: time.Now()},
		"bob-session":   {ID: "bob-session", UserID: bobID, CSRFToken: "bob-token", TouchedAt: time.Now()},
	}}
	tabSvc := &countingTabService{
		Service: tab.NewService(&memTabRepo{}, tab.Limits{MaxTabs: 10, TitleCharacterLimit: 50, CharacterLimit: 10000}, nil),
	}
	authSvc := &mockAuthService{}

	h := NewRouter(&RouterDeps{
		HealthChecker:     pinger,
		MetricsHandler:    http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("# metrics")) }),
		SessionStore:      sessions,
		SessionCookie:     &fakeCookie{},
		SessionConfig:     middleware.SessionLoaderConfig{TTL: time.Hour, TouchAfter: time.Hour},
		CORSAllowedOrigin: frontendURL,
		RateLimiter:       rateLimiter,
		AuthService:       authSvc,
		AuthConfig:        AuthHandlerConfig{FrontendURL: frontendURL},
		TabService:        tabSvc,
	})

	return &routerEnv{handler: h, sessions: sessions, tabSvc: tabSvc, authSvc: authSvc}
}

func (e *routerEnv) do(method, path, session, csrf, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if session != "" {
		req.AddCookie(&http.Cookie{Name: "session_id", Value: session})
	}
	if csrf != "" {
		req.Header.Set(middleware.CSRFHeaderName, csrf)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

// --- テスト ---

func TestRouter_TabRoutes_RequireAuthentication(t *testing.T) {
	env := newRouterEnv(t, nil, nil)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/tabs"},
		{http.MethodPost, "/api/tabs"},
		{http.MethodGet, "/api/tabs/" + uuid.NewString()},
		{http.MethodPut, "/api/tabs/" + uuid.NewString()},
		{http.MethodDelete, "/api/tabs/" + uuid.NewString()},
		{http.MethodPost, "/api/auth/logout"},
	}
	for _, rt := range routes {
		w := env.do(rt.method, rt.path, "", "", "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want %d", rt.method, rt.path, w.Code, http.StatusUnauthorized)
		}
	}
	if env.tabSvc.calls != 0 {
		t.Errorf("tab service calls = %d, want 0", env.tabSvc.calls)
	}
	if env.sessions.finds != 0 {
		t.Errorf("session lookups = %d, want 0 without cookie", env.sessions.finds)
	}
}

func TestRouter_UnknownSession_Returns401(t *testing.T) {
	env := newRouterEnv(t, nil, nil)

	w := env.do(http.MethodGet, "/api/tabs", "expired-session", "", "")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRouter_StateChange_RequiresCSRFToken(t *testing.T) {
	env := newRouterEnv(t, nil, nil)

	tests := []struct {
		name string
		csrf string
	}{
		{"missing", ""},
		{"wrong", "not-the-token"},
		{"other user's token", "bob-token"},
	}
	for _, tt := range tests {
		w := env.do(http.MethodPost, "/api/tabs", "alice-session", tt.csrf, `{"title":"x"}`)
		if w.Code != http.StatusForbidden {
			t.Errorf("%s: status = %d, want %d", tt.name, w.Code, http.StatusForbidden)
		}
	}
	if env.tabSvc.calls != 0 {
		t.Errorf("tab service calls = %d, want 0", env.tabSvc.calls)
	}
}

func TestRouter_TabLifecycle(t *testing.T) {
	env := newRouterEnv(t, nil, nil)

	// 作成
	w := env.do(http.MethodPost, "/api/tabs", "alice-session", "alice-token", `{"title":"Notes","content":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var created tabResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	// 取得
	w = env.do(http.MethodGet, "/api/tabs/"+created.ID, "alice-session", "", "")
	var got tabResponse
	json.Unmarshal(w.Body.Bytes(), &got)
	if got != created {
		t.Errorf("get = %+v, want %+v", got, created)
	}

	// 他ユーザーからは見えない
	for _, method := range []string{http.MethodGet, http.MethodPut} {
		w = env.do(method, "/api/tabs/"+created.ID, "bob-session", "bob-token", `{"title":"stolen"}`)
		if w.Code != http.StatusNotFound {
			t.Errorf("bob %s: status = %d, want %d", method, w.Code, http.StatusNotFound)
		}
	}
	w = env.do(http.MethodDelete, "/api/tabs/"+created.ID, "bob-session", "bob-token", "")
	if w.Code != http.StatusOK {
		t.Errorf("bob delete: status = %d, want %d", w.Code, http.StatusOK)
	}
	w = env.do(http.MethodGet, "/api/tabs", "bob-session", "", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("bob list = %s, want []", w.Body.String())
	}

	// 所有者の削除は冪等
	for i := 0; i < 2; i++ {
		w = env.do(http.MethodDelete, "/api/tabs/"+created.ID, "alice-session", "alice-token", "")
		if w.Code != http.StatusOK {
			t.Errorf("delete #%d: status = %d", i, w.Code)
		}
	}
	w = env.do(http.MethodGet, "/api/tabs/"+created.ID, "alice-session", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRouter_TabLimitAndValidation(t *testing.T) {
	env := newRouterEnv(t, nil, nil)

	w := env.do(http.MethodPost, "/api/tabs", "alice-session", "alice-token", `{"title":"`+strings.Repeat("a", 51)+`"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("long title: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeError(t, w); len(body.Details) != 1 || body.Details[0].Field != "title" {
		t.Errorf("details = %+v, want title violation", body.Details)
	}

	w = env.do(http.MethodPost, "/api/tabs", "alice-session", "alice-token", `{"title":"t","content":"a\u0000b"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("NUL content: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeError(t, w); body.Code != model.ErrCodeValidationFailed || len(body.Details) != 1 || body.Details[0].Field != "content" {
		t.Errorf("NUL content: code = %q details = %+v, want content violation", body.Code, body.Details)
	}

	for i := 0; i < 10; i++ {
		if w := env.do(http.MethodPost, "/api/tabs", "alice-session", "alice-token", "{}"); w.Code != http.StatusOK {
			t.Fatalf("create #%d: status = %d", i, w.Code)
		}
	}
	w = env.do(http.MethodPost, "/api/tabs", "alice-session", "alice-token", "{}")
	if w.Code != http.StatusBadRequest {
		t.Errorf("11th create: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeError(t, w); body.Code != model.ErrCodeTabLimitExceeded {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeTabLimitExceeded)
	}
}

func TestRouter_Logout_WithCSRF(t *testing.T) {
	env := newRouterEnv(t, nil, nil)

	w := env.do(http.MethodPost, "/api/auth/logout", "alice-session", "alice-token", "")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(env.authSvc.loggedOutSession) != 1 || env.authSvc.loggedOutSession[0] != "alice-session" {
		t.Errorf("logged out = %v", env.authSvc.loggedOutSession)
	}
}

func TestRouter_AuthUser_IsPublic(t *testing.T) {
	env := newRouterEnv(t, nil, nil)

	w := env.do(http.MethodGet, "/api/auth/user", "", "", "")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_LoginRedirect(t *testing.T) {
	env := newRouterEnv(t, nil, nil)

	w := env.do(http.MethodGet, "/auth/google", "", "", "")

	if w.Code != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
}

func TestRouter_Preflight(t *testing.T) {
	env := newRouterEnv(t, nil, nil)

	w := env.do(http.MethodOptions, "/api/tabs", "", "", "")

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != frontendURL {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestRouter_SecurityHeaders(t *testing.T) {
	env := newRouterEnv(t, nil, nil)

	w := env.do(http.MethodGet, "/api/auth/user", "", "", "")

	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on API responses")
	}
}

func TestRouter_Health(t *testing.T) {
	ok := newRouterEnv(t, nil, stubPinger{})
	if w := ok.do(http.MethodGet, "/health", "", "", ""); w.Code != http.StatusOK {
		t.Errorf("healthy: status = %d, want %d", w.Code, http.StatusOK)
	}

	down := newRouterEnv(t, nil, stubPinger{err: errors.New("refused")})
	if w := down.do(http.MethodGet, "/health", "", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy: status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestRouter_Metrics(t *testing.T) {
	env := newRouterEnv(t, nil, nil)

	w := env.do(http.MethodGet, "/metrics", "", "", "")

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "# metrics") {
		t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestRouter_RateLimit(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{Requests: 2, Window: time.Minute, CleanupInterval: time.Minute})
	defer rl.Stop()
	env := newRouterEnv(t, rl, nil)

	for i := 0; i < 2; i++ {
		env.do(http.MethodGet, "/api/auth/user", "", "", "")
	}
	w := env.do(http.MethodGet, "/api/auth/user", "", "", "")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	// ヘルスチェックはレート制限の対象外
	if w := env.do(http.MethodGet, "/health", "", "", ""); w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
}
