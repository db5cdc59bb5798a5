package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tabkeep/internal/middleware"
	"github.com/hitoshi/tabkeep/internal/model"
)

// --- モック定義 ---

type mockTabService struct {
	listFn   func(ctx context.Context, userID string) ([]model.Tab, error)
	getFn    func(ctx context.Context, userID, tabID string) (*model.Tab, error)
	createFn func(ctx context.Context, userID string, input model.TabInput) (*model.Tab, error)
	updateFn func(ctx context.Context, userID, tabID string, input model.TabInput) (*model.Tab, error)
	deleteFn func(ctx context.Context, userID, tabID string) error

	calls int
}

func (m *mockTabService) List(ctx context.Context, userID string) ([]model.Tab, error) {
	m.calls++
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return []model.Tab{}, nil
}

func (m *mockTabService) Get(ctx context.Context, userID, tabID string) (*model.Tab, error) {
	m.calls++
	if m.getFn != nil {
		return m.getFn(ctx, userID, tabID)
	}
	return nil, model.NewTabNotFoundError()
}

func (m *mockTabService) Create(ctx context.Context, userID string, input model.TabInput) (*model.Tab, error) {
	m.calls++
	if m.createFn != nil {
		return m.createFn(ctx, userID, input)
	}
	return &model.Tab{ID: "t1", UserID: userID, Title: input.Title, Content: input.Content}, nil
}

func (m *mockTabService) Update(ctx context.Context, userID, tabID string, input model.TabInput) (*model.Tab, error) {
	m.calls++
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, tabID, input)
	}
	return nil, model.NewTabNotFoundError()
}

func (m *mockTabService) Delete(ctx context.Context, userID, tabID string) error {
	m.calls++
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, tabID)
	}
	return nil
}

// serveTab はchiのURLパラメータとユーザーIDを設定してハンドラーを呼ぶ。
func serveTab(h http.HandlerFunc, method, target, body, tabID string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", tabID)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = middleware.ContextWithUserID(ctx, "user-1")

	w := httptest.NewRecorder()
	h(w, req.WithContext(ctx))
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body: %v\nraw: %s", err, w.Body.String())
	}
	return body
}

// --- テスト ---

func TestTabHandler_List_ProjectsTabs(t *testing.T) {
	updated := time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	svc := &mockTabService{
		listFn: func(ctx context.Context, userID string) ([]model.Tab, error) {
			return []model.Tab{
				{ID: "t1", UserID: userID, Title: "a", Content: "x", Updated: updated},
				{ID: "t2", UserID: userID, Title: "b", Content: "y", Updated: updated},
			}, nil
		},
	}
	h := NewTabHandler(svc)

	w := serveTab(h.List, http.MethodGet, "/api/tabs", "", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(got) != 2 || got[0]["id"] != "t1" || got[1]["id"] != "t2" {
		t.Fatalf("tabs = %v", got)
	}
	if got[0]["updated"] != float64(updated.UnixMilli()) {
		t.Errorf("updated = %v, want %d", got[0]["updated"], updated.UnixMilli())
	}
	if _, ok := got[0]["userId"]; ok {
		t.Error("owner should not be exposed")
	}
}

func TestTabHandler_List_EmptyIsArray(t *testing.T) {
	h := NewTabHandler(&mockTabService{})

	w := serveTab(h.List, http.MethodGet, "/api/tabs", "", "")

	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestTabHandler_Create_MissingFieldsDefaultToEmpty(t *testing.T) {
	for _, body := range []string{"", "{}"} {
		t.Run(fmt.Sprintf("body=%q", body), func(t *testing.T) {
			var got model.TabInput
			svc := &mockTabService{
				createFn: func(ctx context.Context, userID string, input model.TabInput) (*model.Tab, error) {
					got = input
					return &model.Tab{ID: "t1"}, nil
				},
			}
			h := NewTabHandler(svc)

			w := serveTab(h.Create, http.MethodPost, "/api/tabs", body, "")

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			if got.Title != "" || got.Content != "" {
				t.Errorf("input = %+v, want empty title and content", got)
			}
		})
	}
}

func TestTabHandler_Create_PassesOwnerAndInput(t *testing.T) {
	var gotUser string
	var gotInput model.TabInput
	svc := &mockTabService{
		createFn: func(ctx context.Context, userID string, input model.TabInput) (*model.Tab, error) {
			gotUser, gotInput = userID, input
			return &model.Tab{ID: "t1", Title: input.Title, Content: input.Content}, nil
		},
	}
	h := NewTabHandler(svc)

	w := serveTab(h.Create, http.MethodPost, "/api/tabs", `{"title":"Notes","content":"hello"}`, "")

	if gotUser != "user-1" || gotInput.Title != "Notes" || gotInput.Content != "hello" {
		t.Errorf("Create(user=%q, input=%+v)", gotUser, gotInput)
	}
	var got map[string]any
	json.Unmarshal(w.Body.Bytes(), &got)
	if got["title"] != "Notes" || got["content"] != "hello" {
		t.Errorf("response = %v", got)
	}
}

func TestTabHandler_Create_InvalidJSON_Returns400(t *testing.T) {
	svc := &mockTabService{}
	h := NewTabHandler(svc)

	for _, body := range []string{"{", `{"title":123}`} {
		w := serveTab(h.Create, http.MethodPost, "/api/tabs", body, "")

		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want %d", body, w.Code, http.StatusBadRequest)
		}
		if got := decodeError(t, w); got.Code != model.ErrCodeInvalidRequest {
			t.Errorf("body %q: code = %q, want %q", body, got.Code, model.ErrCodeInvalidRequest)
		}
	}
	if svc.calls != 0 {
		t.Errorf("service calls = %d, want 0", svc.calls)
	}
}

func TestTabHandler_Create_OversizedBody_Returns413(t *testing.T) {
	svc := &mockTabService{}
	h := NewTabHandler(svc)

	body := `{"content":"` + strings.Repeat("a", maxTabBodyBytes) + `"}`
	w := serveTab(h.Create, http.MethodPost, "/api/tabs", body, "")

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
	if got := decodeError(t, w); got.Code != model.ErrCodePayloadTooLarge {
		t.Errorf("code = %q, want %q", got.Code, model.ErrCodePayloadTooLarge)
	}
	if svc.calls != 0 {
		t.Errorf("service calls = %d, want 0", svc.calls)
	}
}

func TestTabHandler_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			"validation",
			model.NewValidationError([]model.FieldViolation{{Field: "title", Limit: 50, Message: "title must be at most 50 characters"}}),
			http.StatusBadRequest, model.ErrCodeValidationFailed,
		},
		{"limit", fmt.Errorf("wrapped: %w", model.NewTabLimitError(10)), http.StatusBadRequest, model.ErrCodeTabLimitExceeded},
		{"user not found", model.NewUserNotFoundError(), http.StatusUnauthorized, model.ErrCodeUserNotFound},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockTabService{
				createFn: func(ctx context.Context, userID string, input model.TabInput) (*model.Tab, error) {
					return nil, tt.err
				},
			}
			h := NewTabHandler(svc)

			w := serveTab(h.Create, http.MethodPost, "/api/tabs", `{"title":"x"}`, "")

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decodeError(t, w)
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if body.Error == "" {
				t.Error("expected error message")
			}
			if strings.Contains(w.Body.String(), "connection reset") {
				t.Error("internal error detail leaked")
			}
		})
	}
}

func TestTabHandler_Get_NotFound(t *testing.T) {
	var gotID string
	svc := &mockTabService{
		getFn: func(ctx context.Context, userID, tabID string) (*model.Tab, error) {
			gotID = tabID
			return nil, model.NewTabNotFoundError()
		},
	}
	h := NewTabHandler(svc)

	w := serveTab(h.Get, http.MethodGet, "/api/tabs/abc", "", "abc")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if gotID != "abc" {
		t.Errorf("tabID = %q, want abc", gotID)
	}
}

func TestTabHandler_Update_ReturnsProjection(t *testing.T) {
	svc := &mockTabService{
		updateFn: func(ctx context.Context, userID, tabID string, input model.TabInput) (*model.Tab, error) {
			return &model.Tab{ID: tabID, Title: input.Title, Content: input.Content, Updated: time.UnixMilli(1700000000000)}, nil
		},
	}
	h := NewTabHandler(svc)

	w := serveTab(h.Update, http.MethodPut, "/api/tabs/t9", `{"title":"new","content":"body"}`, "t9")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"id":"t9","title":"new","content":"body","updated":1700000000000}` {
		t.Errorf("body = %s", got)
	}
}

func TestTabHandler_Delete_ReturnsSuccess(t *testing.T) {
	h := NewTabHandler(&mockTabService{})

	w := serveTab(h.Delete, http.MethodDelete, "/api/tabs/missing", "", "missing")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"success":true}` {
		t.Errorf("body = %s", got)
	}
}

func TestTabHandler_NoUser_Returns401(t *testing.T) {
	svc := &mockTabService{}
	h := NewTabHandler(svc)

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/tabs", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if svc.calls != 0 {
		t.Errorf("service calls = %d, want 0", svc.calls)
	}
}
