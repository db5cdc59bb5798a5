package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tabkeep/internal/middleware"
	"github.com/hitoshi/tabkeep/internal/model"
)

// maxTabBodyBytes はタブ作成・更新リクエストのボディ上限。
const maxTabBodyBytes = 100 << 10

// TabServiceInterface はタブハンドラーが必要とするサービスインターフェース。
type TabServiceInterface interface {
	List(ctx context.Context, userID string) ([]model.Tab, error)
	Get(ctx context.Context, userID, tabID string) (*model.Tab, error)
	Create(ctx context.Context, userID string, input model.TabInput) (*model.Tab, error)
	Update(ctx context.Context, userID, tabID string, input model.TabInput) (*model.Tab, error)
	Delete(ctx context.Context, userID, tabID string) error
}

// TabHandler はタブ管理のHTTPハンドラー。
// すべてのルートはRequireAuthの内側に配置する。
type TabHandler struct {
	service TabServiceInterface
}

// NewTabHandler はTabHandlerを生成する。
func NewTabHandler(service TabServiceInterface) *TabHandler {
	return &TabHandler{service: service}
}

// tabRequest はタブ作成・更新リクエストのボディ。
// 省略されたフィールドは空文字として扱う。
type tabRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// tabResponse はタブのAPIレスポンス。updatedはUnixミリ秒。
type tabResponse struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Updated int64  `json:"updated"`
}

// successResponse は削除成功のレスポンス。
type successResponse struct {
	Success bool `json:"success"`
}

// List はユーザーのタブ一覧を返す。
// GET /api/tabs
func (h *TabHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	tabs, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]tabResponse, 0, len(tabs))
	for i := range tabs {
		resp = append(resp, toTabResponse(&tabs[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get は指定IDのタブを返す。
// GET /api/tabs/{id}
func (h *TabHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	tab, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTabResponse(tab))
}

// Create はタブを作成する。
// POST /api/tabs
func (h *TabHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	input, ok := decodeTabRequest(w, r)
	if !ok {
		return
	}

	tab, err := h.service.Create(r.Context(), userID, input)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTabResponse(tab))
}

// Update はタブのタイトルと本文を置き換える。
// PUT /api/tabs/{id}
func (h *TabHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	input, ok := decodeTabRequest(w, r)
	if !ok {
		return
	}

	tab, err := h.service.Update(r.Context(), userID, chi.URLParam(r, "id"), input)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTabResponse(tab))
}

// Delete はタブを削除する。存在しないタブでも成功を返す。
// DELETE /api/tabs/{id}
func (h *TabHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// requireUserID はコンテキストからユーザーIDを取り出す。
// RequireAuthを通過していない場合は401を書き込みfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// decodeTabRequest はリクエストボディを読み取る。空のボディは{}として扱う。
// 上限サイズを超えたボディは413で拒否する。
func decodeTabRequest(w http.ResponseWriter, r *http.Request) (model.TabInput, bool) {
	var req tabRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTabBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteAPIError(w, model.NewPayloadTooLargeError())
		} else {
			middleware.WriteAPIError(w, model.NewInvalidRequestError())
		}
		return model.TabInput{}, false
	}
	return model.TabInput{Title: req.Title, Content: req.Content}, true
}

func toTabResponse(tab *model.Tab) tabResponse {
	return tabResponse{
		ID:      tab.ID,
		Title:   tab.Title,
		Content: tab.Content,
		Updated: tab.Updated.UnixMilli(),
	}
}
