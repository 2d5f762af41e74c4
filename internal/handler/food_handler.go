package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/babylog/internal/food"
	"github.com/hitoshi/babylog/internal/model"
)

// maxFoodHistoryLimit は食事履歴で一度に返す最大件数。
const maxFoodHistoryLimit = 500

// FoodServiceInterface は食材ハンドラーが必要とするサービスインターフェース。
type FoodServiceInterface interface {
	CreateFood(ctx context.Context, userID string, in food.FoodInput) (*model.FoodItem, error)
	ListFoods(ctx context.Context, userID string) ([]*model.FoodItem, error)
	GetFood(ctx context.Context, userID, foodItemID string) (*model.FoodItem, error)
	UpdateFood(ctx context.Context, userID, foodItemID string, upd food.FoodUpdate) (*model.FoodItem, error)
	DeleteFood(ctx context.Context, userID, foodItemID string) error
	FoodHistory(ctx context.Context, userID, babyID string, limit int) ([]foodRecordResponse, error)
}

// FoodHandler は食材カタログと食事履歴のHTTPハンドラー。
type FoodHandler struct {
	service FoodServiceInterface
}

// NewFoodHandler はFoodHandlerを生成する。
func NewFoodHandler(service FoodServiceInterface) *FoodHandler {
	return &FoodHandler{service: service}
}

// createFoodRequest は食材登録リクエストのボディ。
type createFoodRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Category string `json:"category" validate:"max=50"`
	Notes    string `json:"notes" validate:"max=1000"`
}

// updateFoodRequest は食材更新リクエストのボディ。
// カウンタ項目は受け付けない。
type updateFoodRequest struct {
	Name     *string `json:"name" validate:"omitempty,max=100"`
	Category *string `json:"category" validate:"omitempty,max=50"`
	Notes    *string `json:"notes" validate:"omitempty,max=1000"`
}

// foodResponse は食材のAPIレスポンス。
type foodResponse struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Category       string     `json:"category"`
	Notes          string     `json:"notes"`
	TimesConsumed  int        `json:"times_consumed"`
	FirstTriedDate *time.Time `json:"first_tried_date"`
	LastTriedDate  *time.Time `json:"last_tried_date"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// foodRecordResponse は食事履歴の1件。
// kindは "multi"（複数食材の記録）または "legacy"（旧形式の単一食材記録）。
type foodRecordResponse struct {
	Kind      string          `json:"kind"`
	Feeding   feedingResponse `json:"feeding"`
	FoodNames []string        `json:"food_names"`
	Foods     []foodResponse  `json:"foods,omitempty"`
}

// CreateFood は食材を登録する。
// POST /api/foods
func (h *FoodHandler) CreateFood(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createFoodRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	item, err := h.service.CreateFood(r.Context(), userID, food.FoodInput{
		Name:     req.Name,
		Category: req.Category,
		Notes:    req.Notes,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toFoodResponse(item))
}

// ListFoods は食材一覧を名前順で返す。
// GET /api/foods
func (h *FoodHandler) ListFoods(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	items, err := h.service.ListFoods(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toFoodResponses(items))
}

// GetFood は食材を返す。
// GET /api/foods/{id}
func (h *FoodHandler) GetFood(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	item, err := h.service.GetFood(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toFoodResponse(item))
}

// UpdateFood は食材の名前・カテゴリ・メモを更新する。
// PATCH /api/foods/{id}
func (h *FoodHandler) UpdateFood(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateFoodRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	item, err := h.service.UpdateFood(r.Context(), userID, chi.URLParam(r, "id"), food.FoodUpdate{
		Name:     req.Name,
		Category: req.Category,
		Notes:    req.Notes,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toFoodResponse(item))
}

// DeleteFood は記録に使われていない食材を削除する。
// DELETE /api/foods/{id}
func (h *FoodHandler) DeleteFood(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteFood(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// FoodHistory は赤ちゃんの離乳食記録を新しい順で返す。
// GET /api/babies/{id}/food-history?limit=
func (h *FoodHandler) FoodHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	limit, apiErr := parseLimit(r, maxFoodHistoryLimit)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	records, err := h.service.FoodHistory(r.Context(), userID, chi.URLParam(r, "id"), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func toFoodResponse(item *model.FoodItem) foodResponse {
	return foodResponse{
		ID:             item.ID,
		Name:           item.Name,
		Category:       item.Category,
		Notes:          item.Notes,
		TimesConsumed:  item.TimesConsumed,
		FirstTriedDate: item.FirstTriedAt,
		LastTriedDate:  item.LastTriedAt,
		CreatedAt:      item.CreatedAt,
		UpdatedAt:      item.UpdatedAt,
	}
}

func toFoodResponses(items []*model.FoodItem) []foodResponse {
	resp := make([]foodResponse, len(items))
	for i, item := range items {
		resp[i] = toFoodResponse(item)
	}
	return resp
}
