package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/babylog/internal/food"
	"github.com/hitoshi/babylog/internal/model"
)

// SolidFeedingServiceInterface は離乳食記録ハンドラーが必要とするサービスインターフェース。
// food.Reconciler が実装する。
type SolidFeedingServiceInterface interface {
	CreateSolidFoodEvent(ctx context.Context, userID string, in food.CreateSolidFoodInput) (*model.ReconcileResult, error)
	UpdateSolidFoodEvent(ctx context.Context, userID, feedingEventID string, foodItemIDs []string, patch model.FeedingPatch) (*model.ReconcileResult, error)
	DeleteSolidFoodEvent(ctx context.Context, userID, feedingEventID string) (*model.ReconcileResult, error)
}

// SolidFeedingHandler は離乳食記録のHTTPハンドラー。
type SolidFeedingHandler struct {
	service SolidFeedingServiceInterface
}

// NewSolidFeedingHandler はSolidFeedingHandlerを生成する。
func NewSolidFeedingHandler(service SolidFeedingServiceInterface) *SolidFeedingHandler {
	return &SolidFeedingHandler{service: service}
}

// createSolidFeedingRequest は離乳食記録の作成リクエスト。
// 食材が空の場合はサービス層がNO_FOODSを返す。
type createSolidFeedingRequest struct {
	BabyID      string     `json:"baby_id" validate:"max=64"`
	FoodItemIDs []string   `json:"food_item_ids" validate:"max=50,dive,max=64"`
	OccurredAt  *time.Time `json:"occurred_at"`
	Notes       string     `json:"notes" validate:"max=1000"`
	Reaction    string     `json:"reaction" validate:"max=500"`
}

// updateSolidFeedingRequest は離乳食記録の更新リクエスト。
// food_item_idsは更新後の食材の完全な集合を表す。
type updateSolidFeedingRequest struct {
	FoodItemIDs []string   `json:"food_item_ids" validate:"max=50,dive,max=64"`
	OccurredAt  *time.Time `json:"occurred_at"`
	Notes       *string    `json:"notes" validate:"omitempty,max=1000"`
	Reaction    *string    `json:"reaction" validate:"omitempty,max=500"`
}

// foodFailureResponse は紐付け・再集計に失敗した食材。
type foodFailureResponse struct {
	FoodItemID string `json:"food_item_id"`
	FoodName   string `json:"food_name"`
	Stage      string `json:"stage"`
	Reason     string `json:"reason"`
}

// reconcileResponse は離乳食記録の作成・更新・削除のAPIレスポンス。
type reconcileResponse struct {
	Feeding   feedingResponse       `json:"feeding"`
	Added     []string              `json:"added"`
	Removed   []string              `json:"removed"`
	Recounted []string              `json:"recounted"`
	Failed    []foodFailureResponse `json:"failed"`
	Summary   string                `json:"summary,omitempty"`
}

// CreateSolidFeeding は離乳食記録を作成する。
// すべての食材の紐付けに成功した場合は201、一部が失敗した場合は207を返す。
// POST /api/solid-feedings
func (h *SolidFeedingHandler) CreateSolidFeeding(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createSolidFeedingRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	in := food.CreateSolidFoodInput{
		BabyID:      req.BabyID,
		FoodItemIDs: req.FoodItemIDs,
		Notes:       req.Notes,
		Reaction:    req.Reaction,
	}
	if req.OccurredAt != nil {
		in.OccurredAt = *req.OccurredAt
	}

	result, err := h.service.CreateSolidFoodEvent(r.Context(), userID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeReconcileResult(w, http.StatusCreated, result, result.Summary(countRequested(req.FoodItemIDs)))
}

// UpdateSolidFeeding は離乳食記録のメタデータと食材を更新する。
// PUT /api/solid-feedings/{id}
func (h *SolidFeedingHandler) UpdateSolidFeeding(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateSolidFeedingRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	patch := model.FeedingPatch{
		OccurredAt: req.OccurredAt,
		Notes:      req.Notes,
		Reaction:   req.Reaction,
	}

	result, err := h.service.UpdateSolidFoodEvent(r.Context(), userID, chi.URLParam(r, "id"), req.FoodItemIDs, patch)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeReconcileResult(w, http.StatusOK, result, result.Summary(countRequested(req.FoodItemIDs)))
}

// DeleteSolidFeeding は離乳食記録を削除する。
// 紐付けの削除や再集計が一部失敗した場合は207で失敗内容を返す。
// DELETE /api/solid-feedings/{id}
func (h *SolidFeedingHandler) DeleteSolidFeeding(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	result, err := h.service.DeleteSolidFoodEvent(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if !result.Partial() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeReconcileResult(w, http.StatusOK, result, "")
}

// writeReconcileResult は結果を書き込む。失敗が含まれる場合はステータスを207に置き換える。
func writeReconcileResult(w http.ResponseWriter, okStatus int, result *model.ReconcileResult, summary string) {
	status := okStatus
	if result.Partial() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, toReconcileResponse(result, summary))
}

func toReconcileResponse(result *model.ReconcileResult, summary string) reconcileResponse {
	resp := reconcileResponse{
		Feeding:   toFeedingResponse(result.Event),
		Added:     nonNil(result.Added),
		Removed:   nonNil(result.Removed),
		Recounted: nonNil(result.Recounted),
		Failed:    make([]foodFailureResponse, len(result.Failed)),
		Summary:   summary,
	}
	for i, f := range result.Failed {
		resp.Failed[i] = foodFailureResponse{
			FoodItemID: f.FoodItemID,
			FoodName:   f.FoodName,
			Stage:      string(f.Stage),
			Reason:     f.Reason,
		}
	}
	return resp
}

// countRequested は重複と空文字を除いた食材IDの数を返す。
func countRequested(ids []string) int {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
