package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/babylog/internal/feeding"
	"github.com/hitoshi/babylog/internal/model"
)

// maxFeedingListLimit は記録一覧で一度に返す最大件数。
const maxFeedingListLimit = 500

// FeedingServiceInterface は授乳記録ハンドラーが必要とするサービスインターフェース。
type FeedingServiceInterface interface {
	LogFeeding(ctx context.Context, userID string, in feeding.LogInput) (*model.FeedingEvent, error)
	ListFeedings(ctx context.Context, userID string, filter model.FeedingFilter) ([]*model.FeedingEvent, error)
	DeleteFeeding(ctx context.Context, userID, feedingID string) error
	NextFeeding(ctx context.Context, userID, babyID string, now time.Time) (*nextFeedingResponse, error)
}

// FeedingHandler は授乳記録のHTTPハンドラー。
type FeedingHandler struct {
	service FeedingServiceInterface
	now     func() time.Time
}

// NewFeedingHandler はFeedingHandlerを生成する。
func NewFeedingHandler(service FeedingServiceInterface) *FeedingHandler {
	return &FeedingHandler{
		service: service,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// logFeedingRequest は授乳記録リクエストのボディ。
// 種別ごとの項目の組み合わせはサービス層で検証する。
type logFeedingRequest struct {
	BabyID          string           `json:"baby_id" validate:"max=64"`
	Type            string           `json:"type" validate:"required"`
	OccurredAt      *time.Time       `json:"occurred_at"`
	AmountML        *decimal.Decimal `json:"amount_ml"`
	Side            string           `json:"side" validate:"omitempty,oneof=left right both"`
	DurationMinutes *int             `json:"duration_minutes" validate:"omitempty,min=0,max=600"`
	Notes           string           `json:"notes" validate:"max=1000"`
}

// feedingResponse は授乳・離乳食記録のAPIレスポンス。
type feedingResponse struct {
	ID              string           `json:"id"`
	BabyID          *string          `json:"baby_id"`
	Type            string           `json:"type"`
	OccurredAt      time.Time        `json:"occurred_at"`
	Notes           string           `json:"notes"`
	Reaction        string           `json:"reaction,omitempty"`
	AmountML        *decimal.Decimal `json:"amount_ml,omitempty"`
	Side            string           `json:"side,omitempty"`
	DurationMinutes *int             `json:"duration_minutes,omitempty"`
	LegacyFoodName  *string          `json:"legacy_food_name,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// nextFeedingResponse は次回授乳の目安のAPIレスポンス。
type nextFeedingResponse struct {
	BabyID          string     `json:"baby_id"`
	HasHistory      bool       `json:"has_history"`
	LastFedAt       *time.Time `json:"last_fed_at"`
	LastType        string     `json:"last_type,omitempty"`
	IntervalMinutes int        `json:"interval_minutes"`
	DueAt           *time.Time `json:"due_at"`
	Overdue         bool       `json:"overdue"`
}

// LogFeeding は授乳記録を登録する。
// POST /api/feedings
func (h *FeedingHandler) LogFeeding(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req logFeedingRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	in := feeding.LogInput{
		BabyID:          req.BabyID,
		Type:            model.FeedingType(req.Type),
		Amount:          req.AmountML,
		Side:            model.NursingSide(req.Side),
		DurationMinutes: req.DurationMinutes,
		Notes:           req.Notes,
	}
	if req.OccurredAt != nil {
		in.OccurredAt = *req.OccurredAt
	}

	event, err := h.service.LogFeeding(r.Context(), userID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toFeedingResponse(event))
}

// ListFeedings は記録一覧を新しい順で返す。
// GET /api/feedings?baby_id=&type=&since=&limit=
func (h *FeedingHandler) ListFeedings(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var filter model.FeedingFilter
	if v := q.Get("baby_id"); v != "" {
		filter.BabyID = &v
	}
	if v := q.Get("type"); v != "" {
		t := model.FeedingType(v)
		filter.Type = &t
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("since must be RFC3339"))
			return
		}
		filter.Since = since
	}
	limit, apiErr := parseLimit(r, maxFeedingListLimit)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	filter.Limit = limit

	events, err := h.service.ListFeedings(r.Context(), userID, filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]feedingResponse, len(events))
	for i, e := range events {
		resp[i] = toFeedingResponse(e)
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteFeeding は離乳食以外の記録を削除する。
// DELETE /api/feedings/{id}
func (h *FeedingHandler) DeleteFeeding(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteFeeding(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// NextFeeding は次回授乳の目安を返す。
// GET /api/babies/{id}/next-feeding
func (h *FeedingHandler) NextFeeding(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	next, err := h.service.NextFeeding(r.Context(), userID, chi.URLParam(r, "id"), h.now())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, next)
}

func toFeedingResponse(e *model.FeedingEvent) feedingResponse {
	return feedingResponse{
		ID:              e.ID,
		BabyID:          e.BabyID,
		Type:            string(e.Type),
		OccurredAt:      e.OccurredAt,
		Notes:           e.Notes,
		Reaction:        e.Reaction,
		AmountML:        e.Amount,
		Side:            string(e.Side),
		DurationMinutes: e.DurationMinutes,
		LegacyFoodName:  e.LegacyFoodName,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}
