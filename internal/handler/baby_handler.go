package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/babylog/internal/baby"
	"github.com/hitoshi/babylog/internal/model"
)

// BabyServiceInterface は赤ちゃんハンドラーが必要とするサービスインターフェース。
type BabyServiceInterface interface {
	Register(ctx context.Context, userID string, in baby.RegisterInput) (*model.Baby, error)
	List(ctx context.Context, userID string) ([]*model.Baby, error)
	Get(ctx context.Context, userID, babyID string) (*model.Baby, error)
}

// BabyHandler は赤ちゃん情報のHTTPハンドラー。
type BabyHandler struct {
	service BabyServiceInterface
}

// NewBabyHandler はBabyHandlerを生成する。
func NewBabyHandler(service BabyServiceInterface) *BabyHandler {
	return &BabyHandler{service: service}
}

// registerBabyRequest は赤ちゃん登録リクエストのボディ。
// 授乳間隔の範囲はサービス層で検証する。
type registerBabyRequest struct {
	Name                   string `json:"name" validate:"required,max=50"`
	BirthDate              string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	FeedingIntervalMinutes int    `json:"feeding_interval_minutes"`
}

// babyResponse は赤ちゃん情報のAPIレスポンス。
type babyResponse struct {
	ID                     string    `json:"id"`
	Name                   string    `json:"name"`
	BirthDate              *string   `json:"birth_date"`
	FeedingIntervalMinutes int       `json:"feeding_interval_minutes"`
	CreatedAt              time.Time `json:"created_at"`
}

// Register は赤ちゃんを登録する。
// POST /api/babies
func (h *BabyHandler) Register(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req registerBabyRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	in := baby.RegisterInput{
		Name:                   req.Name,
		FeedingIntervalMinutes: req.FeedingIntervalMinutes,
	}
	if req.BirthDate != "" {
		// validateタグで形式は検証済み
		d, _ := time.Parse(time.DateOnly, req.BirthDate)
		in.BirthDate = &d
	}

	b, err := h.service.Register(r.Context(), userID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBabyResponse(b))
}

// List は赤ちゃん一覧を返す。
// GET /api/babies
func (h *BabyHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	babies, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]babyResponse, len(babies))
	for i, b := range babies {
		resp[i] = toBabyResponse(b)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get は赤ちゃん情報を返す。
// GET /api/babies/{id}
func (h *BabyHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	b, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBabyResponse(b))
}

func toBabyResponse(b *model.Baby) babyResponse {
	resp := babyResponse{
		ID:                     b.ID,
		Name:                   b.Name,
		FeedingIntervalMinutes: b.FeedingIntervalMinutes,
		CreatedAt:              b.CreatedAt,
	}
	if b.BirthDate != nil {
		s := b.BirthDate.Format(time.DateOnly)
		resp.BirthDate = &s
	}
	return resp
}
