package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/babylog/internal/baby"
	"github.com/hitoshi/babylog/internal/feeding"
	"github.com/hitoshi/babylog/internal/food"
	"github.com/hitoshi/babylog/internal/middleware"
	"github.com/hitoshi/babylog/internal/model"
)

// --- モック定義 ---

// mockBabyService はBabyServiceInterfaceのモック実装。
type mockBabyService struct {
	registerFn func(ctx context.Context, userID string, in baby.RegisterInput) (*model.Baby, error)
	listFn     func(ctx context.Context, userID string) ([]*model.Baby, error)
	getFn      func(ctx context.Context, userID, babyID string) (*model.Baby, error)
}

func (m *mockBabyService) Register(ctx context.Context, userID string, in baby.RegisterInput) (*model.Baby, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, userID, in)
	}
	return nil, nil
}

func (m *mockBabyService) List(ctx context.Context, userID string) ([]*model.Baby, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return []*model.Baby{}, nil
}

func (m *mockBabyService) Get(ctx context.Context, userID, babyID string) (*model.Baby, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, babyID)
	}
	return nil, model.NewBabyNotFoundError(babyID)
}

// mockFeedingService はFeedingServiceInterfaceのモック実装。
type mockFeedingService struct {
	logFeedingFn    func(ctx context.Context, userID string, in feeding.LogInput) (*model.FeedingEvent, error)
	listFeedingsFn  func(ctx context.Context, userID string, filter model.FeedingFilter) ([]*model.FeedingEvent, error)
	deleteFeedingFn func(ctx context.Context, userID, feedingID string) error
	nextFeedingFn   func(ctx context.Context, userID, babyID string, now time.Time) (*nextFeedingResponse, error)
}

func (m *mockFeedingService) LogFeeding(ctx context.Context, userID string, in feeding.LogInput) (*model.FeedingEvent, error) {
	if m.logFeedingFn != nil {
		return m.logFeedingFn(ctx, userID, in)
	}
	return nil, nil
}

func (m *mockFeedingService) ListFeedings(ctx context.Context, userID string, filter model.FeedingFilter) ([]*model.FeedingEvent, error) {
	if m.listFeedingsFn != nil {
		return m.listFeedingsFn(ctx, userID, filter)
	}
	return []*model.FeedingEvent{}, nil
}

func (m *mockFeedingService) DeleteFeeding(ctx context.Context, userID, feedingID string) error {
	if m.deleteFeedingFn != nil {
		return m.deleteFeedingFn(ctx, userID, feedingID)
	}
	return nil
}

func (m *mockFeedingService) NextFeeding(ctx context.Context, userID, babyID string, now time.Time) (*nextFeedingResponse, error) {
	if m.nextFeedingFn != nil {
		return m.nextFeedingFn(ctx, userID, babyID, now)
	}
	return &nextFeedingResponse{BabyID: babyID}, nil
}

// mockFoodService はFoodServiceInterfaceのモック実装。
type mockFoodService struct {
	createFoodFn  func(ctx context.Context, userID string, in food.FoodInput) (*model.FoodItem, error)
	listFoodsFn   func(ctx context.Context, userID string) ([]*model.FoodItem, error)
	getFoodFn     func(ctx context.Context, userID, foodItemID string) (*model.FoodItem, error)
	updateFoodFn  func(ctx context.Context, userID, foodItemID string, upd food.FoodUpdate) (*model.FoodItem, error)
	deleteFoodFn  func(ctx context.Context, userID, foodItemID string) error
	foodHistoryFn func(ctx context.Context, userID, babyID string, limit int) ([]foodRecordResponse, error)
}

func (m *mockFoodService) CreateFood(ctx context.Context, userID string, in food.FoodInput) (*model.FoodItem, error) {
	if m.createFoodFn != nil {
		return m.createFoodFn(ctx, userID, in)
	}
	return nil, nil
}

func (m *mockFoodService) ListFoods(ctx context.Context, userID string) ([]*model.FoodItem, error) {
	if m.listFoodsFn != nil {
		return m.listFoodsFn(ctx, userID)
	}
	return []*model.FoodItem{}, nil
}

func (m *mockFoodService) GetFood(ctx context.Context, userID, foodItemID string) (*model.FoodItem, error) {
	if m.getFoodFn != nil {
		return m.getFoodFn(ctx, userID, foodItemID)
	}
	return nil, model.NewFoodNotFoundError(foodItemID)
}

func (m *mockFoodService) UpdateFood(ctx context.Context, userID, foodItemID string, upd food.FoodUpdate) (*model.FoodItem, error) {
	if m.updateFoodFn != nil {
		return m.updateFoodFn(ctx, userID, foodItemID, upd)
	}
	return nil, nil
}

func (m *mockFoodService) DeleteFood(ctx context.Context, userID, foodItemID string) error {
	if m.deleteFoodFn != nil {
		return m.deleteFoodFn(ctx, userID, foodItemID)
	}
	return nil
}

func (m *mockFoodService) FoodHistory(ctx context.Context, userID, babyID string, limit int) ([]foodRecordResponse, error) {
	if m.foodHistoryFn != nil {
		return m.foodHistoryFn(ctx, userID, babyID, limit)
	}
	return []foodRecordResponse{}, nil
}

// mockSolidFeedingService はSolidFeedingServiceInterfaceのモック実装。
type mockSolidFeedingService struct {
	createFn func(ctx context.Context, userID string, in food.CreateSolidFoodInput) (*model.ReconcileResult, error)
	updateFn func(ctx context.Context, userID, feedingEventID string, foodItemIDs []string, patch model.FeedingPatch) (*model.ReconcileResult, error)
	deleteFn func(ctx context.Context, userID, feedingEventID string) (*model.ReconcileResult, error)
}

func (m *mockSolidFeedingService) CreateSolidFoodEvent(ctx context.Context, userID string, in food.CreateSolidFoodInput) (*model.ReconcileResult, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, in)
	}
	return nil, nil
}

func (m *mockSolidFeedingService) UpdateSolidFoodEvent(ctx context.Context, userID, feedingEventID string, foodItemIDs []string, patch model.FeedingPatch) (*model.ReconcileResult, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, feedingEventID, foodItemIDs, patch)
	}
	return nil, nil
}

func (m *mockSolidFeedingService) DeleteSolidFoodEvent(ctx context.Context, userID, feedingEventID string) (*model.ReconcileResult, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, feedingEventID)
	}
	return nil, nil
}

// --- テストヘルパー ---

var testTime = time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// decodeBody はレスポンスボディをvにデコードするヘルパー。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v\nbody: %s", err, w.Body.String())
	}
}

func solidEvent(id string) *model.FeedingEvent {
	babyID := "baby-1"
	return &model.FeedingEvent{
		ID:         id,
		UserID:     "user-123",
		BabyID:     &babyID,
		Type:       model.FeedingTypeSolid,
		OccurredAt: testTime,
		CreatedAt:  testTime,
		UpdatedAt:  testTime,
	}
}
