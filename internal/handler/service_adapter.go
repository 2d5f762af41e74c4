package handler

import (
	"context"
	"time"

	"github.com/hitoshi/babylog/internal/feeding"
	"github.com/hitoshi/babylog/internal/food"
	"github.com/hitoshi/babylog/internal/model"
)

// FeedingServiceAdapter は feeding.Service を FeedingServiceInterface に適合させるアダプタ。
type FeedingServiceAdapter struct {
	*feeding.Service
}

// NewFeedingServiceAdapter はFeedingServiceAdapterを生成する。
func NewFeedingServiceAdapter(svc *feeding.Service) *FeedingServiceAdapter {
	return &FeedingServiceAdapter{Service: svc}
}

// NextFeeding は次回授乳の目安をhandlerレスポンス型で返す。
func (a *FeedingServiceAdapter) NextFeeding(ctx context.Context, userID, babyID string, now time.Time) (*nextFeedingResponse, error) {
	next, err := a.Service.NextFeeding(ctx, userID, babyID, now)
	if err != nil {
		return nil, err
	}
	return &nextFeedingResponse{
		BabyID:          next.BabyID,
		HasHistory:      next.HasHistory,
		LastFedAt:       next.LastFedAt,
		LastType:        string(next.LastType),
		IntervalMinutes: next.IntervalMinutes,
		DueAt:           next.DueAt,
		Overdue:         next.Overdue,
	}, nil
}

// FoodServiceAdapter は food.CatalogService を FoodServiceInterface に適合させるアダプタ。
type FoodServiceAdapter struct {
	*food.CatalogService
}

// NewFoodServiceAdapter はFoodServiceAdapterを生成する。
func NewFoodServiceAdapter(svc *food.CatalogService) *FoodServiceAdapter {
	return &FoodServiceAdapter{CatalogService: svc}
}

// FoodHistory は食事履歴をhandlerレスポンス型で返す。
func (a *FoodServiceAdapter) FoodHistory(ctx context.Context, userID, babyID string, limit int) ([]foodRecordResponse, error) {
	records, err := a.CatalogService.FoodHistory(ctx, userID, babyID, limit)
	if err != nil {
		return nil, err
	}
	return toFoodRecordResponses(records), nil
}

// toFoodRecordResponses は記録の種類ごとにレスポンスへ変換する。
func toFoodRecordResponses(records []model.FoodRecord) []foodRecordResponse {
	resp := make([]foodRecordResponse, 0, len(records))
	for _, rec := range records {
		item := foodRecordResponse{
			Feeding:   toFeedingResponse(rec.Feeding()),
			FoodNames: rec.FoodNames(),
		}
		switch r := rec.(type) {
		case model.LegacyFoodRecord:
			item.Kind = "legacy"
		case model.MultiFoodEvent:
			item.Kind = "multi"
			item.Foods = toFoodResponses(r.Foods)
		}
		resp = append(resp, item)
	}
	return resp
}
