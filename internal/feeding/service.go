// Package feeding は授乳記録（離乳食以外）の管理と次回授乳時刻の計算を提供する。
package feeding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/babylog/internal/model"
	"github.com/hitoshi/babylog/internal/repository"
	"github.com/hitoshi/babylog/internal/security"
)

// maxAmountML は1回の記録で受け付ける量の上限（ml）。
var maxAmountML = decimal.NewFromInt(1000)

// 次回授乳時刻の計算対象となる種別。
var countedTypes = []model.FeedingType{
	model.FeedingTypeNursing,
	model.FeedingTypeBottle,
	model.FeedingTypeFormula,
}

// LogInput は授乳記録の登録内容を表す。
type LogInput struct {
	BabyID          string
	Type            model.FeedingType
	OccurredAt      time.Time
	Amount          *decimal.Decimal
	Side            model.NursingSide
	DurationMinutes *int
	Notes           string
}

// NextFeeding は次回授乳の目安を表す。
// 対象となる記録がない場合はHasHistoryがfalseになり、時刻はnilになる。
type NextFeeding struct {
	BabyID          string
	HasHistory      bool
	LastFedAt       *time.Time
	LastType        model.FeedingType
	IntervalMinutes int
	DueAt           *time.Time
	Overdue         bool
}

// Service は授乳記録のサービス層。
// 離乳食の記録は食材カウンタとの整合が必要なため、food.Reconcilerを経由させる。
type Service struct {
	feedingRepo repository.FeedingRepository
	babyRepo    repository.BabyRepository
	sanitizer   security.TextSanitizer
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	feedingRepo repository.FeedingRepository,
	babyRepo repository.BabyRepository,
	sanitizer security.TextSanitizer,
	logger *slog.Logger,
) *Service {
	return &Service{
		feedingRepo: feedingRepo,
		babyRepo:    babyRepo,
		sanitizer:   sanitizer,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// LogFeeding は離乳食以外の授乳記録を登録する。
func (s *Service) LogFeeding(ctx context.Context, userID string, in LogInput) (*model.FeedingEvent, error) {
	if err := validateLogInput(in); err != nil {
		return nil, err
	}

	var babyID *string
	if in.BabyID != "" {
		if _, err := s.findBaby(ctx, userID, in.BabyID); err != nil {
			return nil, err
		}
		babyID = &in.BabyID
	}

	now := s.now()
	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}

	event := &model.FeedingEvent{
		ID:              uuid.New().String(),
		UserID:          userID,
		BabyID:          babyID,
		Type:            in.Type,
		OccurredAt:      occurredAt.UTC(),
		Notes:           s.sanitizer.Sanitize(in.Notes),
		Side:            in.Side,
		DurationMinutes: in.DurationMinutes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if in.Amount != nil {
		amount := in.Amount.Round(2)
		event.Amount = &amount
	}

	if err := s.feedingRepo.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("授乳記録の登録に失敗しました: %w", err)
	}

	s.logger.Info("授乳記録を登録しました",
		slog.String("user_id", userID),
		slog.String("feeding_id", event.ID),
		slog.String("type", string(event.Type)),
	)
	return event, nil
}

// ListFeedings はユーザーの記録を新しい順で返す。離乳食を含む全種別が対象。
func (s *Service) ListFeedings(ctx context.Context, userID string, filter model.FeedingFilter) ([]*model.FeedingEvent, error) {
	if filter.BabyID != nil {
		if _, err := s.findBaby(ctx, userID, *filter.BabyID); err != nil {
			return nil, err
		}
	}
	if filter.Type != nil && !filter.Type.Valid() {
		return nil, model.NewInvalidFeedingTypeError(string(*filter.Type))
	}

	events, err := s.feedingRepo.List(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("授乳記録一覧の取得に失敗しました: %w", err)
	}
	if events == nil {
		events = []*model.FeedingEvent{}
	}
	return events, nil
}

// DeleteFeeding は離乳食以外の授乳記録を削除する。
// 離乳食の記録はNotFoundとして扱い、専用の削除経路を使わせる。
func (s *Service) DeleteFeeding(ctx context.Context, userID, feedingID string) error {
	event, err := s.feedingRepo.FindByID(ctx, feedingID)
	if err != nil {
		return fmt.Errorf("授乳記録の取得に失敗しました: %w", err)
	}
	if event == nil || event.UserID != userID || event.Type == model.FeedingTypeSolid {
		return model.NewFeedingNotFoundError(feedingID)
	}

	if err := s.feedingRepo.Delete(ctx, feedingID); err != nil {
		return fmt.Errorf("授乳記録の削除に失敗しました: %w", err)
	}

	s.logger.Info("授乳記録を削除しました",
		slog.String("user_id", userID),
		slog.String("feeding_id", feedingID),
	)
	return nil
}

// NextFeeding は最後の授乳時刻と赤ちゃんの授乳間隔から次回授乳の目安を計算する。
// 離乳食と搾乳は計算対象外。
func (s *Service) NextFeeding(ctx context.Context, userID, babyID string, now time.Time) (*NextFeeding, error) {
	baby, err := s.findBaby(ctx, userID, babyID)
	if err != nil {
		return nil, err
	}

	interval := baby.FeedingIntervalMinutes
	if interval <= 0 {
		interval = model.DefaultFeedingIntervalMinutes
	}
	result := &NextFeeding{
		BabyID:          baby.ID,
		IntervalMinutes: interval,
	}

	last, err := s.feedingRepo.FindLatestByTypes(ctx, userID, babyID, countedTypes)
	if err != nil {
		return nil, fmt.Errorf("最新の授乳記録の取得に失敗しました: %w", err)
	}
	if last == nil {
		return result, nil
	}

	lastAt := last.OccurredAt
	dueAt := lastAt.Add(time.Duration(interval) * time.Minute)
	result.HasHistory = true
	result.LastFedAt = &lastAt
	result.LastType = last.Type
	result.DueAt = &dueAt
	result.Overdue = now.After(dueAt)
	return result, nil
}

func (s *Service) findBaby(ctx context.Context, userID, babyID string) (*model.Baby, error) {
	baby, err := s.babyRepo.FindByID(ctx, userID, babyID)
	if err != nil {
		return nil, fmt.Errorf("赤ちゃんの取得に失敗しました: %w", err)
	}
	if baby == nil {
		return nil, model.NewBabyNotFoundError(babyID)
	}
	return baby, nil
}

// validateLogInput は種別ごとの入力項目を検証する。
func validateLogInput(in LogInput) error {
	if !in.Type.Valid() || in.Type == model.FeedingTypeSolid {
		return model.NewInvalidFeedingTypeError(string(in.Type))
	}

	if in.Amount != nil {
		if in.Amount.IsNegative() {
			return model.NewValidationError("amount must not be negative")
		}
		if in.Amount.GreaterThan(maxAmountML) {
			return model.NewValidationError(fmt.Sprintf("amount must be at most %s ml", maxAmountML.String()))
		}
	}

	if in.Side != "" {
		if in.Type != model.FeedingTypeNursing {
			return model.NewValidationError("side is only allowed for nursing")
		}
		switch in.Side {
		case model.NursingSideLeft, model.NursingSideRight, model.NursingSideBoth:
		default:
			return model.NewValidationError(fmt.Sprintf("invalid side: %s", in.Side))
		}
	}

	if in.DurationMinutes != nil {
		if in.Type != model.FeedingTypeNursing && in.Type != model.FeedingTypePumping {
			return model.NewValidationError("duration is only allowed for nursing and pumping")
		}
		if *in.DurationMinutes < 0 {
			return model.NewValidationError("duration must not be negative")
		}
	}

	return nil
}
