// Package baby は赤ちゃんの登録と参照のドメインロジックを提供する。
package baby

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/babylog/internal/model"
	"github.com/hitoshi/babylog/internal/repository"
	"github.com/hitoshi/babylog/internal/security"
)

// 授乳間隔の許容範囲（分）。
const (
	MinFeedingIntervalMinutes = 30
	MaxFeedingIntervalMinutes = 720
)

// MaxNameLength は名前の最大文字数。
const MaxNameLength = 50

// RegisterInput は赤ちゃんの登録内容を表す。
// FeedingIntervalMinutesが0の場合はデフォルト値を使用する。
type RegisterInput struct {
	Name                   string
	BirthDate              *time.Time
	FeedingIntervalMinutes int
}

// Service は赤ちゃん管理のサービス層。
type Service struct {
	babyRepo  repository.BabyRepository
	sanitizer security.TextSanitizer
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(babyRepo repository.BabyRepository, sanitizer security.TextSanitizer, logger *slog.Logger) *Service {
	return &Service{
		babyRepo:  babyRepo,
		sanitizer: sanitizer,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register は赤ちゃんを登録する。
func (s *Service) Register(ctx context.Context, userID string, in RegisterInput) (*model.Baby, error) {
	name := strings.TrimSpace(s.sanitizer.Sanitize(in.Name))
	if name == "" {
		return nil, model.NewValidationError("name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, model.NewValidationError(fmt.Sprintf("name must be at most %d characters", MaxNameLength))
	}

	interval := in.FeedingIntervalMinutes
	if interval == 0 {
		interval = model.DefaultFeedingIntervalMinutes
	}
	if interval < MinFeedingIntervalMinutes || interval > MaxFeedingIntervalMinutes {
		return nil, model.NewInvalidFeedingIntervalError(interval)
	}

	now := s.now()
	if in.BirthDate != nil && in.BirthDate.After(now) {
		return nil, model.NewValidationError("birth date must not be in the future")
	}

	baby := &model.Baby{
		ID:                     uuid.New().String(),
		UserID:                 userID,
		Name:                   name,
		BirthDate:              in.BirthDate,
		FeedingIntervalMinutes: interval,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.babyRepo.Create(ctx, baby); err != nil {
		return nil, fmt.Errorf("赤ちゃんの登録に失敗しました: %w", err)
	}

	s.logger.Info("赤ちゃんを登録しました",
		slog.String("user_id", userID),
		slog.String("baby_id", baby.ID),
	)
	return baby, nil
}

// List はユーザーの赤ちゃん一覧を登録順で返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.Baby, error) {
	babies, err := s.babyRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("赤ちゃん一覧の取得に失敗しました: %w", err)
	}
	if babies == nil {
		babies = []*model.Baby{}
	}
	return babies, nil
}

// Get はユーザーが登録した赤ちゃんを取得する。
func (s *Service) Get(ctx context.Context, userID, babyID string) (*model.Baby, error) {
	baby, err := s.babyRepo.FindByID(ctx, userID, babyID)
	if err != nil {
		return nil, fmt.Errorf("赤ちゃんの取得に失敗しました: %w", err)
	}
	if baby == nil {
		return nil, model.NewBabyNotFoundError(babyID)
	}
	return baby, nil
}
