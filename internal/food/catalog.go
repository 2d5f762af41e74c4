package food

import (
	"context"
	"errors"
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

// MaxFoodNameLength は食材名の最大文字数。
const MaxFoodNameLength = 100

// defaultHistoryLimit は離乳食履歴の取得件数の初期値。
const defaultHistoryLimit = 100

// FoodInput は食材の登録内容を表す。
type FoodInput struct {
	Name     string
	Category string
	Notes    string
}

// FoodUpdate は食材の部分更新を表す。nilフィールドは変更しない。
// 消費カウンタはこの経路では変更できない。
type FoodUpdate struct {
	Name     *string
	Category *string
	Notes    *string
}

// CatalogService は食材カタログの管理と離乳食履歴の参照を提供する。
type CatalogService struct {
	foodRepo    repository.FoodItemRepository
	feedingRepo repository.FeedingRepository
	assocRepo   repository.FoodAssociationRepository
	babyRepo    repository.BabyRepository
	sanitizer   security.TextSanitizer
	logger      *slog.Logger
	now         func() time.Time
}

// NewCatalogService はCatalogServiceの新しいインスタンスを生成する。
func NewCatalogService(
	foodRepo repository.FoodItemRepository,
	feedingRepo repository.FeedingRepository,
	assocRepo repository.FoodAssociationRepository,
	babyRepo repository.BabyRepository,
	sanitizer security.TextSanitizer,
	logger *slog.Logger,
) *CatalogService {
	return &CatalogService{
		foodRepo:    foodRepo,
		feedingRepo: feedingRepo,
		assocRepo:   assocRepo,
		babyRepo:    babyRepo,
		sanitizer:   sanitizer,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateFood は食材を登録する。登録直後の消費回数は0。
func (s *CatalogService) CreateFood(ctx context.Context, userID string, in FoodInput) (*model.FoodItem, error) {
	name, err := s.normalizeName(in.Name)
	if err != nil {
		return nil, err
	}

	now := s.now()
	item := &model.FoodItem{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		Category:  s.sanitizer.Sanitize(in.Category),
		Notes:     s.sanitizer.Sanitize(in.Notes),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.foodRepo.Create(ctx, item); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewFoodAlreadyExistsError(name)
		}
		return nil, fmt.Errorf("食材の登録に失敗しました: %w", err)
	}

	s.logger.Info("食材を登録しました",
		slog.String("user_id", userID),
		slog.String("food_item_id", item.ID),
	)
	return item, nil
}

// ListFoods はユーザーの食材一覧を名前順で返す。
func (s *CatalogService) ListFoods(ctx context.Context, userID string) ([]*model.FoodItem, error) {
	items, err := s.foodRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("食材一覧の取得に失敗しました: %w", err)
	}
	if items == nil {
		items = []*model.FoodItem{}
	}
	return items, nil
}

// GetFood はユーザーが所有する食材を取得する。
func (s *CatalogService) GetFood(ctx context.Context, userID, foodItemID string) (*model.FoodItem, error) {
	item, err := s.foodRepo.FindByID(ctx, foodItemID)
	if err != nil {
		return nil, fmt.Errorf("食材の取得に失敗しました: %w", err)
	}
	if item == nil || item.UserID != userID {
		return nil, model.NewFoodNotFoundError(foodItemID)
	}
	return item, nil
}

// UpdateFood は食材の名前・カテゴリ・メモを更新する。
func (s *CatalogService) UpdateFood(ctx context.Context, userID, foodItemID string, upd FoodUpdate) (*model.FoodItem, error) {
	item, err := s.GetFood(ctx, userID, foodItemID)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		name, err := s.normalizeName(*upd.Name)
		if err != nil {
			return nil, err
		}
		item.Name = name
	}
	if upd.Category != nil {
		item.Category = s.sanitizer.Sanitize(*upd.Category)
	}
	if upd.Notes != nil {
		item.Notes = s.sanitizer.Sanitize(*upd.Notes)
	}
	item.UpdatedAt = s.now()

	if err := s.foodRepo.UpdateDetails(ctx, item); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewFoodAlreadyExistsError(item.Name)
		}
		return nil, fmt.Errorf("食材の更新に失敗しました: %w", err)
	}
	return item, nil
}

// DeleteFood は食材を削除する。
// 離乳食記録に紐付いている食材は削除せずFOOD_IN_USEを返す。
func (s *CatalogService) DeleteFood(ctx context.Context, userID, foodItemID string) error {
	item, err := s.GetFood(ctx, userID, foodItemID)
	if err != nil {
		return err
	}
	if item.TimesConsumed > 0 {
		return model.NewFoodInUseError(item.Name, item.TimesConsumed)
	}

	if err := s.foodRepo.Delete(ctx, item.ID); err != nil {
		if errors.Is(err, repository.ErrReferenced) {
			// カウンタが実際の紐付けとずれていたため、再集計して正しい件数を返す
			counters, recountErr := s.foodRepo.Recount(ctx, item.ID)
			if recountErr != nil {
				s.logger.Warn("食材カウンタの再集計に失敗しました",
					slog.String("food_item_id", item.ID),
					slog.String("error", recountErr.Error()),
				)
			}
			return model.NewFoodInUseError(item.Name, counters.TimesConsumed)
		}
		return fmt.Errorf("食材の削除に失敗しました: %w", err)
	}

	s.logger.Info("食材を削除しました",
		slog.String("user_id", userID),
		slog.String("food_item_id", item.ID),
	)
	return nil
}

// FoodHistory は赤ちゃんの離乳食履歴を新しい順で返す。
// 旧形式の記録はLegacyFoodRecord、紐付けを持つ記録はMultiFoodEventとして返す。
func (s *CatalogService) FoodHistory(ctx context.Context, userID, babyID string, limit int) ([]model.FoodRecord, error) {
	baby, err := s.babyRepo.FindByID(ctx, userID, babyID)
	if err != nil {
		return nil, fmt.Errorf("赤ちゃんの取得に失敗しました: %w", err)
	}
	if baby == nil {
		return nil, model.NewBabyNotFoundError(babyID)
	}

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	solid := model.FeedingTypeSolid
	events, err := s.feedingRepo.List(ctx, userID, model.FeedingFilter{
		BabyID: &babyID,
		Type:   &solid,
		Limit:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("離乳食記録の取得に失敗しました: %w", err)
	}
	if len(events) == 0 {
		return []model.FoodRecord{}, nil
	}

	eventIDs := make([]string, len(events))
	for i, e := range events {
		eventIDs[i] = e.ID
	}
	assocs, err := s.assocRepo.ListByFeedings(ctx, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("紐付けの取得に失敗しました: %w", err)
	}

	foodIDsByEvent := make(map[string][]string, len(events))
	var foodIDs []string
	for _, a := range assocs {
		foodIDsByEvent[a.FeedingEventID] = append(foodIDsByEvent[a.FeedingEventID], a.FoodItemID)
		foodIDs = append(foodIDs, a.FoodItemID)
	}

	items, err := s.foodRepo.FindByIDs(ctx, userID, uniqueIDs(foodIDs))
	if err != nil {
		return nil, fmt.Errorf("食材の取得に失敗しました: %w", err)
	}
	itemByID := make(map[string]*model.FoodItem, len(items))
	for _, item := range items {
		itemByID[item.ID] = item
	}

	records := make([]model.FoodRecord, 0, len(events))
	for _, e := range events {
		var foods []*model.FoodItem
		for _, id := range foodIDsByEvent[e.ID] {
			if item, ok := itemByID[id]; ok {
				foods = append(foods, item)
			}
		}
		records = append(records, model.NewFoodRecord(e, foods))
	}
	return records, nil
}

// normalizeName は食材名をサニタイズ・トリムし、長さを検証する。
func (s *CatalogService) normalizeName(raw string) (string, error) {
	name := strings.TrimSpace(s.sanitizer.Sanitize(raw))
	if name == "" {
		return "", model.NewValidationError("name is required")
	}
	if utf8.RuneCountInString(name) > MaxFoodNameLength {
		return "", model.NewValidationError(fmt.Sprintf("name must be at most %d characters", MaxFoodNameLength))
	}
	return name, nil
}
