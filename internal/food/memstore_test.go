package food

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/babylog/internal/model"
	"github.com/hitoshi/babylog/internal/repository"
	"github.com/hitoshi/babylog/internal/security"
)

// memStore はリポジトリの各インターフェースをメモリ上で実装するテスト用ストア。
// 紐付けの外部キー（記録削除で連鎖削除、食材削除は拒否）もPostgreSQLと同じように振る舞う。
type memStore struct {
	mu       sync.Mutex
	babies   map[string]*model.Baby
	feedings map[string]*model.FeedingEvent
	foods    map[string]*model.FoodItem
	assocs   map[string]*model.FoodEventAssociation
	seq      int

	// 失敗の注入
	failFeedingCreate  error
	failFeedingDelete  error
	failUpdateMetadata error
	failAssocCreate    map[string]error // 食材ID単位
	failAssocDelete    map[string]error // 食材ID単位
	failRecount        map[string]error // 食材ID単位
	blockAssocCreate   bool             // ctxが終了するまで紐付け作成を待たせる
	blockAssocFoods    map[string]bool  // 食材ID単位で紐付け作成を待たせる

	assocCreateCalls int
	inFlight         int
	maxInFlight      int
}

func newMemStore() *memStore {
	return &memStore{
		babies:          map[string]*model.Baby{},
		feedings:        map[string]*model.FeedingEvent{},
		foods:           map[string]*model.FoodItem{},
		assocs:          map[string]*model.FoodEventAssociation{},
		failAssocCreate: map[string]error{},
		failAssocDelete: map[string]error{},
		failRecount:     map[string]error{},
		blockAssocFoods: map[string]bool{},
	}
}

func (s *memStore) addFood(userID, name string) *model.FoodItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	item := &model.FoodItem{
		ID:     fmt.Sprintf("food-%s", strings.ToLower(name)),
		UserID: userID,
		Name:   name,
	}
	s.foods[item.ID] = item
	return item
}

func (s *memStore) addBaby(userID, name string) *model.Baby {
	s.mu.Lock()
	defer s.mu.Unlock()
	baby := &model.Baby{
		ID:                     "baby-" + strings.ToLower(name),
		UserID:                 userID,
		Name:                   name,
		FeedingIntervalMinutes: model.DefaultFeedingIntervalMinutes,
	}
	s.babies[baby.ID] = baby
	return baby
}

// counters は保存されている食材カウンタを返す。
func (s *memStore) counters(foodID string) model.FoodCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.foods[foodID].Counters()
}

// assocCount は食材を参照する紐付けの実数を返す。
func (s *memStore) assocCount(foodID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.assocs {
		if a.FoodItemID == foodID {
			n++
		}
	}
	return n
}

func (s *memStore) assocsForFeeding(feedingID string) []*model.FoodEventAssociation {
	var out []*model.FoodEventAssociation
	for _, a := range s.assocs {
		if a.FeedingEventID == feedingID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyFeeding(e *model.FeedingEvent) *model.FeedingEvent {
	c := *e
	return &c
}

func copyFood(f *model.FoodItem) *model.FoodItem {
	c := *f
	return &c
}

// --- BabyRepository ---

func (s *memStore) BabyRepo() repository.BabyRepository { return (*memBabyRepo)(s) }

type memBabyRepo memStore

func (r *memBabyRepo) FindByID(ctx context.Context, userID, id string) (*model.Baby, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.babies[id]
	if !ok || b.UserID != userID {
		return nil, nil
	}
	c := *b
	return &c, nil
}

func (r *memBabyRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Baby, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Baby
	for _, b := range s.babies {
		if b.UserID == userID {
			c := *b
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memBabyRepo) Create(ctx context.Context, baby *model.Baby) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *baby
	s.babies[baby.ID] = &c
	return nil
}

// --- FeedingRepository ---

func (s *memStore) FeedingRepo() repository.FeedingRepository { return (*memFeedingRepo)(s) }

type memFeedingRepo memStore

func (r *memFeedingRepo) FindByID(ctx context.Context, id string) (*model.FeedingEvent, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.feedings[id]
	if !ok {
		return nil, nil
	}
	return copyFeeding(e), nil
}

func (r *memFeedingRepo) List(ctx context.Context, userID string, filter model.FeedingFilter) ([]*model.FeedingEvent, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.FeedingEvent
	for _, e := range s.feedings {
		if e.UserID != userID {
			continue
		}
		if filter.BabyID != nil && (e.BabyID == nil || *e.BabyID != *filter.BabyID) {
			continue
		}
		if filter.Type != nil && e.Type != *filter.Type {
			continue
		}
		if !filter.Since.IsZero() && e.OccurredAt.Before(filter.Since) {
			continue
		}
		out = append(out, copyFeeding(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memFeedingRepo) FindLatestByTypes(ctx context.Context, userID, babyID string, types []model.FeedingType) (*model.FeedingEvent, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.FeedingEvent
	for _, e := range s.feedings {
		if e.UserID != userID || e.BabyID == nil || *e.BabyID != babyID {
			continue
		}
		for _, t := range types {
			if e.Type == t && (latest == nil || e.OccurredAt.After(latest.OccurredAt)) {
				latest = e
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyFeeding(latest), nil
}

func (r *memFeedingRepo) Create(ctx context.Context, event *model.FeedingEvent) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFeedingCreate != nil {
		return s.failFeedingCreate
	}
	s.feedings[event.ID] = copyFeeding(event)
	return nil
}

func (r *memFeedingRepo) UpdateMetadata(ctx context.Context, id string, patch model.FeedingPatch) (*model.FeedingEvent, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdateMetadata != nil {
		return nil, s.failUpdateMetadata
	}
	e, ok := s.feedings[id]
	if !ok {
		return nil, nil
	}
	if patch.OccurredAt != nil {
		e.OccurredAt = *patch.OccurredAt
	}
	if patch.Notes != nil {
		e.Notes = *patch.Notes
	}
	if patch.Reaction != nil {
		e.Reaction = *patch.Reaction
	}
	return copyFeeding(e), nil
}

func (r *memFeedingRepo) Delete(ctx context.Context, id string) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFeedingDelete != nil {
		return s.failFeedingDelete
	}
	if _, ok := s.feedings[id]; !ok {
		return fmt.Errorf("feeding not found: %s", id)
	}
	delete(s.feedings, id)
	// ON DELETE CASCADE
	for aid, a := range s.assocs {
		if a.FeedingEventID == id {
			delete(s.assocs, aid)
		}
	}
	return nil
}

// --- FoodItemRepository ---

func (s *memStore) FoodRepo() repository.FoodItemRepository { return (*memFoodRepo)(s) }

type memFoodRepo memStore

func (r *memFoodRepo) FindByID(ctx context.Context, id string) (*model.FoodItem, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.foods[id]
	if !ok {
		return nil, nil
	}
	return copyFood(f), nil
}

func (r *memFoodRepo) FindByIDs(ctx context.Context, userID string, ids []string) ([]*model.FoodItem, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.FoodItem
	for _, id := range ids {
		if f, ok := s.foods[id]; ok && f.UserID == userID {
			out = append(out, copyFood(f))
		}
	}
	return out, nil
}

func (r *memFoodRepo) ListByUserID(ctx context.Context, userID string) ([]*model.FoodItem, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.FoodItem
	for _, f := range s.foods {
		if f.UserID == userID {
			out = append(out, copyFood(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, nil
}

func (r *memFoodRepo) ListAfter(ctx context.Context, afterID string, limit int) ([]*model.FoodItem, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.FoodItem
	for _, f := range s.foods {
		if f.ID > afterID {
			out = append(out, copyFood(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memFoodRepo) duplicateName(userID, id, name string) bool {
	for _, f := range r.foods {
		if f.UserID == userID && f.ID != id && strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

func (r *memFoodRepo) Create(ctx context.Context, item *model.FoodItem) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.duplicateName(item.UserID, item.ID, item.Name) {
		return repository.ErrDuplicate
	}
	s.foods[item.ID] = copyFood(item)
	return nil
}

func (r *memFoodRepo) UpdateDetails(ctx context.Context, item *model.FoodItem) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.duplicateName(item.UserID, item.ID, item.Name) {
		return repository.ErrDuplicate
	}
	f, ok := s.foods[item.ID]
	if !ok {
		return nil
	}
	f.Name, f.Category, f.Notes, f.UpdatedAt = item.Name, item.Category, item.Notes, item.UpdatedAt
	return nil
}

func (r *memFoodRepo) Delete(ctx context.Context, id string) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	// ON DELETE RESTRICT
	for _, a := range s.assocs {
		if a.FoodItemID == id {
			return repository.ErrReferenced
		}
	}
	delete(s.foods, id)
	return nil
}

func (r *memFoodRepo) Recount(ctx context.Context, foodItemID string) (model.FoodCounters, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failRecount[foodItemID]; err != nil {
		return model.FoodCounters{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.FoodCounters{}, err
	}
	f, ok := s.foods[foodItemID]
	if !ok {
		return model.FoodCounters{}, fmt.Errorf("food item not found: %s", foodItemID)
	}

	var counters model.FoodCounters
	for _, a := range s.assocs {
		if a.FoodItemID != foodItemID {
			continue
		}
		e, ok := s.feedings[a.FeedingEventID]
		if !ok {
			continue
		}
		counters.TimesConsumed++
		at := e.OccurredAt
		if counters.FirstTriedAt == nil || at.Before(*counters.FirstTriedAt) {
			counters.FirstTriedAt = &at
		}
		if counters.LastTriedAt == nil || at.After(*counters.LastTriedAt) {
			last := at
			counters.LastTriedAt = &last
		}
	}
	f.TimesConsumed = counters.TimesConsumed
	f.FirstTriedAt = counters.FirstTriedAt
	f.LastTriedAt = counters.LastTriedAt
	return counters, nil
}

// --- FoodAssociationRepository ---

func (s *memStore) AssocRepo() repository.FoodAssociationRepository { return (*memAssocRepo)(s) }

type memAssocRepo memStore

func (r *memAssocRepo) ListByFeeding(ctx context.Context, feedingEventID string) ([]*model.FoodEventAssociation, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assocsForFeeding(feedingEventID), nil
}

func (r *memAssocRepo) ListByFeedings(ctx context.Context, feedingEventIDs []string) ([]*model.FoodEventAssociation, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.FoodEventAssociation
	for _, id := range feedingEventIDs {
		out = append(out, s.assocsForFeeding(id)...)
	}
	return out, nil
}

func (r *memAssocRepo) Create(ctx context.Context, assoc *model.FoodEventAssociation) error {
	s := (*memStore)(r)

	s.mu.Lock()
	s.assocCreateCalls++
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	block := s.blockAssocCreate || s.blockAssocFoods[assoc.FoodItemID]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	// 並列実行を観測できるよう少し待つ
	time.Sleep(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failAssocCreate[assoc.FoodItemID]; err != nil {
		return err
	}
	if _, ok := s.feedings[assoc.FeedingEventID]; !ok {
		return errors.New("foreign key violation: feeding")
	}
	for _, a := range s.assocs {
		if a.FeedingEventID == assoc.FeedingEventID && a.FoodItemID == assoc.FoodItemID {
			return repository.ErrDuplicate
		}
	}
	s.seq++
	c := *assoc
	c.ID = fmt.Sprintf("assoc-%04d", s.seq)
	s.assocs[c.ID] = &c
	return nil
}

func (r *memAssocRepo) Delete(ctx context.Context, id string) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.assocs[id]; ok {
		if err := s.failAssocDelete[a.FoodItemID]; err != nil {
			return err
		}
	}
	delete(s.assocs, id)
	return nil
}

var (
	_ repository.BabyRepository            = (*memBabyRepo)(nil)
	_ repository.FeedingRepository         = (*memFeedingRepo)(nil)
	_ repository.FoodItemRepository        = (*memFoodRepo)(nil)
	_ repository.FoodAssociationRepository = (*memAssocRepo)(nil)
)

// --- ヘルパー ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestReconciler(s *memStore) *Reconciler {
	return NewReconciler(
		s.FeedingRepo(), s.FoodRepo(), s.AssocRepo(), s.BabyRepo(),
		security.NewTextSanitizer(), nil, discardLogger(),
		time.Second, 4,
	)
}

func newTestCatalog(s *memStore) *CatalogService {
	return NewCatalogService(
		s.FoodRepo(), s.FeedingRepo(), s.AssocRepo(), s.BabyRepo(),
		security.NewTextSanitizer(), discardLogger(),
	)
}
