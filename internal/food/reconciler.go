// Package food は離乳食記録と食材カタログのドメインロジックを提供する。
//
// Reconciler は離乳食記録・食材との紐付け・食材の消費カウンタの3つを整合させる。
// カウンタは加算・減算せず、必ず紐付けから再集計する。
package food

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/babylog/internal/metrics"
	"github.com/hitoshi/babylog/internal/model"
	"github.com/hitoshi/babylog/internal/repository"
	"github.com/hitoshi/babylog/internal/security"
)

const (
	defaultReconcileTimeout     = 10 * time.Second
	defaultReconcileConcurrency = 4
	discardTimeout              = 5 * time.Second
)

// CreateSolidFoodInput は離乳食記録の作成内容を表す。
type CreateSolidFoodInput struct {
	BabyID      string
	FoodItemIDs []string
	OccurredAt  time.Time
	Notes       string
	Reaction    string
}

// Reconciler は離乳食記録の作成・更新・削除を行い、影響を受けた食材のカウンタを再集計する。
type Reconciler struct {
	feedingRepo repository.FeedingRepository
	foodRepo    repository.FoodItemRepository
	assocRepo   repository.FoodAssociationRepository
	babyRepo    repository.BabyRepository
	sanitizer   security.TextSanitizer
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	timeout     time.Duration
	concurrency int
	now         func() time.Time
}

// NewReconciler はReconcilerの新しいインスタンスを生成する。
// timeoutとconcurrencyが0以下の場合はデフォルト値（10秒、4並列）を使用する。
func NewReconciler(
	feedingRepo repository.FeedingRepository,
	foodRepo repository.FoodItemRepository,
	assocRepo repository.FoodAssociationRepository,
	babyRepo repository.BabyRepository,
	sanitizer security.TextSanitizer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	timeout time.Duration,
	concurrency int,
) *Reconciler {
	if timeout <= 0 {
		timeout = defaultReconcileTimeout
	}
	if concurrency <= 0 {
		concurrency = defaultReconcileConcurrency
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Reconciler{
		feedingRepo: feedingRepo,
		foodRepo:    foodRepo,
		assocRepo:   assocRepo,
		babyRepo:    babyRepo,
		sanitizer:   sanitizer,
		metrics:     collector,
		logger:      logger,
		timeout:     timeout,
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateSolidFoodEvent は離乳食記録を作成し、指定された食材を紐付ける。
//
// 記録の作成に失敗した場合は何も書き込まずにエラーを返す。
// 記録の作成後に一部の紐付けが失敗しても処理を続け、失敗した食材を結果に含める。
// 紐付けに成功した食材はすべて再集計する。
func (r *Reconciler) CreateSolidFoodEvent(ctx context.Context, userID string, in CreateSolidFoodInput) (*model.ReconcileResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.create(ctx, userID, in)
	if result != nil && len(result.Added) == 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		// 紐付けが1件もない記録は残さない。クライアントの再送で記録が重複しないようにする
		r.discardEvent(ctx, result.Event.ID)
		result = nil
	}
	return r.finish(ctx, metrics.OperationCreate, start, result, err)
}

func (r *Reconciler) create(ctx context.Context, userID string, in CreateSolidFoodInput) (*model.ReconcileResult, error) {
	ids := uniqueIDs(in.FoodItemIDs)
	if len(ids) == 0 {
		return nil, model.NewNoFoodsError()
	}

	var babyID *string
	if in.BabyID != "" {
		if err := r.ensureBaby(ctx, userID, in.BabyID); err != nil {
			return nil, err
		}
		babyID = &in.BabyID
	}

	foods, err := r.resolveFoods(ctx, userID, ids, ids)
	if err != nil {
		return nil, err
	}

	now := r.now()
	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}
	event := &model.FeedingEvent{
		ID:         uuid.New().String(),
		UserID:     userID,
		BabyID:     babyID,
		Type:       model.FeedingTypeSolid,
		OccurredAt: occurredAt.UTC(),
		Notes:      r.sanitizer.Sanitize(in.Notes),
		Reaction:   r.sanitizer.Sanitize(in.Reaction),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.feedingRepo.Create(ctx, event); err != nil {
		return nil, model.NewPersistenceError("create feeding event", err)
	}

	result := &model.ReconcileResult{Event: event, Removed: []string{}}
	result.Added, result.Failed = r.associate(ctx, event.ID, ids, foods)
	r.recountInto(ctx, result, result.Added, foods)
	return result, nil
}

// UpdateSolidFoodEvent は離乳食記録のメタデータと紐付けを更新する。
//
// 現在の紐付けとの差分（追加分・削除分）のみを書き込み、差分に含まれる食材を再集計する。
// 日時を変更した場合は初回・最終日時が変わりうるため、記録に紐付く全食材を再集計する。
// メタデータの更新に失敗した場合は紐付けを変更せずにエラーを返す。
func (r *Reconciler) UpdateSolidFoodEvent(ctx context.Context, userID, feedingEventID string, foodItemIDs []string, patch model.FeedingPatch) (*model.ReconcileResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.update(ctx, userID, feedingEventID, foodItemIDs, patch)
	return r.finish(ctx, metrics.OperationUpdate, start, result, err)
}

func (r *Reconciler) update(ctx context.Context, userID, feedingEventID string, foodItemIDs []string, patch model.FeedingPatch) (*model.ReconcileResult, error) {
	ids := uniqueIDs(foodItemIDs)
	if len(ids) == 0 {
		return nil, model.NewNoFoodsError()
	}

	event, err := r.findSolidEvent(ctx, userID, feedingEventID)
	if err != nil {
		return nil, err
	}

	assocs, err := r.assocRepo.ListByFeeding(ctx, event.ID)
	if err != nil {
		return nil, model.NewPersistenceError("list associations", err)
	}
	current := make([]string, 0, len(assocs))
	assocByFood := make(map[string]*model.FoodEventAssociation, len(assocs))
	for _, a := range assocs {
		if _, dup := assocByFood[a.FoodItemID]; dup {
			continue
		}
		assocByFood[a.FoodItemID] = a
		current = append(current, a.FoodItemID)
	}

	// 名前解決のため現在の食材もまとめて取得し、存在確認は新しい集合のみに行う
	foods, err := r.resolveFoods(ctx, userID, uniqueIDs(append(append([]string{}, ids...), current...)), ids)
	if err != nil {
		return nil, err
	}

	toAdd := difference(ids, current)
	toRemove := difference(current, ids)

	if !patch.IsEmpty() {
		sanitized := r.sanitizePatch(patch)
		updated, err := r.feedingRepo.UpdateMetadata(ctx, event.ID, sanitized)
		if err != nil {
			return nil, model.NewPersistenceError("update feeding event", err)
		}
		if updated == nil {
			return nil, model.NewFeedingNotFoundError(feedingEventID)
		}
		event = updated
	}

	result := &model.ReconcileResult{
		Event:   event,
		Added:   []string{},
		Removed: []string{},
	}

	for _, foodID := range toRemove {
		if err := r.assocRepo.Delete(ctx, assocByFood[foodID].ID); err != nil {
			result.Failed = append(result.Failed, r.failure(foodID, foods, model.FailureStageDisassociate, err))
			continue
		}
		result.Removed = append(result.Removed, foodID)
	}

	added, failed := r.associate(ctx, event.ID, toAdd, foods)
	result.Added = append(result.Added, added...)
	result.Failed = append(result.Failed, failed...)

	// 失敗した紐付けも再集計対象に含め、実際に残っている紐付けにカウンタを合わせる
	touched := append(append([]string{}, toAdd...), toRemove...)
	if patch.OccurredAt != nil {
		touched = uniqueIDs(append(append([]string{}, ids...), current...))
	}
	r.recountInto(ctx, result, touched, foods)
	return result, nil
}

// DeleteSolidFoodEvent は離乳食記録とその紐付けを削除し、紐付いていた食材を再集計する。
//
// 紐付けの削除は1件ずつ試み、失敗しても記録の削除を続ける。
// 記録の削除は紐付けを連鎖削除するため、残った紐付けも最終的に取り除かれる。
func (r *Reconciler) DeleteSolidFoodEvent(ctx context.Context, userID, feedingEventID string) (*model.ReconcileResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.delete(ctx, userID, feedingEventID)
	return r.finish(ctx, metrics.OperationDelete, start, result, err)
}

func (r *Reconciler) delete(ctx context.Context, userID, feedingEventID string) (*model.ReconcileResult, error) {
	event, err := r.findSolidEvent(ctx, userID, feedingEventID)
	if err != nil {
		return nil, err
	}

	assocs, err := r.assocRepo.ListByFeeding(ctx, event.ID)
	if err != nil {
		return nil, model.NewPersistenceError("list associations", err)
	}

	collected := make([]string, 0, len(assocs))
	for _, a := range assocs {
		collected = append(collected, a.FoodItemID)
	}
	collected = uniqueIDs(collected)

	// 名前は失敗の表示にのみ使うため、取得できなくても処理を続ける
	foods := map[string]*model.FoodItem{}
	if items, err := r.foodRepo.FindByIDs(ctx, userID, collected); err == nil {
		for _, item := range items {
			foods[item.ID] = item
		}
	}

	result := &model.ReconcileResult{Event: event, Added: []string{}, Removed: []string{}}
	for _, a := range assocs {
		if err := r.assocRepo.Delete(ctx, a.ID); err != nil {
			result.Failed = append(result.Failed, r.failure(a.FoodItemID, foods, model.FailureStageDisassociate, err))
			continue
		}
		result.Removed = append(result.Removed, a.FoodItemID)
	}

	if err := r.feedingRepo.Delete(ctx, event.ID); err != nil {
		// 削除済みの紐付けにカウンタを合わせてから失敗を返す
		r.recountInto(ctx, result, collected, foods)
		return nil, model.NewPersistenceError("delete feeding event", err)
	}

	r.recountInto(ctx, result, collected, foods)
	return result, nil
}

// RecountFood は食材のカウンタを紐付けから再集計して保存する。
// 紐付けに変更がなければ何度呼んでも同じ結果になる。
func (r *Reconciler) RecountFood(ctx context.Context, foodItemID string) (model.FoodCounters, error) {
	counters, err := r.foodRepo.Recount(ctx, foodItemID)
	if err != nil {
		return model.FoodCounters{}, model.NewPersistenceError("recount food item", err)
	}
	r.metrics.RecordRecounts(1)
	return counters, nil
}

// discardEvent は作成直後の記録を削除する。呼び出し元の期限とは別に短い期限で実行する。
func (r *Reconciler) discardEvent(ctx context.Context, feedingEventID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()

	if err := r.feedingRepo.Delete(ctx, feedingEventID); err != nil {
		r.logger.Error("紐付けのない離乳食記録の削除に失敗しました",
			slog.String("feeding_id", feedingEventID),
			slog.String("error", err.Error()),
		)
	}
}

// finish はタイムアウトの判定、メトリクスの記録、ログ出力をまとめて行う。
// 記録の書き込み後に期限を過ぎた場合は、未完了の食材を失敗として含めた結果を返す。
func (r *Reconciler) finish(ctx context.Context, op string, start time.Time, result *model.ReconcileResult, err error) (*model.ReconcileResult, error) {
	r.metrics.RecordReconcileLatency(op, time.Since(start))

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if result == nil {
			r.metrics.RecordReconcile(op, metrics.OutcomeError)
			r.logger.Error("離乳食記録の処理がタイムアウトしました",
				slog.String("operation", op),
				slog.Duration("timeout", r.timeout),
			)
			return nil, model.NewOperationTimeoutError(op + " solid feeding")
		}
		r.logger.Warn("離乳食記録の書き込み後にタイムアウトしました",
			slog.String("operation", op),
			slog.String("feeding_id", result.Event.ID),
			slog.Duration("timeout", r.timeout),
		)
	}

	if err != nil {
		r.metrics.RecordReconcile(op, metrics.OutcomeError)
		if apiErr, ok := model.AsAPIError(err); ok && apiErr.Code == model.ErrCodePersistenceFailed {
			r.logger.Error("離乳食記録の保存に失敗しました",
				slog.String("operation", op),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}

	for _, f := range result.Failed {
		r.metrics.RecordAssociationFailure(string(f.Stage))
	}

	attrs := []any{
		slog.String("operation", op),
		slog.String("feeding_id", result.Event.ID),
		slog.Int("added", len(result.Added)),
		slog.Int("removed", len(result.Removed)),
		slog.Int("recounted", len(result.Recounted)),
	}
	if result.Partial() {
		r.metrics.RecordReconcile(op, metrics.OutcomePartial)
		r.logger.Warn("離乳食記録の一部の食材で処理に失敗しました",
			append(attrs, slog.Int("failed", len(result.Failed)))...,
		)
		return result, nil
	}

	r.metrics.RecordReconcile(op, metrics.OutcomeSuccess)
	r.logger.Info("離乳食記録を処理しました", attrs...)
	return result, nil
}

// ensureBaby は赤ちゃんがユーザーに登録されていることを確認する。
func (r *Reconciler) ensureBaby(ctx context.Context, userID, babyID string) error {
	baby, err := r.babyRepo.FindByID(ctx, userID, babyID)
	if err != nil {
		return model.NewPersistenceError("find baby", err)
	}
	if baby == nil {
		return model.NewBabyNotFoundError(babyID)
	}
	return nil
}

// findSolidEvent はユーザーが所有する離乳食記録を取得する。
// 存在しない、他ユーザーの記録、離乳食以外の記録はいずれもNotFoundとして扱う。
func (r *Reconciler) findSolidEvent(ctx context.Context, userID, feedingEventID string) (*model.FeedingEvent, error) {
	event, err := r.feedingRepo.FindByID(ctx, feedingEventID)
	if err != nil {
		return nil, model.NewPersistenceError("find feeding event", err)
	}
	if event == nil || event.UserID != userID || event.Type != model.FeedingTypeSolid {
		return nil, model.NewFeedingNotFoundError(feedingEventID)
	}
	return event, nil
}

// resolveFoods はlookupの食材を取得し、requiredのうち見つからないものがあればNotFoundを返す。
func (r *Reconciler) resolveFoods(ctx context.Context, userID string, lookup, required []string) (map[string]*model.FoodItem, error) {
	items, err := r.foodRepo.FindByIDs(ctx, userID, lookup)
	if err != nil {
		return nil, model.NewPersistenceError("find food items", err)
	}

	foods := make(map[string]*model.FoodItem, len(items))
	for _, item := range items {
		foods[item.ID] = item
	}

	var missing []string
	for _, id := range required {
		if _, ok := foods[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, model.NewFoodNotFoundError(missing...)
	}
	return foods, nil
}

// associate は紐付けを並列に作成する。並列数はconcurrencyで制限する。
// 結果はfoodIDsの順序を保って返す。既に同じ紐付けがある場合は成功として扱う。
func (r *Reconciler) associate(ctx context.Context, eventID string, foodIDs []string, foods map[string]*model.FoodItem) ([]string, []model.FoodFailure) {
	errs := make([]error, len(foodIDs))

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup

	for i, foodID := range foodIDs {
		wg.Add(1)
		sem <- struct{}{}

		go func(i int, foodID string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			err := r.assocRepo.Create(ctx, &model.FoodEventAssociation{
				ID:             uuid.New().String(),
				FeedingEventID: eventID,
				FoodItemID:     foodID,
				CreatedAt:      r.now(),
			})
			if errors.Is(err, repository.ErrDuplicate) {
				err = nil
			}
			errs[i] = err
		}(i, foodID)
	}

	wg.Wait()

	added := make([]string, 0, len(foodIDs))
	var failed []model.FoodFailure
	for i, foodID := range foodIDs {
		if errs[i] != nil {
			failed = append(failed, r.failure(foodID, foods, model.FailureStageAssociate, errs[i]))
			continue
		}
		added = append(added, foodID)
	}
	return added, failed
}

// recountInto は食材を順に再集計し、結果をresultに記録する。
// 再集計の失敗は処理を中断せず、失敗として記録する。
func (r *Reconciler) recountInto(ctx context.Context, result *model.ReconcileResult, foodIDs []string, foods map[string]*model.FoodItem) {
	for _, foodID := range foodIDs {
		counters, err := r.foodRepo.Recount(ctx, foodID)
		if err != nil {
			result.Failed = append(result.Failed, r.failure(foodID, foods, model.FailureStageRecount, err))
			continue
		}
		if item, ok := foods[foodID]; ok {
			item.TimesConsumed = counters.TimesConsumed
			item.FirstTriedAt = counters.FirstTriedAt
			item.LastTriedAt = counters.LastTriedAt
		}
		result.Recounted = append(result.Recounted, foodID)
	}
	r.metrics.RecordRecounts(len(result.Recounted))
}

func (r *Reconciler) failure(foodID string, foods map[string]*model.FoodItem, stage model.FailureStage, err error) model.FoodFailure {
	f := model.FoodFailure{
		FoodItemID: foodID,
		Stage:      stage,
		Reason:     err.Error(),
	}
	if item, ok := foods[foodID]; ok {
		f.FoodName = item.Name
	}
	r.logger.Warn("食材の処理に失敗しました",
		slog.String("food_item_id", foodID),
		slog.String("stage", string(stage)),
		slog.String("error", err.Error()),
	)
	return f
}

func (r *Reconciler) sanitizePatch(p model.FeedingPatch) model.FeedingPatch {
	out := model.FeedingPatch{}
	if p.OccurredAt != nil {
		t := p.OccurredAt.UTC()
		out.OccurredAt = &t
	}
	if p.Notes != nil {
		n := r.sanitizer.Sanitize(*p.Notes)
		out.Notes = &n
	}
	if p.Reaction != nil {
		re := r.sanitizer.Sanitize(*p.Reaction)
		out.Reaction = &re
	}
	return out
}

// uniqueIDs は空文字列と重複を取り除き、最初に現れた順序を保って返す。
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// difference はaに含まれbに含まれないIDをaの順序で返す。
func difference(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, id := range b {
		inB[id] = struct{}{}
	}
	out := make([]string, 0)
	for _, id := range a {
		if _, ok := inB[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
