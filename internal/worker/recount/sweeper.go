// Package recount は食材カウンタを関連レコードから定期的に再集計するスイープ処理を提供する。
// 離乳食記録の更新途中で失敗したカウンタは、このスイープで最終的に収束する。
package recount

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bsm/redislock"

	"github.com/hitoshi/babylog/internal/metrics"
	"github.com/hitoshi/babylog/internal/model"
	"github.com/hitoshi/babylog/internal/repository"
)

// LockKey は複数ワーカー間でスイープを排他するためのRedisキー。
const LockKey = "babylog:recount-sweep"

// デフォルト値
const (
	defaultConcurrency = 8
	defaultPageSize    = 500
	defaultLockTTL     = 10 * time.Minute
)

// Recounter は1食材のカウンタ再集計を行うインターフェース。
// food.Reconciler が実装する。
type Recounter interface {
	RecountFood(ctx context.Context, foodItemID string) (model.FoodCounters, error)
}

// Locker は分散ロックの取得インターフェース。*redislock.Client が実装する。
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// Result は1回のスイープの集計結果。
type Result struct {
	Scanned int
	Drifted int
	Failed  int
	Skipped bool
}

// Sweeper は全食材のカウンタを再集計する。
// lockerがnilの場合はロックを取らずに実行する（単一ワーカー構成）。
type Sweeper struct {
	foodRepo       repository.FoodItemRepository
	recounter      Recounter
	locker         Locker
	collector      metrics.MetricsCollector
	logger         *slog.Logger
	maxConcurrency int
	pageSize       int
	lockTTL        time.Duration
}

// NewSweeper はSweeperの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値8を使用する。
func NewSweeper(
	foodRepo repository.FoodItemRepository,
	recounter Recounter,
	locker Locker,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxConcurrency int,
	lockTTL time.Duration,
) *Sweeper {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultConcurrency
	}
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Sweeper{
		foodRepo:       foodRepo,
		recounter:      recounter,
		locker:         locker,
		collector:      collector,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		pageSize:       defaultPageSize,
		lockTTL:        lockTTL,
	}
}

// Start は指定間隔のティッカーでスイープを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("再集計スイープを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
		slog.Bool("distributed_lock", s.locker != nil),
	)

	// 起動直後に1回実行
	s.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("再集計スイープを停止しました")
			return
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

func (s *Sweeper) runAndLog(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("再集計スイープの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は全食材をID順にページングしながら再集計する。
// 他のワーカーがロックを保持している場合は何もせずSkipped=trueを返す。
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, LockKey, s.lockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			s.logger.Info("他のワーカーがスイープ中のためスキップします")
			return Result{Skipped: true}, nil
		}
		if err != nil {
			return Result{}, err
		}
		defer func() {
			// 期限切れで既に解放されている場合もある
			if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				s.logger.Warn("スイープロックの解放に失敗しました", slog.String("error", err.Error()))
			}
		}()
	}

	start := time.Now()
	var (
		result  Result
		drifted atomic.Int64
		failed  atomic.Int64
	)

	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		items, err := s.foodRepo.ListAfter(ctx, afterID, s.pageSize)
		if err != nil {
			return result, err
		}
		if len(items) == 0 {
			break
		}

		// semaphoreパターンで並列数を制御
		sem := make(chan struct{}, s.maxConcurrency)
		var wg sync.WaitGroup

		for _, item := range items {
			wg.Add(1)
			sem <- struct{}{}

			go func(it *model.FoodItem) {
				defer wg.Done()
				defer func() { <-sem }()

				counters, err := s.recounter.RecountFood(ctx, it.ID)
				if err != nil {
					failed.Add(1)
					s.logger.Error("食材カウンタの再集計に失敗しました",
						slog.String("food_item_id", it.ID),
						slog.String("error", err.Error()),
					)
					return
				}
				if !counters.Equal(it.Counters()) {
					drifted.Add(1)
					s.logger.Warn("食材カウンタのずれを修正しました",
						slog.String("food_item_id", it.ID),
						slog.Int("before", it.TimesConsumed),
						slog.Int("after", counters.TimesConsumed),
					)
				}
			}(item)
		}
		wg.Wait()

		result.Scanned += len(items)
		afterID = items[len(items)-1].ID
		if len(items) < s.pageSize {
			break
		}
	}

	result.Drifted = int(drifted.Load())
	result.Failed = int(failed.Load())
	s.collector.RecordCounterDrift(result.Drifted)

	s.logger.Info("再集計スイープが完了しました",
		slog.Int("scanned", result.Scanned),
		slog.Int("drifted", result.Drifted),
		slog.Int("failed", result.Failed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return result, nil
}
