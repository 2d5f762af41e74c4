package model

import (
	"fmt"
	"strings"
	"time"
)

// FoodItem はユーザーが赤ちゃんに与えたことのある食材を表す。
// ユーザー単位で管理し、同じユーザーの赤ちゃん全員で共有する。
//
// TimesConsumed、FirstTriedAt、LastTriedAtは関連レコードから再集計される派生値であり、
// 直接加算・減算してはならない。
type FoodItem struct {
	ID            string
	UserID        string
	Name          string
	Category      string
	Notes         string
	TimesConsumed int
	FirstTriedAt  *time.Time
	LastTriedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FoodEventAssociation は離乳食記録と食材の紐付けを表す。
type FoodEventAssociation struct {
	ID             string
	FeedingEventID string
	FoodItemID     string
	CreatedAt      time.Time
}

// FoodCounters は再集計で得られる食材の消費カウンタ。
type FoodCounters struct {
	TimesConsumed int
	FirstTriedAt  *time.Time
	LastTriedAt   *time.Time
}

// Equal は2つのカウンタが同じ値かどうかを返す。
func (c FoodCounters) Equal(o FoodCounters) bool {
	return c.TimesConsumed == o.TimesConsumed &&
		timePtrEqual(c.FirstTriedAt, o.FirstTriedAt) &&
		timePtrEqual(c.LastTriedAt, o.LastTriedAt)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// Counters は食材に保存されているカウンタを返す。
func (f *FoodItem) Counters() FoodCounters {
	return FoodCounters{
		TimesConsumed: f.TimesConsumed,
		FirstTriedAt:  f.FirstTriedAt,
		LastTriedAt:   f.LastTriedAt,
	}
}

// FoodRecord は赤ちゃんの離乳食履歴1件を表す。
// LegacyFoodRecord と MultiFoodEvent のどちらかであり、利用側は型スイッチで両方を扱う。
type FoodRecord interface {
	Feeding() *FeedingEvent
	FoodNames() []string
	foodRecord()
}

// LegacyFoodRecord は旧形式の離乳食記録。
// 食材は授乳記録の legacy_food_name に文字列で保存され、関連レコードを持たない。
type LegacyFoodRecord struct {
	Event    *FeedingEvent
	FoodName string
}

// Feeding は元の授乳記録を返す。
func (r LegacyFoodRecord) Feeding() *FeedingEvent { return r.Event }

// FoodNames は食材名を返す。
func (r LegacyFoodRecord) FoodNames() []string { return []string{r.FoodName} }

func (LegacyFoodRecord) foodRecord() {}

// MultiFoodEvent は関連レコードで1件以上の食材に紐付いた離乳食記録。
type MultiFoodEvent struct {
	Event *FeedingEvent
	Foods []*FoodItem
}

// Feeding は元の授乳記録を返す。
func (r MultiFoodEvent) Feeding() *FeedingEvent { return r.Event }

// FoodNames は紐付いた食材名を返す。
func (r MultiFoodEvent) FoodNames() []string {
	names := make([]string, len(r.Foods))
	for i, f := range r.Foods {
		names[i] = f.Name
	}
	return names
}

func (MultiFoodEvent) foodRecord() {}

// NewFoodRecord は授乳記録と紐付いた食材から適切な履歴レコードを生成する。
// 関連レコードがなく legacy_food_name を持つ場合は旧形式として扱う。
func NewFoodRecord(event *FeedingEvent, foods []*FoodItem) FoodRecord {
	if len(foods) == 0 && event.LegacyFoodName != nil {
		return LegacyFoodRecord{Event: event, FoodName: *event.LegacyFoodName}
	}
	return MultiFoodEvent{Event: event, Foods: foods}
}

// FailureStage は部分失敗が発生した処理段階を表す。
type FailureStage string

const (
	FailureStageAssociate    FailureStage = "associate"
	FailureStageDisassociate FailureStage = "disassociate"
	FailureStageRecount      FailureStage = "recount"
)

// FoodFailure は複数食材の処理中に個別の食材で発生した失敗を表す。
type FoodFailure struct {
	FoodItemID string
	FoodName   string
	Stage      FailureStage
	Reason     string
}

// ReconcileResult は離乳食記録の作成・更新・削除の結果を表す。
// 一部の食材で失敗しても記録自体は残るため、成功と失敗を両方保持する。
type ReconcileResult struct {
	Event     *FeedingEvent
	Added     []string // 紐付けを追加した食材ID
	Removed   []string // 紐付けを解除した食材ID
	Recounted []string // 再集計した食材ID
	Failed    []FoodFailure
}

// Partial は一部の食材で失敗があったかどうかを返す。
func (r *ReconcileResult) Partial() bool {
	return len(r.Failed) > 0
}

// Summary は部分失敗をユーザー向けに要約する。
// 例: "3 of 4 foods recorded; 'Carrot' failed to save"
func (r *ReconcileResult) Summary(requested int) string {
	failedNames := make([]string, 0, len(r.Failed))
	seen := make(map[string]bool)
	saveFailures := 0
	for _, f := range r.Failed {
		if f.Stage != FailureStageAssociate || seen[f.FoodItemID] {
			continue
		}
		seen[f.FoodItemID] = true
		saveFailures++
		name := f.FoodName
		if name == "" {
			name = f.FoodItemID
		}
		failedNames = append(failedNames, fmt.Sprintf("'%s'", name))
	}
	if saveFailures == 0 {
		return fmt.Sprintf("%d of %d foods recorded", requested, requested)
	}
	return fmt.Sprintf("%d of %d foods recorded; %s failed to save",
		requested-saveFailures, requested, strings.Join(failedNames, ", "))
}
