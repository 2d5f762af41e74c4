package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeedingType は授乳・食事記録の種別を表す。
type FeedingType string

const (
	// FeedingTypeNursing は母乳（直接授乳）。
	FeedingTypeNursing FeedingType = "nursing"
	// FeedingTypeBottle は哺乳瓶による搾乳母乳。
	FeedingTypeBottle FeedingType = "bottle"
	// FeedingTypeFormula は粉ミルク。
	FeedingTypeFormula FeedingType = "formula"
	// FeedingTypePumping は搾乳の記録。赤ちゃんへの授乳ではない。
	FeedingTypePumping FeedingType = "pumping"
	// FeedingTypeSolid は離乳食。1件に複数の食材が紐付く。
	FeedingTypeSolid FeedingType = "solid"
)

// Valid はサポート対象の種別かどうかを返す。
func (t FeedingType) Valid() bool {
	switch t {
	case FeedingTypeNursing, FeedingTypeBottle, FeedingTypeFormula, FeedingTypePumping, FeedingTypeSolid:
		return true
	}
	return false
}

// CountsTowardNextFeeding は次回授乳リマインダーの計算対象となる種別かどうかを返す。
// 離乳食と搾乳は対象外。
func (t FeedingType) CountsTowardNextFeeding() bool {
	switch t {
	case FeedingTypeNursing, FeedingTypeBottle, FeedingTypeFormula:
		return true
	}
	return false
}

// NursingSide は直接授乳の左右を表す。
type NursingSide string

const (
	NursingSideLeft  NursingSide = "left"
	NursingSideRight NursingSide = "right"
	NursingSideBoth  NursingSide = "both"
)

// FeedingEvent は1回分の授乳・食事記録を表す。
// BabyIDはアカウント単位の記録ではnilになる。
type FeedingEvent struct {
	ID              string
	UserID          string
	BabyID          *string
	Type            FeedingType
	OccurredAt      time.Time
	Notes           string
	Reaction        string           // 離乳食のみ
	Amount          *decimal.Decimal // ml。離乳食では使用しない
	Side            NursingSide      // 直接授乳のみ
	DurationMinutes *int             // 直接授乳・搾乳のみ
	LegacyFoodName  *string          // 旧クライアントが書き込んだ単一食材の離乳食記録
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FeedingPatch は授乳記録のメタデータ部分更新を表す。
// nilフィールドは変更しない。
type FeedingPatch struct {
	OccurredAt *time.Time
	Notes      *string
	Reaction   *string
}

// IsEmpty は変更項目がひとつもないかどうかを返す。
func (p FeedingPatch) IsEmpty() bool {
	return p.OccurredAt == nil && p.Notes == nil && p.Reaction == nil
}

// FeedingFilter は授乳記録一覧の検索条件を表す。
type FeedingFilter struct {
	BabyID *string
	Type   *FeedingType
	Since  time.Time
	Limit  int
}
