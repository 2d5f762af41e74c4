// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/babylog/internal/model"
)

var (
	// ErrDuplicate は一意制約違反を表す。
	ErrDuplicate = errors.New("duplicate record")
	// ErrReferenced は他のレコードから参照されているため削除できないことを表す。
	ErrReferenced = errors.New("record is still referenced")
)

// SessionRepository はセッションデータの永続化インターフェース。
// セッションの発行は外部の認証サービスが行い、本サービスは参照と期限切れ削除のみ行う。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteExpired はbefore以前に期限切れとなったセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// BabyRepository は赤ちゃん情報の永続化インターフェース。
type BabyRepository interface {
	// FindByID はユーザーが所有する指定IDの赤ちゃんを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID, id string) (*model.Baby, error)

	// ListByUserID はユーザーの赤ちゃん一覧を登録順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Baby, error)

	// Create は赤ちゃんを登録する。
	Create(ctx context.Context, baby *model.Baby) error
}

// FeedingRepository は授乳・食事記録の永続化インターフェース。
type FeedingRepository interface {
	// FindByID は指定IDの記録を取得する。見つからない場合はnilを返す。
	// 所有者の検証は呼び出し側で行う。
	FindByID(ctx context.Context, id string) (*model.FeedingEvent, error)

	// List はユーザーの記録をoccurred_at降順で返す。
	List(ctx context.Context, userID string, filter model.FeedingFilter) ([]*model.FeedingEvent, error)

	// FindLatestByTypes は指定種別のうち最も新しい記録を返す。見つからない場合はnilを返す。
	FindLatestByTypes(ctx context.Context, userID, babyID string, types []model.FeedingType) (*model.FeedingEvent, error)

	// Create は記録を作成する。
	Create(ctx context.Context, event *model.FeedingEvent) error

	// UpdateMetadata は記録の日時・メモ・反応を部分更新し、更新後の記録を返す。
	// nilフィールドは変更しない。
	UpdateMetadata(ctx context.Context, id string, patch model.FeedingPatch) (*model.FeedingEvent, error)

	// Delete は指定IDの記録を削除する。
	Delete(ctx context.Context, id string) error
}

// FoodItemRepository は食材データの永続化インターフェース。
type FoodItemRepository interface {
	// FindByID は指定IDの食材を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.FoodItem, error)

	// FindByIDs はユーザーが所有する食材のうち、idsに含まれるものを返す。
	// 見つからないIDは結果に含まれない。
	FindByIDs(ctx context.Context, userID string, ids []string) ([]*model.FoodItem, error)

	// ListByUserID はユーザーの食材一覧を名前順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.FoodItem, error)

	// ListAfter は全ユーザーの食材をID順にlimit件ずつ返す。再集計スイープ用。
	ListAfter(ctx context.Context, afterID string, limit int) ([]*model.FoodItem, error)

	// Create は食材を作成する。同名（大文字小文字を区別しない）の食材が既にある場合はErrDuplicateを返す。
	Create(ctx context.Context, item *model.FoodItem) error

	// UpdateDetails は名前・カテゴリ・メモを更新する。カウンタは変更しない。
	UpdateDetails(ctx context.Context, item *model.FoodItem) error

	// Delete は指定IDの食材を削除する。紐付けが残っている場合はErrReferencedを返す。
	Delete(ctx context.Context, id string) error

	// Recount は関連レコードから消費回数と初回・最終日時を再集計して保存し、集計結果を返す。
	// 同じ関連レコードに対して何度呼んでも同じ結果になる。
	Recount(ctx context.Context, foodItemID string) (model.FoodCounters, error)
}

// FoodAssociationRepository は離乳食記録と食材の紐付けの永続化インターフェース。
type FoodAssociationRepository interface {
	// ListByFeeding は指定記録の紐付け一覧を返す。
	ListByFeeding(ctx context.Context, feedingEventID string) ([]*model.FoodEventAssociation, error)

	// ListByFeedings は複数記録の紐付けをまとめて返す。
	ListByFeedings(ctx context.Context, feedingEventIDs []string) ([]*model.FoodEventAssociation, error)

	// Create は紐付けを作成する。同じ組み合わせが既にある場合はErrDuplicateを返す。
	Create(ctx context.Context, assoc *model.FoodEventAssociation) error

	// Delete は指定IDの紐付けを削除する。
	Delete(ctx context.Context, id string) error
}
