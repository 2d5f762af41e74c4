package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/babylog/internal/model"
	"github.com/lib/pq"
)

// PostgresFoodAssociationRepo はPostgreSQLを使用した離乳食記録と食材の紐付けリポジトリ。
type PostgresFoodAssociationRepo struct {
	db *sql.DB
}

// NewPostgresFoodAssociationRepo はPostgresFoodAssociationRepoを生成する。
func NewPostgresFoodAssociationRepo(db *sql.DB) *PostgresFoodAssociationRepo {
	return &PostgresFoodAssociationRepo{db: db}
}

func (r *PostgresFoodAssociationRepo) query(ctx context.Context, query string, args ...any) ([]*model.FoodEventAssociation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assocs []*model.FoodEventAssociation
	for rows.Next() {
		a := &model.FoodEventAssociation{}
		if err := rows.Scan(&a.ID, &a.FeedingEventID, &a.FoodItemID, &a.CreatedAt); err != nil {
			return nil, err
		}
		assocs = append(assocs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assocs, nil
}

// ListByFeeding は指定記録の紐付け一覧を作成順で返す。
func (r *PostgresFoodAssociationRepo) ListByFeeding(ctx context.Context, feedingEventID string) ([]*model.FoodEventAssociation, error) {
	if !isUUID(feedingEventID) {
		return nil, nil
	}
	assocs, err := r.query(ctx,
		`SELECT id, feeding_event_id, food_item_id, created_at
		 FROM food_event_associations
		 WHERE feeding_event_id = $1
		 ORDER BY created_at, id`,
		feedingEventID,
	)
	if err != nil {
		return nil, fmt.Errorf("紐付け一覧の取得に失敗しました: %w", err)
	}
	return assocs, nil
}

// ListByFeedings は複数記録の紐付けをまとめて返す。
func (r *PostgresFoodAssociationRepo) ListByFeedings(ctx context.Context, feedingEventIDs []string) ([]*model.FoodEventAssociation, error) {
	feedingEventIDs = uuidsOnly(feedingEventIDs)
	if len(feedingEventIDs) == 0 {
		return nil, nil
	}
	assocs, err := r.query(ctx,
		`SELECT id, feeding_event_id, food_item_id, created_at
		 FROM food_event_associations
		 WHERE feeding_event_id = ANY($1)
		 ORDER BY created_at, id`,
		pq.Array(feedingEventIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("紐付けの一括取得に失敗しました: %w", err)
	}
	return assocs, nil
}

// Create は紐付けを作成する。
// (feeding_event_id, food_item_id)の一意制約に違反した場合はErrDuplicateを返す。
func (r *PostgresFoodAssociationRepo) Create(ctx context.Context, assoc *model.FoodEventAssociation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO food_event_associations (id, feeding_event_id, food_item_id, created_at)
		 VALUES ($1, $2, $3, $4)`,
		assoc.ID, assoc.FeedingEventID, assoc.FoodItemID, assoc.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("紐付けの作成に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDの紐付けを削除する。既に存在しない場合もエラーにしない。
func (r *PostgresFoodAssociationRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM food_event_associations WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("紐付けの削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ FoodAssociationRepository = (*PostgresFoodAssociationRepo)(nil)
