package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/babylog/internal/model"
	"github.com/lib/pq"
)

const foodItemColumns = `id, user_id, name, category, notes, times_consumed,
	first_tried_date, last_tried_date, created_at, updated_at`

// PostgresFoodItemRepo はPostgreSQLを使用した食材リポジトリ。
type PostgresFoodItemRepo struct {
	db *sql.DB
}

// NewPostgresFoodItemRepo はPostgresFoodItemRepoを生成する。
func NewPostgresFoodItemRepo(db *sql.DB) *PostgresFoodItemRepo {
	return &PostgresFoodItemRepo{db: db}
}

func scanFoodItem(row rowScanner) (*model.FoodItem, error) {
	item := &model.FoodItem{}
	var category, notes sql.NullString
	var firstTried, lastTried sql.NullTime

	err := row.Scan(
		&item.ID, &item.UserID, &item.Name, &category, &notes, &item.TimesConsumed,
		&firstTried, &lastTried, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Category = nullStringValue(category)
	item.Notes = nullStringValue(notes)
	item.FirstTriedAt = nullTimePtr(firstTried)
	item.LastTriedAt = nullTimePtr(lastTried)
	return item, nil
}

func (r *PostgresFoodItemRepo) queryItems(ctx context.Context, query string, args ...any) ([]*model.FoodItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*model.FoodItem
	for rows.Next() {
		item, err := scanFoodItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// FindByID は指定IDの食材を取得する。見つからない場合はnilを返す。
func (r *PostgresFoodItemRepo) FindByID(ctx context.Context, id string) (*model.FoodItem, error) {
	if !isUUID(id) {
		return nil, nil
	}
	item, err := scanFoodItem(r.db.QueryRowContext(ctx,
		`SELECT `+foodItemColumns+` FROM food_items WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("食材の取得に失敗しました: %w", err)
	}
	return item, nil
}

// FindByIDs はユーザーが所有する食材のうち、idsに含まれるものを返す。
// UUIDでないIDは一致しないものとして結果から外れる。
func (r *PostgresFoodItemRepo) FindByIDs(ctx context.Context, userID string, ids []string) ([]*model.FoodItem, error) {
	ids = uuidsOnly(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	items, err := r.queryItems(ctx,
		`SELECT `+foodItemColumns+` FROM food_items
		 WHERE user_id = $1 AND id = ANY($2)`,
		userID, pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("食材の一括取得に失敗しました: %w", err)
	}
	return items, nil
}

// ListByUserID はユーザーの食材一覧を名前順で返す。
func (r *PostgresFoodItemRepo) ListByUserID(ctx context.Context, userID string) ([]*model.FoodItem, error) {
	items, err := r.queryItems(ctx,
		`SELECT `+foodItemColumns+` FROM food_items
		 WHERE user_id = $1
		 ORDER BY lower(name), id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("食材一覧の取得に失敗しました: %w", err)
	}
	return items, nil
}

// ListAfter は全ユーザーの食材をID順にlimit件ずつ返す。
// afterIDが空の場合は先頭から返す。
func (r *PostgresFoodItemRepo) ListAfter(ctx context.Context, afterID string, limit int) ([]*model.FoodItem, error) {
	if afterID == "" {
		afterID = uuid.Nil.String()
	}
	items, err := r.queryItems(ctx,
		`SELECT `+foodItemColumns+` FROM food_items
		 WHERE id > $1
		 ORDER BY id
		 LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("食材のページ取得に失敗しました: %w", err)
	}
	return items, nil
}

// Create は食材を作成する。
// (user_id, lower(name))の一意制約に違反した場合はErrDuplicateを返す。
func (r *PostgresFoodItemRepo) Create(ctx context.Context, item *model.FoodItem) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO food_items (id, user_id, name, category, notes, times_consumed,
		                         first_tried_date, last_tried_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, NULL, NULL, $6, $7)`,
		item.ID, item.UserID, item.Name, nullString(item.Category), nullString(item.Notes),
		item.CreatedAt, item.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("食材の作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateDetails は名前・カテゴリ・メモを更新する。カウンタは変更しない。
func (r *PostgresFoodItemRepo) UpdateDetails(ctx context.Context, item *model.FoodItem) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE food_items SET name = $2, category = $3, notes = $4, updated_at = $5
		 WHERE id = $1`,
		item.ID, item.Name, nullString(item.Category), nullString(item.Notes), item.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("食材の更新に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDの食材を削除する。
// 紐付けの外部キー（ON DELETE RESTRICT）に違反した場合はErrReferencedを返す。
func (r *PostgresFoodItemRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM food_items WHERE id = $1`,
		id,
	)
	if isForeignKeyViolation(err) {
		return ErrReferenced
	}
	if err != nil {
		return fmt.Errorf("食材の削除に失敗しました: %w", err)
	}
	return nil
}

// Recount は関連レコードから消費回数と初回・最終日時を再集計して保存する。
// 集計と書き込みを1文で行うため、他の操作と並行しても最終的に関連レコードと一致する。
func (r *PostgresFoodItemRepo) Recount(ctx context.Context, foodItemID string) (model.FoodCounters, error) {
	if !isUUID(foodItemID) {
		return model.FoodCounters{}, fmt.Errorf("food item not found: %s", foodItemID)
	}
	var counters model.FoodCounters
	var firstTried, lastTried sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`UPDATE food_items SET
		    times_consumed = s.cnt,
		    first_tried_date = s.first_tried,
		    last_tried_date = s.last_tried,
		    updated_at = now()
		 FROM (
		    SELECT count(a.id) AS cnt,
		           min(f.occurred_at) AS first_tried,
		           max(f.occurred_at) AS last_tried
		    FROM food_event_associations a
		    JOIN feedings f ON f.id = a.feeding_event_id
		    WHERE a.food_item_id = $1
		 ) s
		 WHERE food_items.id = $1
		 RETURNING food_items.times_consumed, food_items.first_tried_date, food_items.last_tried_date`,
		foodItemID,
	).Scan(&counters.TimesConsumed, &firstTried, &lastTried)
	if err == sql.ErrNoRows {
		return model.FoodCounters{}, fmt.Errorf("food item not found: %s", foodItemID)
	}
	if err != nil {
		return model.FoodCounters{}, fmt.Errorf("食材カウンタの再集計に失敗しました: %w", err)
	}

	counters.FirstTriedAt = nullTimePtr(firstTried)
	counters.LastTriedAt = nullTimePtr(lastTried)
	return counters, nil
}

// compile-time interface check
var _ FoodItemRepository = (*PostgresFoodItemRepo)(nil)
