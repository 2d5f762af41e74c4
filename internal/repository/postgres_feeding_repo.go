package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/babylog/internal/model"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// feedingColumns はfeedingsテーブルのSELECT対象カラム。
const feedingColumns = `id, user_id, baby_id, type, occurred_at, notes, reaction,
	amount_ml, side, duration_minutes, legacy_food_name, created_at, updated_at`

// PostgresFeedingRepo はPostgreSQLを使用した授乳・食事記録リポジトリ。
type PostgresFeedingRepo struct {
	db *sql.DB
}

// NewPostgresFeedingRepo はPostgresFeedingRepoを生成する。
func NewPostgresFeedingRepo(db *sql.DB) *PostgresFeedingRepo {
	return &PostgresFeedingRepo{db: db}
}

// scanFeeding は1行分の記録をスキャンする。
func scanFeeding(row rowScanner) (*model.FeedingEvent, error) {
	event := &model.FeedingEvent{}
	var (
		babyID, notes, reaction, side, legacyFood sql.NullString
		amount                                    decimal.NullDecimal
		duration                                  sql.NullInt64
	)

	err := row.Scan(
		&event.ID, &event.UserID, &babyID, &event.Type, &event.OccurredAt,
		&notes, &reaction, &amount, &side, &duration, &legacyFood,
		&event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	event.BabyID = nullStringPtr(babyID)
	event.Notes = nullStringValue(notes)
	event.Reaction = nullStringValue(reaction)
	event.Side = model.NursingSide(nullStringValue(side))
	event.LegacyFoodName = nullStringPtr(legacyFood)
	if amount.Valid {
		a := amount.Decimal
		event.Amount = &a
	}
	if duration.Valid {
		d := int(duration.Int64)
		event.DurationMinutes = &d
	}

	return event, nil
}

// FindByID は指定IDの記録を取得する。見つからない場合はnilを返す。
func (r *PostgresFeedingRepo) FindByID(ctx context.Context, id string) (*model.FeedingEvent, error) {
	if !isUUID(id) {
		return nil, nil
	}
	event, err := scanFeeding(r.db.QueryRowContext(ctx,
		`SELECT `+feedingColumns+` FROM feedings WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記録の取得に失敗しました: %w", err)
	}
	return event, nil
}

// List はユーザーの記録をoccurred_at降順で返す。
func (r *PostgresFeedingRepo) List(ctx context.Context, userID string, filter model.FeedingFilter) ([]*model.FeedingEvent, error) {
	conds := []string{"user_id = $1"}
	args := []any{userID}

	if filter.BabyID != nil {
		if !isUUID(*filter.BabyID) {
			return nil, nil
		}
		args = append(args, *filter.BabyID)
		conds = append(conds, fmt.Sprintf("baby_id = $%d", len(args)))
	}
	if filter.Type != nil {
		args = append(args, string(*filter.Type))
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conds = append(conds, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	query := fmt.Sprintf(
		`SELECT %s FROM feedings WHERE %s ORDER BY occurred_at DESC, id DESC LIMIT $%d`,
		feedingColumns, strings.Join(conds, " AND "), len(args),
	)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("記録一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var events []*model.FeedingEvent
	for rows.Next() {
		event, err := scanFeeding(rows)
		if err != nil {
			return nil, fmt.Errorf("記録のスキャンに失敗しました: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記録一覧の走査に失敗しました: %w", err)
	}

	return events, nil
}

// FindLatestByTypes は指定種別のうち最も新しい記録を返す。見つからない場合はnilを返す。
func (r *PostgresFeedingRepo) FindLatestByTypes(ctx context.Context, userID, babyID string, types []model.FeedingType) (*model.FeedingEvent, error) {
	if !isUUID(babyID) {
		return nil, nil
	}
	typeNames := make([]string, len(types))
	for i, t := range types {
		typeNames[i] = string(t)
	}

	event, err := scanFeeding(r.db.QueryRowContext(ctx,
		`SELECT `+feedingColumns+` FROM feedings
		 WHERE user_id = $1 AND baby_id = $2 AND type = ANY($3)
		 ORDER BY occurred_at DESC
		 LIMIT 1`,
		userID, babyID, pq.Array(typeNames),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("最新の記録の取得に失敗しました: %w", err)
	}
	return event, nil
}

// Create は記録を作成する。
func (r *PostgresFeedingRepo) Create(ctx context.Context, event *model.FeedingEvent) error {
	var amount decimal.NullDecimal
	if event.Amount != nil {
		amount = decimal.NewNullDecimal(*event.Amount)
	}
	var duration sql.NullInt64
	if event.DurationMinutes != nil {
		duration = sql.NullInt64{Int64: int64(*event.DurationMinutes), Valid: true}
	}
	var babyID, legacyFood sql.NullString
	if event.BabyID != nil {
		babyID = nullString(*event.BabyID)
	}
	if event.LegacyFoodName != nil {
		legacyFood = nullString(*event.LegacyFoodName)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feedings (id, user_id, baby_id, type, occurred_at, notes, reaction,
		                       amount_ml, side, duration_minutes, legacy_food_name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		event.ID, event.UserID, babyID, string(event.Type), event.OccurredAt,
		nullString(event.Notes), nullString(event.Reaction),
		amount, nullString(string(event.Side)), duration, legacyFood,
		event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("記録の作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateMetadata は記録の日時・メモ・反応を部分更新し、更新後の記録を返す。
// 同時に編集された場合は後勝ちとなる。
func (r *PostgresFeedingRepo) UpdateMetadata(ctx context.Context, id string, patch model.FeedingPatch) (*model.FeedingEvent, error) {
	if !isUUID(id) {
		return nil, nil
	}
	var occurredAt sql.NullTime
	if patch.OccurredAt != nil {
		occurredAt = sql.NullTime{Time: *patch.OccurredAt, Valid: true}
	}
	var notes, reaction sql.NullString
	if patch.Notes != nil {
		notes = sql.NullString{String: *patch.Notes, Valid: true}
	}
	if patch.Reaction != nil {
		reaction = sql.NullString{String: *patch.Reaction, Valid: true}
	}

	event, err := scanFeeding(r.db.QueryRowContext(ctx,
		`UPDATE feedings SET
		    occurred_at = COALESCE($2, occurred_at),
		    notes = CASE WHEN $3::boolean THEN NULLIF($4, '') ELSE notes END,
		    reaction = CASE WHEN $5::boolean THEN NULLIF($6, '') ELSE reaction END,
		    updated_at = $7
		 WHERE id = $1
		 RETURNING `+feedingColumns,
		id, occurredAt, notes.Valid, notes.String, reaction.Valid, reaction.String, time.Now().UTC(),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記録の更新に失敗しました: %w", err)
	}
	return event, nil
}

// Delete は指定IDの記録を削除する。
func (r *PostgresFeedingRepo) Delete(ctx context.Context, id string) error {
	if !isUUID(id) {
		return fmt.Errorf("feeding not found: %s", id)
	}
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM feedings WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("記録の削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("feeding not found: %s", id)
	}
	return nil
}

// compile-time interface check
var _ FeedingRepository = (*PostgresFeedingRepo)(nil)
