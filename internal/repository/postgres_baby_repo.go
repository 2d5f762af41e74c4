package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/babylog/internal/model"
)

// PostgresBabyRepo はPostgreSQLを使用した赤ちゃんリポジトリ。
type PostgresBabyRepo struct {
	db *sql.DB
}

// NewPostgresBabyRepo はPostgresBabyRepoを生成する。
func NewPostgresBabyRepo(db *sql.DB) *PostgresBabyRepo {
	return &PostgresBabyRepo{db: db}
}

func scanBaby(row rowScanner) (*model.Baby, error) {
	baby := &model.Baby{}
	var birthDate sql.NullTime
	err := row.Scan(
		&baby.ID, &baby.UserID, &baby.Name, &birthDate,
		&baby.FeedingIntervalMinutes, &baby.CreatedAt, &baby.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	baby.BirthDate = nullTimePtr(birthDate)
	return baby, nil
}

// FindByID はユーザーが所有する指定IDの赤ちゃんを取得する。見つからない場合はnilを返す。
func (r *PostgresBabyRepo) FindByID(ctx context.Context, userID, id string) (*model.Baby, error) {
	if !isUUID(id) {
		return nil, nil
	}
	baby, err := scanBaby(r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, birth_date, feeding_interval_minutes, created_at, updated_at
		 FROM babies WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("赤ちゃん情報の取得に失敗しました: %w", err)
	}
	return baby, nil
}

// ListByUserID はユーザーの赤ちゃん一覧を登録順で返す。
func (r *PostgresBabyRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Baby, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, birth_date, feeding_interval_minutes, created_at, updated_at
		 FROM babies WHERE user_id = $1
		 ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("赤ちゃん一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var babies []*model.Baby
	for rows.Next() {
		baby, err := scanBaby(rows)
		if err != nil {
			return nil, fmt.Errorf("赤ちゃん情報のスキャンに失敗しました: %w", err)
		}
		babies = append(babies, baby)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("赤ちゃん一覧の走査に失敗しました: %w", err)
	}
	return babies, nil
}

// Create は赤ちゃんを登録する。
func (r *PostgresBabyRepo) Create(ctx context.Context, baby *model.Baby) error {
	var birthDate sql.NullTime
	if baby.BirthDate != nil {
		birthDate = sql.NullTime{Time: *baby.BirthDate, Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO babies (id, user_id, name, birth_date, feeding_interval_minutes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		baby.ID, baby.UserID, baby.Name, birthDate,
		baby.FeedingIntervalMinutes, baby.CreatedAt, baby.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("赤ちゃんの登録に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ BabyRepository = (*PostgresBabyRepo)(nil)
