package model

import "time"

// DefaultFeedingIntervalMinutes は授乳間隔の初期値（3時間）。
const DefaultFeedingIntervalMinutes = 180

// Baby はユーザーが記録対象として登録した赤ちゃんを表す。
type Baby struct {
	ID                     string
	UserID                 string
	Name                   string
	BirthDate              *time.Time
	FeedingIntervalMinutes int
	CreatedAt              time.Time
	UpdatedAt              time.Time
}
