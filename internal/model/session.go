package model

import "time"

// Session はユーザーのログインセッションを表す。
// 発行は外部の認証サービスが行い、本サービスは参照のみ行う。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
