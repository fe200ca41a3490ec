// Package model はドメインモデルを定義する。
package model

import "time"

// User は認証サービスが所有する正本のユーザーを表す。
// PasswordHashはイベントペイロードには決して含めない。
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CachedUser はタスクサービス側に同期されたユーザーの投影を表す。
// イベント消費によってのみ作成・更新される非正本データ。
// 正本との間には配送遅延分のラグが存在しうる。
type CachedUser struct {
	UserID        string
	Username      string
	Email         string
	FirstSyncedAt time.Time
	LastSyncedAt  time.Time
}
