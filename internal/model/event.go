// Package model はドメインモデルを定義する。
package model

import "time"

// イベント種別（ルーティングキーと同一の値）。
const (
	// EventUserCreated はユーザー作成イベント。
	EventUserCreated = "user.created"
	// EventUserUpdated はユーザー更新イベント。
	EventUserUpdated = "user.updated"
)

// UserEvent は認証サービスが発行するユーザーイベントのペイロードを表す。
// 一度発行されたイベントは不変。配送はat-least-onceであり、
// 同一イベントが複数回配送されうるため、消費側は冪等に適用する。
type UserEvent struct {
	EventType string    `json:"eventType"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
}
