// Package model はドメインモデルを定義する。
package model

import "time"

// TaskStatus はタスクの状態を表す。
type TaskStatus string

const (
	// TaskStatusPending は未着手のタスク。
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress は進行中のタスク。
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted は完了したタスク。
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusCancelled はキャンセルされたタスク。
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid はステータスが定義済みの値かどうかを返す。
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusCancelled:
		return true
	}
	return false
}

// TaskPriority はタスクの優先度を表す。
type TaskPriority string

const (
	// TaskPriorityLow は低優先度。
	TaskPriorityLow TaskPriority = "low"
	// TaskPriorityMedium は中優先度。
	TaskPriorityMedium TaskPriority = "medium"
	// TaskPriorityHigh は高優先度。
	TaskPriorityHigh TaskPriority = "high"
	// TaskPriorityUrgent は緊急。
	TaskPriorityUrgent TaskPriority = "urgent"
)

// Valid は優先度が定義済みの値かどうかを返す。
func (p TaskPriority) Valid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh, TaskPriorityUrgent:
		return true
	}
	return false
}

// Task はユーザーが所有するタスクを表す。
// UserIDはキャッシュ済みユーザー（CachedUser）への参照であり、
// 認証サービス側のusersテーブルへの外部キーではない。
type Task struct {
	ID          string
	UserID      string
	Title       string
	Description *string
	Status      TaskStatus
	Priority    TaskPriority
	DueDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TaskPatch はタスクの部分更新を表す。
// nilフィールドは変更しない。動的なSQL組み立てを避けるため、
// 更新可能なカラムごとに明示的なフィールドを持つ。
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *TaskStatus
	Priority    *TaskPriority
	DueDate     *time.Time
}

// IsEmpty は全フィールドがnil（更新対象なし）かどうかを返す。
func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.DueDate == nil
}

// TaskFilter はタスク一覧の絞り込み条件を表す。
// ゼロ値のフィールドは条件として適用しない。
type TaskFilter struct {
	Status   TaskStatus
	Priority TaskPriority
	Page     int
	Limit    int
}

// TaskStats はユーザーのタスク統計を表す。
type TaskStats struct {
	TotalTasks     int
	ByStatus       map[string]int
	ByPriority     map[string]int
	OverdueTasks   int
	CompletedToday int
}
