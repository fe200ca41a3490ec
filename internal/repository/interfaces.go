// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/taskman/internal/model"
)

// UserRepository は認証サービス側のユーザー永続化インターフェース。
// usersテーブルが正本（source of truth）であり、
// タスクサービスはこのテーブルを直接参照しない。
type UserRepository interface {
	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// UserCacheRepository はタスクサービス側のユーザーキャッシュ永続化インターフェース。
// tasks_usersテーブルはイベント消費によってのみ書き込まれる投影であり、
// 正本との間に同期ラグが存在しうる。
type UserCacheRepository interface {
	// Upsert はユーザーキャッシュを冪等にUPSERTする。
	// 既存行がある場合はusername/emailを上書きしlast_synced_atを更新する。
	// first_synced_atは初回挿入時の値を維持する。
	// 単一のINSERT ON CONFLICT文で実行され、同一IDへの並行UPSERTに対して原子的。
	Upsert(ctx context.Context, userID, username, email string, now time.Time) error

	// FindByID は指定IDのキャッシュ済みユーザーを取得する。
	// 見つからない場合はnilを返す。未同期は想定内の状態でありエラーではない。
	FindByID(ctx context.Context, userID string) (*model.CachedUser, error)
}

// TaskRepository はタスクデータの永続化インターフェース。
// すべての操作は所有ユーザーIDにスコープされる。
type TaskRepository interface {
	// Create はタスクを作成する。
	Create(ctx context.Context, task *model.Task) error

	// FindByID は指定ユーザーが所有するタスクを取得する。
	// 見つからない場合（他ユーザー所有を含む）はnilを返す。
	FindByID(ctx context.Context, userID, taskID string) (*model.Task, error)

	// ListByUser はユーザーのタスク一覧をフィルタ・ページネーション付きで取得する。
	// created_at降順で返す。2番目の戻り値はフィルタ適用後の総件数。
	ListByUser(ctx context.Context, userID string, filter model.TaskFilter) ([]*model.Task, int, error)

	// UpdatePatch はタスクを部分更新する。nilフィールドは変更しない。
	// 更新後のタスクを返す。対象が存在しない場合はnilを返す。
	UpdatePatch(ctx context.Context, userID, taskID string, patch model.TaskPatch, now time.Time) (*model.Task, error)

	// Delete は指定ユーザーが所有するタスクを削除する。
	// 削除された場合はtrueを返す。
	Delete(ctx context.Context, userID, taskID string) (bool, error)

	// StatsByUser はユーザーのタスク統計を取得する。
	StatsByUser(ctx context.Context, userID string) (*model.TaskStats, error)
}
