package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/taskman/internal/model"
)

// PostgresTaskRepo はPostgreSQLを使用したタスクリポジトリ。
type PostgresTaskRepo struct {
	db *sql.DB
}

// NewPostgresTaskRepo はPostgresTaskRepoを生成する。
func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

// taskColumns はSELECT句のカラムリスト。Scanの順序と一致させること。
const taskColumns = `id, user_id, title, description, status, priority, due_date, created_at, updated_at`

// scanTask は1行をmodel.Taskに読み込む。
func scanTask(row interface{ Scan(...any) error }) (*model.Task, error) {
	task := &model.Task{}
	var description sql.NullString
	var dueDate sql.NullTime

	err := row.Scan(
		&task.ID, &task.UserID, &task.Title, &description,
		&task.Status, &task.Priority, &dueDate,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		task.Description = &description.String
	}
	if dueDate.Valid {
		task.DueDate = &dueDate.Time
	}

	return task, nil
}

// Create はタスクを作成する。
func (r *PostgresTaskRepo) Create(ctx context.Context, task *model.Task) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (id, user_id, title, description, status, priority, due_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		task.ID, task.UserID, task.Title, task.Description,
		string(task.Status), string(task.Priority), task.DueDate,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// FindByID は指定ユーザーが所有するタスクを取得する。
// 見つからない場合（他ユーザー所有を含む）はnilを返す。
func (r *PostgresTaskRepo) FindByID(ctx context.Context, userID, taskID string) (*model.Task, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND user_id = $2`,
		taskID, userID,
	)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}

	return task, nil
}

// ListByUser はユーザーのタスク一覧をフィルタ・ページネーション付きで取得する。
// フィルタのゼロ値は条件として適用しない。固定のWHERE句で表現し、
// 動的なSQL組み立ては行わない。
func (r *PostgresTaskRepo) ListByUser(ctx context.Context, userID string, filter model.TaskFilter) ([]*model.Task, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE user_id = $1
		   AND ($2 = '' OR status = $2)
		   AND ($3 = '' OR priority = $3)
		 ORDER BY created_at DESC
		 LIMIT $4 OFFSET $5`,
		userID, string(filter.Status), string(filter.Priority), limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate tasks: %w", err)
	}

	var total int
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks
		 WHERE user_id = $1
		   AND ($2 = '' OR status = $2)
		   AND ($3 = '' OR priority = $3)`,
		userID, string(filter.Status), string(filter.Priority),
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	return tasks, total, nil
}

// UpdatePatch はタスクを部分更新する。nilフィールドは変更しない。
// 各カラムをCOALESCEで条件付き更新する固定SQLで実装し、
// フィールドのmapを巡回する動的なSQL組み立ては行わない。
// 対象が存在しない場合はnilを返す。
func (r *PostgresTaskRepo) UpdatePatch(ctx context.Context, userID, taskID string, patch model.TaskPatch, now time.Time) (*model.Task, error) {
	var status, priority *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}
	if patch.Priority != nil {
		p := string(*patch.Priority)
		priority = &p
	}

	row := r.db.QueryRowContext(ctx,
		`UPDATE tasks SET
		     title = COALESCE($3, title),
		     description = COALESCE($4, description),
		     status = COALESCE($5, status),
		     priority = COALESCE($6, priority),
		     due_date = COALESCE($7, due_date),
		     updated_at = $8
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+taskColumns,
		taskID, userID,
		patch.Title, patch.Description, status, priority, patch.DueDate, now,
	)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	return task, nil
}

// Delete は指定ユーザーが所有するタスクを削除する。削除された場合はtrueを返す。
func (r *PostgresTaskRepo) Delete(ctx context.Context, userID, taskID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = $1 AND user_id = $2`,
		taskID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// StatsByUser はユーザーのタスク統計を取得する。
func (r *PostgresTaskRepo) StatsByUser(ctx context.Context, userID string) (*model.TaskStats, error) {
	stats := &model.TaskStats{
		ByStatus:   make(map[string]int),
		ByPriority: make(map[string]int),
	}

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE user_id = $1`,
		userID,
	).Scan(&stats.TotalTasks)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}

	if err := r.countGrouped(ctx, userID, "status", stats.ByStatus); err != nil {
		return nil, err
	}
	if err := r.countGrouped(ctx, userID, "priority", stats.ByPriority); err != nil {
		return nil, err
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks
		 WHERE user_id = $1 AND due_date < now() AND status != 'completed'`,
		userID,
	).Scan(&stats.OverdueTasks)
	if err != nil {
		return nil, fmt.Errorf("failed to count overdue tasks: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks
		 WHERE user_id = $1 AND status = 'completed' AND DATE(updated_at) = CURRENT_DATE`,
		userID,
	).Scan(&stats.CompletedToday)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks completed today: %w", err)
	}

	return stats, nil
}

// countGrouped は指定カラムでグループ化した件数をdestに読み込む。
// columnは"status"または"priority"のみを渡すこと。
func (r *PostgresTaskRepo) countGrouped(ctx context.Context, userID, column string, dest map[string]int) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+column+`, COUNT(*) FROM tasks WHERE user_id = $1 GROUP BY `+column,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to count tasks by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan %s count: %w", column, err)
		}
		dest[key] = count
	}
	return rows.Err()
}

// compile-time interface check
var _ TaskRepository = (*PostgresTaskRepo)(nil)
