// Package task はタスクの管理機能を提供する。
// すべての操作は認証済みユーザーのIDにスコープされ、
// タスク作成時の所有者検証はユーザーキャッシュに対してのみ行う
// （認証サービスへのネットワーク呼び出しは発生しない）。
package task

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
)

// OwnerResolver は所有者検証のインターフェース。
// usercache.Serviceの部分集合として定義する。
type OwnerResolver interface {
	// Resolve はキャッシュ済みユーザーを返す。未同期の場合はnilを返す。
	Resolve(ctx context.Context, userID string) (*model.CachedUser, error)
}

// Service はタスクに関するビジネスロジックを提供する。
type Service struct {
	taskRepo repository.TaskRepository
	owners   OwnerResolver
}

// NewService はServiceを生成する。
func NewService(taskRepo repository.TaskRepository, owners OwnerResolver) *Service {
	return &Service{
		taskRepo: taskRepo,
		owners:   owners,
	}
}

// CreateTaskInput はタスク作成の入力を表す。
// StatusとPriorityは省略可能で、省略時はpending/mediumになる。
type CreateTaskInput struct {
	Title       string
	Description *string
	Status      *string
	Priority    *string
	DueDate     *time.Time
}

// CreateTask はタスクを作成する。
// 所有者がまだキャッシュに同期されていない場合はOWNER_NOT_SYNCEDエラーを返す。
// これは登録直後のユーザーが即座にタスクを作成しようとした場合に起こりうる
// 一時的な状態であり、呼び出し側はリトライで回復できる。
func (s *Service) CreateTask(ctx context.Context, userID string, in CreateTaskInput) (*model.Task, error) {
	if len(in.Title) == 0 || len(in.Title) > 255 {
		return nil, model.NewInvalidTitleError()
	}

	status := model.TaskStatusPending
	if in.Status != nil {
		status = model.TaskStatus(*in.Status)
		if !status.Valid() {
			return nil, model.NewInvalidStatusError(*in.Status)
		}
	}

	priority := model.TaskPriorityMedium
	if in.Priority != nil {
		priority = model.TaskPriority(*in.Priority)
		if !priority.Valid() {
			return nil, model.NewInvalidPriorityError(*in.Priority)
		}
	}

	// 所有者検証はローカルキャッシュに対してのみ行う
	owner, err := s.owners.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, model.NewOwnerNotSyncedError(userID)
	}

	now := time.Now()
	task := &model.Task{
		ID:          uuid.New().String(),
		UserID:      userID,
		Title:       in.Title,
		Description: in.Description,
		Status:      status,
		Priority:    priority,
		DueDate:     in.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.taskRepo.Create(ctx, task); err != nil {
		return nil, err
	}

	return task, nil
}

// GetTask は指定ユーザーが所有するタスクを取得する。
func (s *Service) GetTask(ctx context.Context, userID, taskID string) (*model.Task, error) {
	task, err := s.taskRepo.FindByID(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, model.NewTaskNotFoundError(taskID)
	}
	return task, nil
}

// ListTasks はユーザーのタスク一覧をフィルタ・ページネーション付きで返す。
// 2番目の戻り値はフィルタ適用後の総件数。
func (s *Service) ListTasks(ctx context.Context, userID string, filter model.TaskFilter) ([]*model.Task, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, model.NewInvalidStatusError(string(filter.Status))
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		return nil, 0, model.NewInvalidPriorityError(string(filter.Priority))
	}

	return s.taskRepo.ListByUser(ctx, userID, filter)
}

// UpdateTask はタスクを部分更新する。nilフィールドは変更しない。
func (s *Service) UpdateTask(ctx context.Context, userID, taskID string, patch model.TaskPatch) (*model.Task, error) {
	if patch.IsEmpty() {
		return nil, model.NewEmptyPatchError()
	}
	if patch.Title != nil && (len(*patch.Title) == 0 || len(*patch.Title) > 255) {
		return nil, model.NewInvalidTitleError()
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, model.NewInvalidStatusError(string(*patch.Status))
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		return nil, model.NewInvalidPriorityError(string(*patch.Priority))
	}

	task, err := s.taskRepo.UpdatePatch(ctx, userID, taskID, patch, time.Now())
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, model.NewTaskNotFoundError(taskID)
	}

	return task, nil
}

// DeleteTask は指定ユーザーが所有するタスクを削除する。
func (s *Service) DeleteTask(ctx context.Context, userID, taskID string) error {
	deleted, err := s.taskRepo.Delete(ctx, userID, taskID)
	if err != nil {
		return err
	}
	if !deleted {
		return model.NewTaskNotFoundError(taskID)
	}
	return nil
}

// GetStats はユーザーのタスク統計を返す。
func (s *Service) GetStats(ctx context.Context, userID string) (*model.TaskStats, error) {
	return s.taskRepo.StatsByUser(ctx, userID)
}
