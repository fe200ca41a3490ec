package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
	"github.com/hitoshi/taskman/internal/task"
	"github.com/hitoshi/taskman/internal/usercache"
)

// memoryCacheRepo はUserCacheRepositoryのインメモリ実装。
type memoryCacheRepo struct {
	users map[string]*model.CachedUser
}

func (r *memoryCacheRepo) Upsert(ctx context.Context, userID, username, email string, now time.Time) error {
	if existing, ok := r.users[userID]; ok {
		existing.Username = username
		existing.Email = email
		existing.LastSyncedAt = now
		return nil
	}
	r.users[userID] = &model.CachedUser{
		UserID: userID, Username: username, Email: email,
		FirstSyncedAt: now, LastSyncedAt: now,
	}
	return nil
}

func (r *memoryCacheRepo) FindByID(ctx context.Context, userID string) (*model.CachedUser, error) {
	return r.users[userID], nil
}

var _ repository.UserCacheRepository = (*memoryCacheRepo)(nil)

// stubTaskRepo はTaskRepositoryの最小スタブ。Createのみ記録する。
type stubTaskRepo struct {
	created []*model.Task
}

func (r *stubTaskRepo) Create(ctx context.Context, t *model.Task) error {
	r.created = append(r.created, t)
	return nil
}

func (r *stubTaskRepo) FindByID(ctx context.Context, userID, taskID string) (*model.Task, error) {
	return nil, nil
}

func (r *stubTaskRepo) ListByUser(ctx context.Context, userID string, filter model.TaskFilter) ([]*model.Task, int, error) {
	return nil, 0, nil
}

func (r *stubTaskRepo) UpdatePatch(ctx context.Context, userID, taskID string, patch model.TaskPatch, now time.Time) (*model.Task, error) {
	return nil, nil
}

func (r *stubTaskRepo) Delete(ctx context.Context, userID, taskID string) (bool, error) {
	return false, nil
}

func (r *stubTaskRepo) StatsByUser(ctx context.Context, userID string) (*model.TaskStats, error) {
	return &model.TaskStats{}, nil
}

var _ repository.TaskRepository = (*stubTaskRepo)(nil)

type noopUpsertMetrics struct{}

func (noopUpsertMetrics) RecordCacheUpsert() {}

// 登録イベントの消費からタスク作成の認可までを通しで検証する。
// 同期前のユーザーはタスクを作成できず、イベント適用後に作成できるようになる。
func TestUserSyncFlow_EventConsumptionEnablesTaskCreation(t *testing.T) {
	cacheRepo := &memoryCacheRepo{users: map[string]*model.CachedUser{}}
	cacheService := usercache.NewService(cacheRepo, noopUpsertMetrics{})

	taskRepo := &stubTaskRepo{}
	taskService := task.NewService(taskRepo, cacheService)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	consumer := NewConsumer(&Client{}, cacheService, logger, &mockConsumeMetrics{})

	ctx := context.Background()

	// 同期前: OWNER_NOT_SYNCEDで拒否される
	_, err := taskService.CreateTask(ctx, "u-100", task.CreateTaskInput{Title: "初回タスク"})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeOwnerNotSynced {
		t.Fatalf("CreateTask before sync: err = %v, want OWNER_NOT_SYNCED", err)
	}

	// user.createdイベントを消費
	event := model.UserEvent{
		EventType: model.EventUserCreated,
		UserID:    "u-100",
		Username:  "alice",
		Email:     "alice@example.com",
		Timestamp: time.Now().UTC(),
	}
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}

	ack := &fakeAcknowledger{}
	consumer.handleDelivery(ctx, delivery(model.EventUserCreated, body, ack))
	if !ack.acked {
		t.Fatal("event was not acked")
	}

	// 同期後: タスク作成が成功する
	created, err := taskService.CreateTask(ctx, "u-100", task.CreateTaskInput{Title: "初回タスク"})
	if err != nil {
		t.Fatalf("CreateTask after sync: error = %v", err)
	}
	if created.UserID != "u-100" {
		t.Errorf("UserID = %q, want %q", created.UserID, "u-100")
	}
	if len(taskRepo.created) != 1 {
		t.Errorf("tasks created = %d, want 1", len(taskRepo.created))
	}
}
