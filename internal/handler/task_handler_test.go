package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/task"
)

// mockTaskService はTaskServiceInterfaceのテスト用モック。
type mockTaskService struct {
	createTaskFn func(ctx context.Context, userID string, in task.CreateTaskInput) (*model.Task, error)
	getTaskFn    func(ctx context.Context, userID, taskID string) (*model.Task, error)
	listTasksFn  func(ctx context.Context, userID string, filter model.TaskFilter) ([]*model.Task, int, error)
	updateTaskFn func(ctx context.Context, userID, taskID string, patch model.TaskPatch) (*model.Task, error)
	deleteTaskFn func(ctx context.Context, userID, taskID string) error
	getStatsFn   func(ctx context.Context, userID string) (*model.TaskStats, error)
}

func (m *mockTaskService) CreateTask(ctx context.Context, userID string, in task.CreateTaskInput) (*model.Task, error) {
	if m.createTaskFn != nil {
		return m.createTaskFn(ctx, userID, in)
	}
	return nil, nil
}

func (m *mockTaskService) GetTask(ctx context.Context, userID, taskID string) (*model.Task, error) {
	if m.getTaskFn != nil {
		return m.getTaskFn(ctx, userID, taskID)
	}
	return nil, nil
}

func (m *mockTaskService) ListTasks(ctx context.Context, userID string, filter model.TaskFilter) ([]*model.Task, int, error) {
	if m.listTasksFn != nil {
		return m.listTasksFn(ctx, userID, filter)
	}
	return nil, 0, nil
}

func (m *mockTaskService) UpdateTask(ctx context.Context, userID, taskID string, patch model.TaskPatch) (*model.Task, error) {
	if m.updateTaskFn != nil {
		return m.updateTaskFn(ctx, userID, taskID, patch)
	}
	return nil, nil
}

func (m *mockTaskService) DeleteTask(ctx context.Context, userID, taskID string) error {
	if m.deleteTaskFn != nil {
		return m.deleteTaskFn(ctx, userID, taskID)
	}
	return nil
}

func (m *mockTaskService) GetStats(ctx context.Context, userID string) (*model.TaskStats, error) {
	if m.getStatsFn != nil {
		return m.getStatsFn(ctx, userID)
	}
	return nil, nil
}

var _ TaskServiceInterface = (*mockTaskService)(nil)

func testTask() *model.Task {
	return &model.Task{
		ID:        "task-1",
		UserID:    "user-1",
		Title:     "牛乳を買う",
		Status:    model.TaskStatusPending,
		Priority:  model.TaskPriorityMedium,
		CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

// authedRequest は認証済みユーザーIDをコンテキストに持つリクエストを生成する。
func authedRequest(t *testing.T, method, target, body, userID string) *http.Request {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	return req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
}

// withURLParam はchiのURLパラメータをリクエストコンテキストに設定する。
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestTaskHandler_CreateTask_Success(t *testing.T) {
	service := &mockTaskService{
		createTaskFn: func(ctx context.Context, userID string, in task.CreateTaskInput) (*model.Task, error) {
			if userID != "user-1" {
				t.Errorf("userID = %q, want %q", userID, "user-1")
			}
			if in.Title != "牛乳を買う" {
				t.Errorf("title = %q, want %q", in.Title, "牛乳を買う")
			}
			return testTask(), nil
		},
	}

	h := NewTaskHandler(service)

	req := authedRequest(t, http.MethodPost, "/api/tasks", `{"title":"牛乳を買う"}`, "user-1")
	w := httptest.NewRecorder()

	h.CreateTask(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	var got taskResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.ID != "task-1" {
		t.Errorf("id = %q, want %q", got.ID, "task-1")
	}
	if got.Status != "pending" {
		t.Errorf("status = %q, want %q", got.Status, "pending")
	}
}

func TestTaskHandler_CreateTask_OwnerNotSynced_Returns409(t *testing.T) {
	service := &mockTaskService{
		createTaskFn: func(ctx context.Context, userID string, in task.CreateTaskInput) (*model.Task, error) {
			return nil, model.NewOwnerNotSyncedError(userID)
		},
	}

	h := NewTaskHandler(service)

	req := authedRequest(t, http.MethodPost, "/api/tasks", `{"title":"作業"}`, "user-unsynced")
	w := httptest.NewRecorder()

	h.CreateTask(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}

	var got apiErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.Code != "OWNER_NOT_SYNCED" {
		t.Errorf("code = %q, want %q", got.Code, "OWNER_NOT_SYNCED")
	}
}

func TestTaskHandler_CreateTask_InvalidStatus_Returns400(t *testing.T) {
	service := &mockTaskService{
		createTaskFn: func(ctx context.Context, userID string, in task.CreateTaskInput) (*model.Task, error) {
			return nil, model.NewInvalidStatusError(*in.Status)
		},
	}

	h := NewTaskHandler(service)

	req := authedRequest(t, http.MethodPost, "/api/tasks", `{"title":"作業","status":"doing"}`, "user-1")
	w := httptest.NewRecorder()

	h.CreateTask(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestTaskHandler_ListTasks_PassesFilterAndReturnsPagination(t *testing.T) {
	var capturedFilter model.TaskFilter
	service := &mockTaskService{
		listTasksFn: func(ctx context.Context, userID string, filter model.TaskFilter) ([]*model.Task, int, error) {
			capturedFilter = filter
			return []*model.Task{testTask()}, 42, nil
		},
	}

	h := NewTaskHandler(service)

	req := authedRequest(t, http.MethodGet, "/api/tasks?status=pending&priority=high&page=3&limit=5", "", "user-1")
	w := httptest.NewRecorder()

	h.ListTasks(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	if capturedFilter.Status != model.TaskStatusPending {
		t.Errorf("filter.Status = %q, want %q", capturedFilter.Status, model.TaskStatusPending)
	}
	if capturedFilter.Priority != model.TaskPriorityHigh {
		t.Errorf("filter.Priority = %q, want %q", capturedFilter.Priority, model.TaskPriorityHigh)
	}
	if capturedFilter.Page != 3 || capturedFilter.Limit != 5 {
		t.Errorf("page/limit = %d/%d, want 3/5", capturedFilter.Page, capturedFilter.Limit)
	}

	var got listTasksResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got.Tasks) != 1 {
		t.Errorf("len(tasks) = %d, want 1", len(got.Tasks))
	}
	if got.Pagination.Total != 42 {
		t.Errorf("pagination.total = %d, want 42", got.Pagination.Total)
	}
}

func TestTaskHandler_ListTasks_DefaultsPagination(t *testing.T) {
	var capturedFilter model.TaskFilter
	service := &mockTaskService{
		listTasksFn: func(ctx context.Context, userID string, filter model.TaskFilter) ([]*model.Task, int, error) {
			capturedFilter = filter
			return nil, 0, nil
		},
	}

	h := NewTaskHandler(service)

	req := authedRequest(t, http.MethodGet, "/api/tasks", "", "user-1")
	w := httptest.NewRecorder()

	h.ListTasks(w, req)

	if capturedFilter.Page != 1 {
		t.Errorf("page = %d, want 1", capturedFilter.Page)
	}
	if capturedFilter.Limit != 10 {
		t.Errorf("limit = %d, want 10", capturedFilter.Limit)
	}

	// タスクなしでも空配列を返す
	var got listTasksResponse
	if err := json.NewDecoder(w.Result().Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.Tasks == nil {
		t.Error("tasks should be an empty array, not null")
	}
}

func TestTaskHandler_GetTask_NotFound_Returns404(t *testing.T) {
	service := &mockTaskService{
		getTaskFn: func(ctx context.Context, userID, taskID string) (*model.Task, error) {
			return nil, model.NewTaskNotFoundError(taskID)
		},
	}

	h := NewTaskHandler(service)

	req := authedRequest(t, http.MethodGet, "/api/tasks/task-x", "", "user-1")
	req = withURLParam(req, "id", "task-x")
	w := httptest.NewRecorder()

	h.GetTask(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}

	var got apiErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.Code != "TASK_NOT_FOUND" {
		t.Errorf("code = %q, want %q", got.Code, "TASK_NOT_FOUND")
	}
}

func TestTaskHandler_UpdateTask_Success(t *testing.T) {
	var capturedPatch model.TaskPatch
	service := &mockTaskService{
		updateTaskFn: func(ctx context.Context, userID, taskID string, patch model.TaskPatch) (*model.Task, error) {
			capturedPatch = patch
			updated := testTask()
			updated.Status = model.TaskStatusCompleted
			return updated, nil
		},
	}

	h := NewTaskHandler(service)

	req := authedRequest(t, http.MethodPut, "/api/tasks/task-1", `{"status":"completed"}`, "user-1")
	req = withURLParam(req, "id", "task-1")
	w := httptest.NewRecorder()

	h.UpdateTask(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	if capturedPatch.Status == nil || *capturedPatch.Status != model.TaskStatusCompleted {
		t.Errorf("patch.Status = %v, want completed", capturedPatch.Status)
	}
	if capturedPatch.Title != nil {
		t.Errorf("patch.Title should be nil for omitted field, got %v", *capturedPatch.Title)
	}

	var got taskResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("status = %q, want %q", got.Status, "completed")
	}
}

func TestTaskHandler_UpdateTask_EmptyPatch_Returns400(t *testing.T) {
	service := &mockTaskService{
		updateTaskFn: func(ctx context.Context, userID, taskID string, patch model.TaskPatch) (*model.Task, error) {
			return nil, model.NewEmptyPatchError()
		},
	}

	h := NewTaskHandler(service)

	req := authedRequest(t, http.MethodPut, "/api/tasks/task-1", `{}`, "user-1")
	req = withURLParam(req, "id", "task-1")
	w := httptest.NewRecorder()

	h.UpdateTask(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}

	var got apiErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.Code != "EMPTY_PATCH" {
		t.Errorf("code = %q, want %q", got.Code, "EMPTY_PATCH")
	}
}

func TestTaskHandler_DeleteTask_Returns204(t *testing.T) {
	deleted := false
	service := &mockTaskService{
		deleteTaskFn: func(ctx context.Context, userID, taskID string) error {
			if userID != "user-1" || taskID != "task-1" {
				t.Errorf("unexpected args: %q %q", userID, taskID)
			}
			deleted = true
			return nil
		},
	}

	h := NewTaskHandler(service)

	req := authedRequest(t, http.MethodDelete, "/api/tasks/task-1", "", "user-1")
	req = withURLParam(req, "id", "task-1")
	w := httptest.NewRecorder()

	h.DeleteTask(w, req)

	if w.Result().StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNoContent)
	}
	if !deleted {
		t.Error("delete should have been called")
	}
}

func TestTaskHandler_DeleteTask_NotFound_Returns404(t *testing.T) {
	service := &mockTaskService{
		deleteTaskFn: func(ctx context.Context, userID, taskID string) error {
			return model.NewTaskNotFoundError(taskID)
		},
	}

	h := NewTaskHandler(service)

	req := authedRequest(t, http.MethodDelete, "/api/tasks/task-x", "", "user-1")
	req = withURLParam(req, "id", "task-x")
	w := httptest.NewRecorder()

	h.DeleteTask(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
}

func TestTaskHandler_GetStats_ReturnsSummary(t *testing.T) {
	service := &mockTaskService{
		getStatsFn: func(ctx context.Context, userID string) (*model.TaskStats, error) {
			return &model.TaskStats{
				TotalTasks:     7,
				ByStatus:       map[string]int{"pending": 4, "completed": 3},
				ByPriority:     map[string]int{"medium": 7},
				OverdueTasks:   1,
				CompletedToday: 2,
			}, nil
		},
	}

	h := NewTaskHandler(service)

	req := authedRequest(t, http.MethodGet, "/api/tasks/stats/summary", "", "user-1")
	w := httptest.NewRecorder()

	h.GetStats(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var got statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.TotalTasks != 7 {
		t.Errorf("total_tasks = %d, want 7", got.TotalTasks)
	}
	if got.ByStatus["pending"] != 4 {
		t.Errorf("by_status[pending] = %d, want 4", got.ByStatus["pending"])
	}
	if got.CompletedToday != 2 {
		t.Errorf("completed_today = %d, want 2", got.CompletedToday)
	}
}

func TestTaskHandler_NoAuthContext_Returns401(t *testing.T) {
	h := NewTaskHandler(&mockTaskService{})

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{"title":"x"}`))
	w := httptest.NewRecorder()

	h.CreateTask(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}
