package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/task"
)

// TaskServiceInterface はタスクハンドラーが必要とするサービスインターフェース。
type TaskServiceInterface interface {
	CreateTask(ctx context.Context, userID string, in task.CreateTaskInput) (*model.Task, error)
	GetTask(ctx context.Context, userID, taskID string) (*model.Task, error)
	ListTasks(ctx context.Context, userID string, filter model.TaskFilter) ([]*model.Task, int, error)
	UpdateTask(ctx context.Context, userID, taskID string, patch model.TaskPatch) (*model.Task, error)
	DeleteTask(ctx context.Context, userID, taskID string) error
	GetStats(ctx context.Context, userID string) (*model.TaskStats, error)
}

// TaskHandler はタスク管理のHTTPハンドラー。
type TaskHandler struct {
	service TaskServiceInterface
}

// NewTaskHandler はTaskHandlerを生成する。
func NewTaskHandler(service TaskServiceInterface) *TaskHandler {
	return &TaskHandler{service: service}
}

// createTaskRequest はタスク作成リクエストのボディ。
type createTaskRequest struct {
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	Status      *string    `json:"status,omitempty"`
	Priority    *string    `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// updateTaskRequest はタスク部分更新リクエストのボディ。
// 省略されたフィールドは変更しない。
type updateTaskRequest struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *string    `json:"status,omitempty"`
	Priority    *string    `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// taskResponse はタスク情報のAPIレスポンス。
type taskResponse struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// paginationResponse はタスク一覧のページング情報。
type paginationResponse struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// listTasksResponse はタスク一覧のAPIレスポンス。
type listTasksResponse struct {
	Tasks      []taskResponse     `json:"tasks"`
	Pagination paginationResponse `json:"pagination"`
}

// statsResponse はタスク統計のAPIレスポンス。
type statsResponse struct {
	TotalTasks     int            `json:"total_tasks"`
	ByStatus       map[string]int `json:"by_status"`
	ByPriority     map[string]int `json:"by_priority"`
	OverdueTasks   int            `json:"overdue_tasks"`
	CompletedToday int            `json:"completed_today"`
}

// CreateTask はタスク作成を処理する。
// POST /api/tasks
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewMissingAuthHeaderError())
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	created, err := h.service.CreateTask(r.Context(), userID, task.CreateTaskInput{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		DueDate:     req.DueDate,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toTaskResponse(created))
}

// ListTasks はタスク一覧を取得する。
// GET /api/tasks?status=&priority=&page=&limit=
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewMissingAuthHeaderError())
		return
	}

	filter := model.TaskFilter{
		Status:   model.TaskStatus(r.URL.Query().Get("status")),
		Priority: model.TaskPriority(r.URL.Query().Get("priority")),
		Page:     parsePositiveInt(r.URL.Query().Get("page"), 1),
		Limit:    parsePositiveInt(r.URL.Query().Get("limit"), 10),
	}

	tasks, total, err := h.service.ListTasks(r.Context(), userID, filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := listTasksResponse{
		Tasks: make([]taskResponse, 0, len(tasks)),
		Pagination: paginationResponse{
			Page:  filter.Page,
			Limit: filter.Limit,
			Total: total,
		},
	}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, toTaskResponse(t))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetTask はタスク詳細を取得する。
// GET /api/tasks/:id
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewMissingAuthHeaderError())
		return
	}

	taskID := chi.URLParam(r, "id")

	found, err := h.service.GetTask(r.Context(), userID, taskID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toTaskResponse(found))
}

// UpdateTask はタスクの部分更新を処理する。
// PUT /api/tasks/:id
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewMissingAuthHeaderError())
		return
	}

	taskID := chi.URLParam(r, "id")

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError())
		return
	}

	patch := model.TaskPatch{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
	}
	if req.Status != nil {
		status := model.TaskStatus(*req.Status)
		patch.Status = &status
	}
	if req.Priority != nil {
		priority := model.TaskPriority(*req.Priority)
		patch.Priority = &priority
	}

	updated, err := h.service.UpdateTask(r.Context(), userID, taskID, patch)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toTaskResponse(updated))
}

// DeleteTask はタスク削除を処理する。
// DELETE /api/tasks/:id
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewMissingAuthHeaderError())
		return
	}

	taskID := chi.URLParam(r, "id")

	if err := h.service.DeleteTask(r.Context(), userID, taskID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetStats はタスク統計を取得する。
// GET /api/tasks/stats/summary
func (h *TaskHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewMissingAuthHeaderError())
		return
	}

	stats, err := h.service.GetStats(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statsResponse{
		TotalTasks:     stats.TotalTasks,
		ByStatus:       stats.ByStatus,
		ByPriority:     stats.ByPriority,
		OverdueTasks:   stats.OverdueTasks,
		CompletedToday: stats.CompletedToday,
	})
}

// --- ヘルパー関数 ---

// toTaskResponse はmodel.TaskからAPIレスポンスに変換する。
func toTaskResponse(t *model.Task) taskResponse {
	return taskResponse{
		ID:          t.ID,
		UserID:      t.UserID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		DueDate:     t.DueDate,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// parsePositiveInt はクエリパラメータを正の整数として解析する。
// 解析できない場合や0以下の場合はデフォルト値を返す。
func parsePositiveInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// invalidRequestBodyError はJSONボディ解析失敗時のエラー。
func invalidRequestBodyError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeDuplicateUsername, model.ErrCodeDuplicateEmail:
		return http.StatusConflict
	case model.ErrCodeInvalidCredentials,
		model.ErrCodeMissingAuthHeader,
		model.ErrCodeInvalidToken,
		model.ErrCodeTokenExpired:
		return http.StatusUnauthorized
	case model.ErrCodeOwnerNotSynced:
		// 同期遅延による一時的な状態。リトライで回復できる
		return http.StatusConflict
	case model.ErrCodeTaskNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidStatus,
		model.ErrCodeInvalidPriority,
		model.ErrCodeInvalidTitle,
		model.ErrCodeEmptyPatch:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
