package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/taskman/internal/middleware"
)

// DBPinger はデータベース疎通確認のためのインターフェース。
// *sql.DB がそのまま満たす。
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// AuthRouterDeps はNewAuthRouterに必要な依存関係をまとめた構造体。
type AuthRouterDeps struct {
	AuthService    AuthServiceInterface
	TokenValidator middleware.TokenValidator

	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	HTTPMetrics       middleware.HTTPMetrics
	MetricsHandler    http.Handler

	DB DBPinger
}

// NewAuthRouter は認証サービスの全ルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS →（保護ルートのみ）Auth → RateLimit(General)
//
// POST /auth/register には未認証のIPベースレート制限を適用する。
func NewAuthRouter(deps *AuthRouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.HTTPMetrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService)

	// --- 認証不要のルート ---

	r.Get("/health", newHealthHandler("auth-service", deps.DB))

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.With(deps.RateLimiter.RegisterMiddleware()).Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)

		// GET /auth/me のみトークン検証が必要
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAuthMiddleware(deps.TokenValidator))
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Get("/me", authHandler.Me)
		})
	})

	return r
}

// TasksRouterDeps はNewTasksRouterに必要な依存関係をまとめた構造体。
type TasksRouterDeps struct {
	TaskService    TaskServiceInterface
	TokenValidator middleware.TokenValidator

	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	HTTPMetrics       middleware.HTTPMetrics
	MetricsHandler    http.Handler

	DB DBPinger
}

// NewTasksRouter はタスクサービスの全ルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
// /api/tasks 以下はすべてBearerトークンによる認証が必要。
func NewTasksRouter(deps *TasksRouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.HTTPMetrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	taskHandler := NewTaskHandler(deps.TaskService)

	// --- 認証不要のルート ---

	r.Get("/health", newHealthHandler("tasks-service", deps.DB))

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenValidator))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/tasks", func(r chi.Router) {
			r.Post("/", taskHandler.CreateTask)
			r.Get("/", taskHandler.ListTasks)

			// 統計はIDルートより先に定義する
			r.Get("/stats/summary", taskHandler.GetStats)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", taskHandler.GetTask)
				r.Put("/", taskHandler.UpdateTask)
				r.Delete("/", taskHandler.DeleteTask)
			})
		})
	})

	return r
}

// newHealthHandler はサービスのヘルスチェックハンドラーを返す。
// データベースに疎通できない場合は503を返す。
func newHealthHandler(serviceName string, db DBPinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		statusCode := http.StatusOK

		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				slog.Warn("health check failed",
					slog.String("service", serviceName),
					slog.String("error", err.Error()),
				)
				status = "unhealthy"
				statusCode = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  status,
			"service": serviceName,
		})
	}
}
