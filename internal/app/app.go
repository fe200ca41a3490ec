// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/taskman/internal/auth"
	"github.com/hitoshi/taskman/internal/config"
	"github.com/hitoshi/taskman/internal/database"
	"github.com/hitoshi/taskman/internal/handler"
	"github.com/hitoshi/taskman/internal/logger"
	"github.com/hitoshi/taskman/internal/metrics"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/rabbitmq"
	"github.com/hitoshi/taskman/internal/repository"
	"github.com/hitoshi/taskman/internal/task"
	"github.com/hitoshi/taskman/internal/usercache"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	if cfg.IsDevSecret() {
		slog.Warn("JWT_SECRET is not set, using development default. Do not use in production.")
	}

	switch cmd {
	case CommandAuth:
		return runAuth(cfg)
	case CommandTasks:
		return runTasks(cfg)
	case CommandMigrate:
		return runMigrate(cfg, args[1:])
	default:
		return runAuth(cfg)
	}
}

// rabbitConfig はConfigからRabbitMQクライアント設定を組み立てる。
func rabbitConfig(cfg *config.Config) rabbitmq.Config {
	return rabbitmq.Config{
		URL:        cfg.RabbitMQURL,
		Exchange:   cfg.RabbitMQExchange,
		Queue:      cfg.RabbitMQQueue,
		Bindings:   cfg.RabbitMQBindings,
		MaxRetries: cfg.RabbitMQMaxRetries,
	}
}

// rateLimiterConfig はConfigのreq/min設定をRateLimiterConfigに変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	return middleware.RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(cfg.RateLimitGeneral) / 60.0),
		GeneralBurst:    cfg.RateLimitGeneral,
		RegisterRate:    rate.Limit(float64(cfg.RateLimitRegister) / 60.0),
		RegisterBurst:   cfg.RateLimitRegister,
		CleanupInterval: 5 * time.Minute,
	}
}

// runAuth は認証サービスモードで起動する。
// ユーザー登録・ログインAPIを提供し、ユーザーイベントをRabbitMQに発行する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runAuth(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. RabbitMQ接続とトポロジー宣言
	// ブローカー起動待ちのためリトライ付きで接続する
	dialCtx, dialCancel := context.WithCancel(context.Background())
	defer dialCancel()

	client, err := rabbitmq.DialWithRetry(dialCtx, rabbitConfig(cfg), collector)
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	defer client.Close()

	if err := client.DeclareTopology(); err != nil {
		return fmt.Errorf("failed to declare rabbitmq topology: %w", err)
	}

	slog.Info("rabbitmq connection established",
		slog.String("exchange", cfg.RabbitMQExchange),
	)

	// 4. リポジトリとサービスの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTExpiry)
	publisher := rabbitmq.NewPublisher(client, collector)
	authService := auth.NewService(userRepo, publisher, tokens)

	// 5. ルーターの構築
	router := handler.NewAuthRouter(&handler.AuthRouterDeps{
		AuthService:       authService,
		TokenValidator:    tokens,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(rateLimiterConfig(cfg)),
		Logger:            slog.Default(),
		HTTPMetrics:       collector,
		MetricsHandler:    metrics.Handler(registry),
		DB:                db,
	})

	return serveHTTP(cfg, router, "auth service")
}

// runTasks はタスクサービスモードで起動する。
// タスク管理APIを提供し、認証サービスのユーザーイベントを消費して
// ローカルのユーザーキャッシュに反映する。
func runTasks(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. RabbitMQ接続とトポロジー宣言
	// トポロジー宣言の失敗は起動失敗として扱う。宣言なしで消費を始めると
	// バインディング前に発行されたイベントを取りこぼすため
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := rabbitmq.DialWithRetry(ctx, rabbitConfig(cfg), collector)
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	defer client.Close()

	if err := client.DeclareTopology(); err != nil {
		return fmt.Errorf("failed to declare rabbitmq topology: %w", err)
	}

	slog.Info("rabbitmq connection established",
		slog.String("queue", cfg.RabbitMQQueue),
	)

	// 4. リポジトリとサービスの初期化
	userCacheRepo := repository.NewPostgresUserCacheRepo(db)
	taskRepo := repository.NewPostgresTaskRepo(db)

	cacheService := usercache.NewService(userCacheRepo, collector)
	taskService := task.NewService(taskRepo, cacheService)
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTExpiry)

	// 5. コンシューマーをバックグラウンドで起動
	consumer := rabbitmq.NewConsumer(client, cacheService, slog.Default(), collector)

	consumerErr := make(chan error, 1)
	go func() {
		consumerErr <- consumer.Start(ctx)
	}()

	// 6. ルーターの構築
	router := handler.NewTasksRouter(&handler.TasksRouterDeps{
		TaskService:       taskService,
		TokenValidator:    tokens,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(rateLimiterConfig(cfg)),
		Logger:            slog.Default(),
		HTTPMetrics:       collector,
		MetricsHandler:    metrics.Handler(registry),
		DB:                db,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("tasks API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	// シグナル受信、またはコンシューマーの異常終了で停止する。
	// ブローカー接続が失われた場合は再接続せずプロセスを終了し、
	// オーケストレーターの再起動に委ねる
	var runErr error
	select {
	case <-stop:
		slog.Info("shutting down tasks service...")
	case err := <-consumerErr:
		if err != nil {
			slog.Error("consumer terminated", slog.String("error", err.Error()))
			runErr = fmt.Errorf("consumer terminated: %w", err)
		}
	}

	// コンシューマーを停止（処理中のメッセージは完了させる）
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("tasks service stopped gracefully")
	return runErr
}

// serveHTTP はHTTPサーバーを起動し、シグナル受信でグレースフルシャットダウンする。
func serveHTTP(cfg *config.Config, router http.Handler, name string) error {
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("service", name),
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...", slog.String("service", name))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully", slog.String("service", name))
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// 引数でサービス（auth / tasks）を指定する。未指定の場合は両方を順に適用する。
func runMigrate(cfg *config.Config, args []string) error {
	services := []database.Service{database.ServiceAuth, database.ServiceTasks}
	if len(args) > 0 {
		services = []database.Service{database.Service(args[0])}
	}

	for _, svc := range services {
		slog.Info("running database migrations",
			slog.String("service", string(svc)),
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)

		if err := database.RunMigrations(cfg.DatabaseURL, svc); err != nil {
			return fmt.Errorf("migration failed for %s: %w", svc, err)
		}
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
