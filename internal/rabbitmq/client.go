// Package rabbitmq はRabbitMQへの接続管理、イベント発行、イベント消費を提供する。
// 接続とチャネルはClientが所有し、起動時に1回構築して
// PublisherとConsumerに参照で渡す。パッケージレベルの接続ハンドルは持たない。
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config はRabbitMQ接続とトポロジの設定を保持する。
type Config struct {
	URL        string
	Exchange   string
	Queue      string
	Bindings   []string
	MaxRetries int
}

// defaultMaxRetries は接続リトライ回数のデフォルト。
const defaultMaxRetries = 10

// retryBaseDelay はリトライ間隔の基準値。試行回数に比例して増加する。
// テストから短縮できるよう変数にしている。
var retryBaseDelay = 2 * time.Second

// Client はRabbitMQの接続とチャネルを所有する。
// 生成はDialまたはDialWithRetryで行い、終了時は必ずCloseを呼ぶこと。
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  Config
}

// ConnectMetrics は接続試行のメトリクス記録インターフェース。
// metrics.Collectorの部分集合として定義する。nilの場合は記録しない。
type ConnectMetrics interface {
	RecordConnectAttempt(success bool)
}

// dialFn はテストから接続試行を差し替えるためのフック。
var dialFn = Dial

// Dial はRabbitMQに1回だけ接続を試行し、Clientを生成する。
func Dial(cfg Config) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return &Client{
		conn:    conn,
		channel: channel,
		config:  cfg,
	}, nil
}

// DialWithRetry は有限回のリトライ付きでRabbitMQに接続する。
// リトライ間隔は試行回数に比例して増加する（2秒、4秒、6秒…）。
// 全試行が失敗した場合はエラーを返す。コンテキストのキャンセルで即座に中断する。
// metricsがnilでない場合、試行ごとに成否を記録する。
func DialWithRetry(ctx context.Context, cfg Config, metrics ConnectMetrics) (*Client, error) {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		client, err := dialFn(cfg)
		if metrics != nil {
			metrics.RecordConnectAttempt(err == nil)
		}
		if err == nil {
			if attempt > 1 {
				slog.Info("connected to RabbitMQ",
					slog.Int("attempt", attempt),
				)
			}
			return client, nil
		}
		lastErr = err

		slog.Warn("failed to connect to RabbitMQ, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", maxRetries),
			slog.String("error", err.Error()),
		)

		if attempt == maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay(attempt)):
		}
	}

	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, lastErr)
}

// retryDelay はn回目の試行失敗後の待機時間を返す。
func retryDelay(attempt int) time.Duration {
	return time.Duration(attempt) * retryBaseDelay
}

// DeclareTopology はexchange、queue、bindingを宣言する。
// すべて冪等であり、コンシューマ起動のたびに安全に再実行できる。
// ブローカー再起動後の自己修復はこの再宣言によって行われる。
func (c *Client) DeclareTopology() error {
	err := c.channel.ExchangeDeclare(
		c.config.Exchange, // name
		"topic",           // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", c.config.Exchange, err)
	}

	_, err = c.channel.QueueDeclare(
		c.config.Queue, // name
		true,           // durable
		false,          // delete when unused
		false,          // exclusive
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", c.config.Queue, err)
	}

	for _, binding := range c.config.Bindings {
		err = c.channel.QueueBind(
			c.config.Queue,    // queue name
			binding,           // routing key（user.created / user.updated / user.# 等）
			c.config.Exchange, // exchange
			false,             // no-wait
			nil,               // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to bind queue to %q: %w", binding, err)
		}
	}

	return nil
}

// Channel は内部のAMQPチャネルを返す。
func (c *Client) Channel() *amqp.Channel {
	return c.channel
}

// Close はチャネルと接続を閉じる。複数回呼んでも安全。
// すべての終了経路で必ず呼ばれるようdeferで登録すること。
func (c *Client) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	slog.Info("RabbitMQ connection closed")
}
