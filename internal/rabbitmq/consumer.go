package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hitoshi/taskman/internal/model"
	amqp "github.com/rabbitmq/amqp091-go"
)

// UserEventHandler はユーザーイベント適用のインターフェース。
// usercache.Serviceの部分集合として定義する。
type UserEventHandler interface {
	// Apply はユーザーイベントをキャッシュに冪等に適用する。
	Apply(ctx context.Context, event model.UserEvent) error
}

// ConsumeMetrics はイベント消費のメトリクス記録インターフェース。
// metrics.Collectorの部分集合として定義する。
type ConsumeMetrics interface {
	RecordEventAcked(routingKey string)
	RecordEventRequeued(routingKey string)
	RecordEventPoisoned()
}

// Consumer はキューからユーザーイベントを消費し、ハンドラーに適用する。
// メッセージは1件ずつ手動ACKで処理する。配送はat-least-onceであり、
// 処理失敗時はrequeueによる再配送で回復する。
type Consumer struct {
	client  *Client
	handler UserEventHandler
	logger  *slog.Logger
	metrics ConsumeMetrics
}

// NewConsumer はConsumerを生成する。
func NewConsumer(client *Client, handler UserEventHandler, logger *slog.Logger, metrics ConsumeMetrics) *Consumer {
	return &Consumer{
		client:  client,
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
}

// Start は消費ループを開始する。コンテキストがキャンセルされるまでブロックする。
// キャンセル時は処理中のメッセージのハンドリング完了を待ってから返る。
// 接続確立後にブローカー側から切断された場合は自動再接続せず、
// エラーを返して呼び出し側に委ねる（プロセスの再起動で回復する運用を想定）。
func (c *Consumer) Start(ctx context.Context) error {
	// 1件ずつ処理するためprefetchを1に設定する
	if err := c.client.Channel().Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := c.client.Channel().Consume(
		c.client.config.Queue, // queue
		"",                    // consumer tag
		false,                 // auto-ack（手動ACKのためfalse）
		false,                 // exclusive
		false,                 // no-local
		false,                 // no-wait
		nil,                   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("event consumer started",
		slog.String("queue", c.client.config.Queue),
		slog.String("exchange", c.client.config.Exchange),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("event consumer stopping")
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				// 接続断によるチャネルクローズ。再接続はここでは行わない。
				c.logger.Error("delivery channel closed by broker")
				return fmt.Errorf("delivery channel closed")
			}
			c.handleDelivery(ctx, msg)
		}
	}
}

// handleDelivery は1件のメッセージを処理し、結果に応じてACK/NACKする。
//   - デコード失敗: requeueなしでNACK（poisonメッセージの無限再配送を防ぐ）
//   - ハンドラー失敗: requeueありでNACK（一時的な障害は再配送で回復する）
//   - 成功: ACK
//
// ハンドラーにはキャンセル不可のコンテキストを渡し、
// シャットダウン開始後も処理中の1件は完了させる。
func (c *Consumer) handleDelivery(ctx context.Context, msg amqp.Delivery) {
	var event model.UserEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.logger.Error("failed to decode event payload, dropping message",
			slog.String("routing_key", msg.RoutingKey),
			slog.String("error", err.Error()),
		)
		c.metrics.RecordEventPoisoned()
		msg.Nack(false, false)
		return
	}

	// userIdを欠くペイロードはデータ破損であり、再配送しても回復しない
	if event.UserID == "" {
		c.logger.Error("event payload missing userId, dropping message",
			slog.String("routing_key", msg.RoutingKey),
		)
		c.metrics.RecordEventPoisoned()
		msg.Nack(false, false)
		return
	}

	switch msg.RoutingKey {
	case model.EventUserCreated, model.EventUserUpdated:
		// created/updatedはどちらも同じUPSERTハンドラーに渡す。
		// キャッシュの適用は冪等なため、イベント種別や順序に依存しない。
		if err := c.handler.Apply(context.WithoutCancel(ctx), event); err != nil {
			c.logger.Error("failed to apply user event, requeueing",
				slog.String("routing_key", msg.RoutingKey),
				slog.String("user_id", event.UserID),
				slog.String("error", err.Error()),
			)
			c.metrics.RecordEventRequeued(msg.RoutingKey)
			msg.Nack(false, true)
			return
		}
	default:
		c.logger.Warn("unknown routing key, ignoring",
			slog.String("routing_key", msg.RoutingKey),
		)
	}

	c.metrics.RecordEventAcked(msg.RoutingKey)
	msg.Ack(false)
}
