package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/taskman/internal/model"
	amqp "github.com/rabbitmq/amqp091-go"
)

// PublishMetrics はイベント発行のメトリクス記録インターフェース。
// metrics.Collectorの部分集合として定義する。
type PublishMetrics interface {
	RecordPublish(eventType string, success bool)
}

// Publisher はユーザーイベントをtopic exchangeに発行する。
// メッセージは永続化され（ブローカー再起動後も残る）、
// ルーティングキーにはイベント種別（user.created等）をそのまま使用する。
type Publisher struct {
	client  *Client
	metrics PublishMetrics
}

// NewPublisher はPublisherを生成する。
func NewPublisher(client *Client, metrics PublishMetrics) *Publisher {
	return &Publisher{
		client:  client,
		metrics: metrics,
	}
}

// PublishUserEvent は指定種別のユーザーイベントを発行する。
// パスワードハッシュはペイロードに含めない。
// 同一イベントは何度発行しても消費側のUPSERTにより冪等に適用されるため、
// 再発行による修復が可能。
func (p *Publisher) PublishUserEvent(ctx context.Context, eventType string, user *model.User) error {
	event := model.UserEvent{
		EventType: eventType,
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Timestamp: time.Now().UTC(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal user event: %w", err)
	}

	err = p.client.Channel().PublishWithContext(ctx,
		p.client.config.Exchange, // exchange
		eventType,                // routing key
		false,                    // mandatory
		false,                    // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		p.metrics.RecordPublish(eventType, false)
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}

	p.metrics.RecordPublish(eventType, true)

	slog.Info("published user event",
		slog.String("event_type", eventType),
		slog.String("user_id", user.ID),
	)

	return nil
}
