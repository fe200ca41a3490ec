// Package usercache は認証サービスから同期されるユーザーキャッシュの
// 整合化（reconciliation）と参照を提供する。
// キャッシュはイベント消費によってのみ更新される結果整合な投影であり、
// タスクAPIの認可チェックはこのキャッシュだけを参照する。
package usercache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
)

// UpsertMetrics はキャッシュ更新のメトリクス記録インターフェース。
// metrics.Collectorの部分集合として定義する。
type UpsertMetrics interface {
	RecordCacheUpsert()
}

// Service はユーザーキャッシュの適用と参照を提供する。
type Service struct {
	repo    repository.UserCacheRepository
	metrics UpsertMetrics
}

// NewService はServiceを生成する。
func NewService(repo repository.UserCacheRepository, metrics UpsertMetrics) *Service {
	return &Service{
		repo:    repo,
		metrics: metrics,
	}
}

// Apply はユーザーイベントをキャッシュに冪等に適用する。
// 同一イベントを複数回適用しても行は1つのままで、
// last_synced_atのみが進む（first_synced_atは維持される）。
// user.createdとuser.updatedの適用順序が入れ替わっても、
// 最後に適用されたペイロードの内容が残る（last-write-wins）。
func (s *Service) Apply(ctx context.Context, event model.UserEvent) error {
	now := time.Now().UTC()

	if err := s.repo.Upsert(ctx, event.UserID, event.Username, event.Email, now); err != nil {
		return fmt.Errorf("failed to apply user event (user_id=%s): %w", event.UserID, err)
	}

	s.metrics.RecordCacheUpsert()

	slog.Info("user cache updated",
		slog.String("user_id", event.UserID),
		slog.String("username", event.Username),
		slog.String("event_type", event.EventType),
	)

	return nil
}

// Resolve は指定IDのキャッシュ済みユーザーを返す。
// 未同期の場合はnilを返す。これはエラーではなく、
// 同期ラグまたは存在しないユーザーを表す想定内の結果である。
func (s *Service) Resolve(ctx context.Context, userID string) (*model.CachedUser, error) {
	return s.repo.FindByID(ctx, userID)
}
