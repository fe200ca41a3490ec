package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/taskman/internal/model"
)

// PostgresUserCacheRepo はPostgreSQLを使用したユーザーキャッシュリポジトリ。
// tasks_usersテーブルへの唯一の書き込み経路はUpsertであり、
// HTTPパスは読み取りのみを行う。
type PostgresUserCacheRepo struct {
	db *sql.DB
}

// NewPostgresUserCacheRepo はPostgresUserCacheRepoを生成する。
func NewPostgresUserCacheRepo(db *sql.DB) *PostgresUserCacheRepo {
	return &PostgresUserCacheRepo{db: db}
}

// Upsert はユーザーキャッシュを冪等にUPSERTする。
// 既存行がある場合はusername/emailを上書きしlast_synced_atを更新する。
// first_synced_atは初回挿入時の値を維持する（ON CONFLICT時に更新しない）。
// 単一文のため、同一user_idへの並行UPSERTに対して原子的。
func (r *PostgresUserCacheRepo) Upsert(ctx context.Context, userID, username, email string, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks_users (user_id, username, email, first_synced_at, last_synced_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (user_id) DO UPDATE SET
		     username = EXCLUDED.username,
		     email = EXCLUDED.email,
		     last_synced_at = EXCLUDED.last_synced_at`,
		userID, username, email, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cached user: %w", err)
	}
	return nil
}

// FindByID は指定IDのキャッシュ済みユーザーを取得する。見つからない場合はnilを返す。
// 未同期（nil）は想定内の状態でありエラーではない。
func (r *PostgresUserCacheRepo) FindByID(ctx context.Context, userID string) (*model.CachedUser, error) {
	user := &model.CachedUser{}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, username, email, first_synced_at, last_synced_at
		 FROM tasks_users WHERE user_id = $1`,
		userID,
	).Scan(&user.UserID, &user.Username, &user.Email, &user.FirstSyncedAt, &user.LastSyncedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find cached user: %w", err)
	}

	return user, nil
}

// compile-time interface check
var _ UserCacheRepository = (*PostgresUserCacheRepo)(nil)
