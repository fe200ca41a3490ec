// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/auth/*.sql migrations/tasks/*.sql
var migrationsFS embed.FS

// Service はマイグレーション対象のサービスを表す。
// 認証サービスとタスクサービスは物理的に別のデータベースを持つため、
// マイグレーションもサービスごとに分かれている。
type Service string

const (
	// ServiceAuth は認証サービスのデータベース。
	ServiceAuth Service = "auth"
	// ServiceTasks はタスクサービスのデータベース。
	ServiceTasks Service = "tasks"
)

// NewMigrator は指定サービスのマイグレーション実行用migrateインスタンスを生成する。
// databaseURLはPostgreSQLの接続URLを指定する。
func NewMigrator(databaseURL string, service Service) (*migrate.Migrate, error) {
	if service != ServiceAuth && service != ServiceTasks {
		return nil, fmt.Errorf("unknown migration service: %s", service)
	}

	source, err := iofs.New(migrationsFS, "migrations/"+string(service))
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations は指定サービスのすべてのマイグレーションを適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(databaseURL string, service Service) error {
	m, err := NewMigrator(databaseURL, service)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
