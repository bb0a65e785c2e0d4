// Package database はローカル状態ストア用のデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// SchemaVersion はこのバイナリが前提とするlocal_stateスキーマのバージョン。
const SchemaVersion uint = 1

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewMigrator はlocal_stateスキーマのmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load local state migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create local state migrator: %w", err)
	}

	return m, nil
}

// RunMigrations はlocal_stateスキーマを最新にし、適用後のバージョンを返す。
// すでに最新の場合はエラーなしで現在のバージョンを返す。
// 途中で失敗したマイグレーションが残っている（dirty）場合はエラーを返す。
func RunMigrations(databaseURL string) (uint, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to migrate local state schema: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to read local state schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("local state schema is dirty at version %d", version)
	}

	return version, nil
}
