package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStateRepo はPostgreSQLのlocal_stateテーブルを使用した状態リポジトリ。
// 値はBYTEAに保存するため、Putしたバイト列がそのままGetで返る。
type PostgresStateRepo struct {
	db *sql.DB
}

// NewPostgresStateRepo はPostgresStateRepoを生成する。
func NewPostgresStateRepo(db *sql.DB) *PostgresStateRepo {
	return &PostgresStateRepo{db: db}
}

// Get は指定キーの値を取得する。
func (r *PostgresStateRepo) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM local_state WHERE key = $1`,
		key,
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	return value, nil
}

// Put は指定キーの値をUPSERTで丸ごと置き換える。
func (r *PostgresStateRepo) Put(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO local_state (key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to put state: %w", err)
	}
	return nil
}

// Delete は指定キーを削除する。
func (r *PostgresStateRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM local_state WHERE key = $1`,
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// compile-time interface check
var _ StateRepository = (*PostgresStateRepo)(nil)
