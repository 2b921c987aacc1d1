// Package syncmeta is a small key/value store for sync bookkeeping, most
// importantly the server cursor consumed by the last calculation.
package syncmeta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/vaultsync/vaultsync/internal/dbx"
)

// KeyLastSyncedAt holds the server timestamp of the last fully synced pass.
const KeyLastSyncedAt = "last_synced_at"

// Repository reads and writes sync bookkeeping values.
type Repository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error

	// Cursor returns the stored server cursor, or 0 when none exists yet.
	Cursor(ctx context.Context) (int64, error)
	SetCursor(ctx context.Context, cursor int64) error
}

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = errors.New("sync meta key not found")

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get sync meta: %w", err)
	}
	return value, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, key, value string) error {
	query := `INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("set sync meta: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Cursor(ctx context.Context) (int64, error) {
	value, err := r.Get(ctx, KeyLastSyncedAt)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	cursor, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing cursor %q: %w", value, err)
	}
	return cursor, nil
}

func (r *SQLiteRepository) SetCursor(ctx context.Context, cursor int64) error {
	return r.Set(ctx, KeyLastSyncedAt, strconv.FormatInt(cursor, 10))
}
