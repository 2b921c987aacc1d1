// Package account persists the single per-device account record.
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vaultsync/vaultsync/internal/common"
	"github.com/vaultsync/vaultsync/internal/dbx"
	"github.com/vaultsync/vaultsync/internal/models"
)

// Repository stores at most one account, keyed by a fixed row id.
type Repository interface {
	// Get returns the device account or common.ErrNoAccount.
	Get(ctx context.Context) (*models.Account, error)

	// Save writes the account. Returns common.ErrAccountAlreadyExists when
	// a different account is already stored.
	Save(ctx context.Context, acc *models.Account) error
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context) (*models.Account, error) {
	query := `SELECT username, server_url, root_id, private_key_pem FROM account WHERE id = 0`
	var acc models.Account
	err := r.db.QueryRowContext(ctx, query).
		Scan(&acc.Username, &acc.ServerURL, &acc.RootID, &acc.PrivateKeyPEM)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNoAccount
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &acc, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, acc *models.Account) error {
	existing, err := r.Get(ctx)
	if err != nil && !errors.Is(err, common.ErrNoAccount) {
		return err
	}
	if existing != nil && existing.Username != acc.Username {
		return common.ErrAccountAlreadyExists
	}

	query := `INSERT INTO account (id, username, server_url, root_id, private_key_pem)
		VALUES (0, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			server_url = excluded.server_url,
			root_id = excluded.root_id,
			private_key_pem = excluded.private_key_pem`
	_, err = r.db.ExecContext(ctx, query, acc.Username, acc.ServerURL, acc.RootID, acc.PrivateKeyPEM)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}
