package files

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vaultsync/vaultsync/internal/common"
	"github.com/vaultsync/vaultsync/internal/dbx"
	"github.com/vaultsync/vaultsync/internal/models"
)

const metaColumns = `id, file_type, parent_id, name, owner,
	metadata_version, content_version, synced_metadata_version, synced_content_version,
	deleted, user_access_keys, folder_key, folder_key_nonce, signature`

// SQLiteRepository implements Repository over a DBTX, so it can run either
// directly against the DB or inside a work-unit transaction.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.FileMetadata, error) {
	query := `SELECT ` + metaColumns + ` FROM files WHERE id = ?`
	meta, err := scanMeta(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrFileDoesNotExist
		}
		return nil, fmt.Errorf("get file: %w", err)
	}
	return meta, nil
}

func (r *SQLiteRepository) Children(ctx context.Context, parentID string) ([]models.FileMetadata, error) {
	query := `SELECT ` + metaColumns + ` FROM files
		WHERE parent_id = ? AND id != parent_id AND deleted = 0 ORDER BY name`
	return r.queryMeta(ctx, query, parentID)
}

func (r *SQLiteRepository) ChildByName(ctx context.Context, parentID, name string) (*models.FileMetadata, error) {
	query := `SELECT ` + metaColumns + ` FROM files
		WHERE parent_id = ? AND id != parent_id AND deleted = 0 AND name = ?`
	meta, err := scanMeta(r.db.QueryRowContext(ctx, query, parentID, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrFileDoesNotExist
		}
		return nil, fmt.Errorf("get child by name: %w", err)
	}
	return meta, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, meta *models.FileMetadata) error {
	accessKeys, err := json.Marshal(meta.UserAccessKeys)
	if err != nil {
		return fmt.Errorf("marshaling access keys: %w", err)
	}

	var folderKey, folderKeyNonce []byte
	if meta.FolderAccessKey != nil {
		folderKey = meta.FolderAccessKey.Ciphertext
		folderKeyNonce = meta.FolderAccessKey.Nonce
	}

	query := `INSERT INTO files (` + metaColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			file_type = excluded.file_type,
			parent_id = excluded.parent_id,
			name = excluded.name,
			owner = excluded.owner,
			metadata_version = excluded.metadata_version,
			content_version = excluded.content_version,
			synced_metadata_version = excluded.synced_metadata_version,
			synced_content_version = excluded.synced_content_version,
			deleted = excluded.deleted,
			user_access_keys = excluded.user_access_keys,
			folder_key = excluded.folder_key,
			folder_key_nonce = excluded.folder_key_nonce,
			signature = excluded.signature`
	_, err = r.db.ExecContext(ctx, query,
		meta.ID, string(meta.Type), meta.ParentID, meta.Name, meta.Owner,
		meta.MetadataVersion, meta.ContentVersion,
		meta.SyncedMetadataVersion, meta.SyncedContentVersion,
		meta.Deleted, string(accessKeys), folderKey, folderKeyNonce, meta.Signature)
	if err != nil {
		return fmt.Errorf("upsert file: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Tombstone(ctx context.Context, id string) error {
	query := `UPDATE files SET deleted = 1, metadata_version = metadata_version + 1
		WHERE id = ? AND deleted = 0`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("tombstone file: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("tombstone rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrFileDoesNotExist
	}
	return nil
}

func (r *SQLiteRepository) All(ctx context.Context) ([]models.FileMetadata, error) {
	query := `SELECT ` + metaColumns + ` FROM files ORDER BY id`
	return r.queryMeta(ctx, query)
}

func (r *SQLiteRepository) CountPending(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM files
		WHERE metadata_version > synced_metadata_version
		   OR content_version > synced_content_version`
	var n int
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) StampVersions(ctx context.Context, id string,
	metadataVersion, contentVersion, seenMetadataVersion, seenContentVersion int64) (bool, error) {
	query := `UPDATE files SET
			metadata_version = ?, content_version = ?,
			synced_metadata_version = ?, synced_content_version = ?
		WHERE id = ? AND metadata_version = ? AND content_version = ?`
	res, err := r.db.ExecContext(ctx, query,
		metadataVersion, contentVersion, metadataVersion, contentVersion,
		id, seenMetadataVersion, seenContentVersion)
	if err != nil {
		return false, fmt.Errorf("stamp versions: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("stamp rows affected: %w", err)
	}
	return ra > 0, nil
}

func (r *SQLiteRepository) GetContent(ctx context.Context, id string) (*models.EncryptedContent, error) {
	query := `SELECT content, content_nonce FROM files WHERE id = ?`
	var c models.EncryptedContent
	err := r.db.QueryRowContext(ctx, query, id).Scan(&c.Ciphertext, &c.Nonce)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrFileDoesNotExist
		}
		return nil, fmt.Errorf("get content: %w", err)
	}
	if c.Ciphertext == nil {
		return nil, common.ErrFileDoesNotExist
	}
	return &c, nil
}

func (r *SQLiteRepository) SetContent(ctx context.Context, id string, content models.EncryptedContent) error {
	query := `UPDATE files SET content = ?, content_nonce = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, content.Ciphertext, content.Nonce, id)
	if err != nil {
		return fmt.Errorf("set content: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set content rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrFileDoesNotExist
	}
	return nil
}

func (r *SQLiteRepository) PruneConfirmedTombstones(ctx context.Context) (int64, error) {
	// A tombstone is safe to drop once the server confirmed it and nothing
	// live still points at it as a parent.
	query := `DELETE FROM files
		WHERE deleted = 1
		  AND metadata_version = synced_metadata_version
		  AND NOT EXISTS (
			SELECT 1 FROM files c WHERE c.parent_id = files.id AND c.deleted = 0
		  )`
	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("prune tombstones: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) queryMeta(ctx context.Context, query string, args ...any) ([]models.FileMetadata, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select files: %w", err)
	}
	defer rows.Close()

	var result []models.FileMetadata
	for rows.Next() {
		meta, err := scanMeta(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *meta)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeta(row rowScanner) (*models.FileMetadata, error) {
	var (
		meta           models.FileMetadata
		fileType       string
		accessKeysJSON string
		folderKey      []byte
		folderKeyNonce []byte
	)
	err := row.Scan(&meta.ID, &fileType, &meta.ParentID, &meta.Name, &meta.Owner,
		&meta.MetadataVersion, &meta.ContentVersion,
		&meta.SyncedMetadataVersion, &meta.SyncedContentVersion,
		&meta.Deleted, &accessKeysJSON, &folderKey, &folderKeyNonce, &meta.Signature)
	if err != nil {
		return nil, err
	}

	meta.Type = models.FileType(fileType)
	if accessKeysJSON != "" {
		if err := json.Unmarshal([]byte(accessKeysJSON), &meta.UserAccessKeys); err != nil {
			return nil, fmt.Errorf("unmarshaling access keys: %w", err)
		}
	}
	if folderKey != nil {
		meta.FolderAccessKey = &models.WrappedKey{Ciphertext: folderKey, Nonce: folderKeyNonce}
	}
	return &meta, nil
}
