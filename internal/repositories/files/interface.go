// Package files persists the encrypted file tree. It is raw storage only:
// tree invariants (cycles, sibling names, root existence) are enforced one
// layer up, in the tree service.
package files

import (
	"context"

	"github.com/vaultsync/vaultsync/internal/models"
)

// Repository is the Tree Store persistence contract. Get and All include
// tombstones (deleted records kept for propagation); Children does not.
type Repository interface {
	// Get returns one record by id, tombstoned or not. Returns
	// common.ErrFileDoesNotExist when no row exists.
	Get(ctx context.Context, id string) (*models.FileMetadata, error)

	// Children lists the live (non-deleted) children of a folder.
	Children(ctx context.Context, parentID string) ([]models.FileMetadata, error)

	// ChildByName returns the live child of parentID with the given name, or
	// common.ErrFileDoesNotExist.
	ChildByName(ctx context.Context, parentID, name string) (*models.FileMetadata, error)

	// Upsert inserts or replaces a record's metadata columns. Content
	// columns are managed separately via SetContent.
	Upsert(ctx context.Context, meta *models.FileMetadata) error

	// Tombstone soft-deletes a record and bumps its metadata version so the
	// deletion propagates on the next sync.
	Tombstone(ctx context.Context, id string) error

	// All returns every record including tombstones, the local snapshot the
	// work calculator diffs against the server.
	All(ctx context.Context) ([]models.FileMetadata, error)

	// CountPending counts records with unconfirmed local changes.
	CountPending(ctx context.Context) (int, error)

	// StampVersions records server-confirmed version numbers, setting both
	// the current and the baseline columns, but only while the row still
	// carries the versions the caller pushed. Reports whether the stamp
	// applied; false means the row changed underneath the caller and must
	// stay pending.
	StampVersions(ctx context.Context, id string,
		metadataVersion, contentVersion, seenMetadataVersion, seenContentVersion int64) (bool, error)

	// GetContent returns a document's stored ciphertext, or
	// common.ErrFileDoesNotExist when none is stored.
	GetContent(ctx context.Context, id string) (*models.EncryptedContent, error)

	// SetContent stores a document's ciphertext.
	SetContent(ctx context.Context, id string, content models.EncryptedContent) error

	// PruneConfirmedTombstones hard-removes tombstones the server has
	// confirmed and that no live record still references as a parent.
	// Returns the number of rows removed.
	PruneConfirmedTombstones(ctx context.Context) (int64, error)
}
