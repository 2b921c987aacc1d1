// Package client is the server collaborator of the sync core: the interface
// the calculator and executor talk to, an HTTP JSON implementation, and the
// sentinel errors the executor maps onto its failure semantics.
package client

import (
	"context"
	"crypto/rsa"

	"github.com/vaultsync/vaultsync/internal/models"
)

// IdentitySetter is implemented by clients that sign their requests as a
// particular account. The account service attaches the identity once an
// account is created, imported or loaded.
type IdentitySetter interface {
	SetIdentity(username string, key *rsa.PrivateKey)
}

// PushResult carries the authoritative version numbers the server assigned
// to a pushed record.
type PushResult struct {
	NewMetadataVersion int64
	NewContentVersion  int64
}

// Client is the server-side replica as seen by the core. Implementations
// must return ErrUnavailable for transport failures and ErrVersionConflict
// for optimistic-concurrency rejections so the executor can tell an aborted
// pass from a requeueable unit.
type Client interface {
	// Register announces a new username and its public key to the server.
	Register(ctx context.Context, username string, publicKeyPEM []byte) error

	// FetchMetadataSince returns every record changed after cursor plus the
	// server timestamp to use as the next cursor.
	FetchMetadataSince(ctx context.Context, cursor int64) ([]models.FileMetadata, int64, error)

	// PushMetadata sends one changed record; oldVersion is the client's
	// metadata baseline for conflict detection.
	PushMetadata(ctx context.Context, meta models.FileMetadata, oldVersion int64) (PushResult, error)

	// FetchContent downloads a document's encrypted content.
	FetchContent(ctx context.Context, id string) (models.EncryptedContent, error)

	// PushContent uploads re-encrypted content; oldVersion is the content
	// baseline. Returns the new content version.
	PushContent(ctx context.Context, id string, content models.EncryptedContent, oldVersion int64) (int64, error)

	Close() error
}
