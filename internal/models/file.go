// Package models defines the file-tree metadata, key-wrapping and sync
// work types shared by the repositories and services.
package models

// FileType classifies a file as a document or a folder.
type FileType string

const (
	FileTypeDocument FileType = "document"
	FileTypeFolder   FileType = "folder"
)

// WrappedKey is a content key encrypted under another key. Keys wrapped
// under a folder key use AES-GCM and carry the nonce; keys wrapped under a
// user's RSA public key have an empty nonce.
type WrappedKey struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce,omitempty"`
}

// EncryptedContent is a document's ciphertext plus the AES-GCM nonce it was
// sealed with. Only the holder of the file's content key can decrypt it.
type EncryptedContent struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
}

// FileMetadata is one record of the encrypted file tree.
//
// MetadataVersion and ContentVersion are server-assigned monotonic counters
// used as optimistic-concurrency tokens. The Synced* fields hold the last
// server-confirmed values (the baseline); a local mutation bumps the current
// value past the baseline, which marks the file as pending until the next
// successful push.
type FileMetadata struct {
	ID                    string                `json:"id"`
	Type                  FileType              `json:"type"`
	ParentID              string                `json:"parent_id"`
	Name                  string                `json:"name"`
	Owner                 string                `json:"owner"`
	MetadataVersion       int64                 `json:"metadata_version"`
	ContentVersion        int64                 `json:"content_version"`
	SyncedMetadataVersion int64                 `json:"-"`
	SyncedContentVersion  int64                 `json:"-"`
	Deleted               bool                  `json:"deleted"`
	UserAccessKeys        map[string]WrappedKey `json:"user_access_keys"`
	FolderAccessKey       *WrappedKey           `json:"folder_access_key,omitempty"`
	Signature             []byte                `json:"signature,omitempty"`
}

// IsRoot reports whether the record is the account root, which is its own
// parent by convention.
func (m *FileMetadata) IsRoot() bool {
	return m.ID == m.ParentID
}

// MetadataPending reports whether the record carries a metadata mutation not
// yet confirmed by the server.
func (m *FileMetadata) MetadataPending() bool {
	return m.MetadataVersion > m.SyncedMetadataVersion
}

// ContentPending reports whether the record carries a content mutation not
// yet confirmed by the server.
func (m *FileMetadata) ContentPending() bool {
	return m.ContentVersion > m.SyncedContentVersion
}

// Pending reports whether any unconfirmed local mutation exists.
func (m *FileMetadata) Pending() bool {
	return m.MetadataPending() || m.ContentPending()
}

// New reports whether the file has never been confirmed by the server.
func (m *FileMetadata) New() bool {
	return m.SyncedMetadataVersion == 0
}
