// Package api defines the JSON shapes exchanged with the sync server. The
// transport itself is owned by the server; the core only depends on these
// request/response structs.
package api

// FileMetadata is the wire form of one encrypted file record. All key
// material is wrapped; the server never sees plaintext names' keys or
// content.
type FileMetadata struct {
	ID              string                `json:"id"`
	Type            string                `json:"type"`
	ParentID        string                `json:"parent_id"`
	Name            string                `json:"name"`
	Owner           string                `json:"owner"`
	MetadataVersion int64                 `json:"metadata_version"`
	ContentVersion  int64                 `json:"content_version"`
	Deleted         bool                  `json:"deleted"`
	UserAccessKeys  map[string]WrappedKey `json:"user_access_keys"`
	FolderAccessKey *WrappedKey           `json:"folder_access_key,omitempty"`
	Signature       []byte                `json:"signature,omitempty"`
}

// WrappedKey is an encrypted content key.
type WrappedKey struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce,omitempty"`
}

// RegisterRequest registers a username with its public key.
type RegisterRequest struct {
	Username     string `json:"username"`
	PublicKeyPEM []byte `json:"public_key_pem"`
}

// RegisterResponse acknowledges a registration.
type RegisterResponse struct {
	Message string `json:"message"`
}

// MetadataSinceResponse lists every record changed on the server after the
// requested cursor, plus the server's current timestamp for the next cursor.
type MetadataSinceResponse struct {
	Files      []FileMetadata `json:"files"`
	ServerTime int64          `json:"server_time"`
}

// PushMetadataRequest sends one locally changed record. OldMetadataVersion
// is the client's baseline; the server rejects the push with a version
// conflict when its copy has moved past it.
type PushMetadataRequest struct {
	File               FileMetadata `json:"file"`
	OldMetadataVersion int64        `json:"old_metadata_version"`
}

// PushMetadataResponse returns the authoritative versions assigned by the
// server.
type PushMetadataResponse struct {
	NewMetadataVersion int64 `json:"new_metadata_version"`
	NewContentVersion  int64 `json:"new_content_version"`
}

// ContentResponse carries a document's encrypted content.
type ContentResponse struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
}

// PushContentRequest uploads re-encrypted document content.
type PushContentRequest struct {
	Ciphertext        []byte `json:"ciphertext"`
	Nonce             []byte `json:"nonce"`
	OldContentVersion int64  `json:"old_content_version"`
}

// PushContentResponse returns the new content version.
type PushContentResponse struct {
	NewContentVersion int64 `json:"new_content_version"`
}

// Machine-readable error codes carried in ErrorResponse. Clients branch on
// Code; Error stays free-form text for humans.
const (
	CodeUsernameTaken   = "username_taken"
	CodeVersionConflict = "version_conflict"
)

// ErrorResponse is the server's error envelope.
type ErrorResponse struct {
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
