// Package services contains the sync core: the account/key manager, the
// tree service enforcing the hierarchy invariants, the work calculator and
// the work executor.
package services

import (
	"context"
	"crypto/rsa"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/google/uuid"

	"github.com/vaultsync/vaultsync/internal/client"
	"github.com/vaultsync/vaultsync/internal/common"
	"github.com/vaultsync/vaultsync/internal/cryptox"
	"github.com/vaultsync/vaultsync/internal/dbx"
	"github.com/vaultsync/vaultsync/internal/logging"
	"github.com/vaultsync/vaultsync/internal/models"
	"github.com/vaultsync/vaultsync/internal/repositories/account"
	"github.com/vaultsync/vaultsync/internal/repositories/files"
)

// maxKeyChainDepth bounds the folder-access walk so it terminates even if a
// bug ever violates the acyclicity invariant.
const maxKeyChainDepth = 256

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{3,32}$`)

// AccountService owns the device account and the per-file key unwrapping
// chain consumed by the tree service and the work executor.
type AccountService interface {
	// GetAccount returns the device account or common.ErrNoAccount.
	GetAccount(ctx context.Context) (*models.Account, error)

	// CreateAccount generates a keypair, registers the username with the
	// server and creates the account's root folder.
	CreateAccount(ctx context.Context, username string) (*models.Account, error)

	// ImportAccount restores an account from an export string protected by
	// the given passphrase.
	ImportAccount(ctx context.Context, accountString string, passphrase []byte) (*models.Account, error)

	// ExportAccount serializes the account into a passphrase-encrypted
	// string suitable for moving to another device.
	ExportAccount(ctx context.Context, passphrase []byte) (string, error)

	// UnwrapContentKey walks the folder-access chain from meta to a record
	// carrying a user-access wrap for this account and returns the leaf
	// content key. Fails with common.ErrKeyChainBroken when a link is
	// missing or the account has no access.
	UnwrapContentKey(ctx context.Context, meta *models.FileMetadata) ([]byte, error)

	// WrapForFolder encrypts a content key under the destination folder's
	// key, used at creation and on every move.
	WrapForFolder(ctx context.Context, contentKey []byte, folderID string) (*models.WrappedKey, error)

	// SignMetadata stamps meta with an RSA signature over its version-bearing
	// fields.
	SignMetadata(ctx context.Context, meta *models.FileMetadata) error

	// VerifyMetadata checks the signature on a record owned by this account.
	VerifyMetadata(ctx context.Context, meta *models.FileMetadata) error
}

type accountService struct {
	db        *sql.DB
	accounts  account.Repository
	files     files.Repository
	client    client.Client
	serverURL string
	log       logging.Logger

	mu        sync.Mutex
	cached    *models.Account
	cachedKey *rsa.PrivateKey
}

// NewAccountService wires the account manager. serverURL is recorded on
// accounts created through this service.
func NewAccountService(db *sql.DB, accounts account.Repository, fileRepo files.Repository,
	cl client.Client, serverURL string, log logging.Logger) AccountService {
	return &accountService{
		db:        db,
		accounts:  accounts,
		files:     fileRepo,
		client:    cl,
		serverURL: serverURL,
		log:       log,
	}
}

func (s *accountService) GetAccount(ctx context.Context) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

// loadLocked returns the cached account, reading and caching it (and
// attaching the client identity) on first use. Callers hold s.mu.
func (s *accountService) loadLocked(ctx context.Context) (*models.Account, error) {
	if s.cached != nil {
		return s.cached, nil
	}

	acc, err := s.accounts.Get(ctx)
	if err != nil {
		return nil, err
	}
	key, err := cryptox.ParsePrivateKeyPEM(acc.PrivateKeyPEM)
	if err != nil {
		return nil, common.Unexpectedf("stored account key unreadable: %v", err)
	}

	s.cached = acc
	s.cachedKey = key
	s.attachIdentity(acc.Username, key)
	return acc, nil
}

func (s *accountService) attachIdentity(username string, key *rsa.PrivateKey) {
	if setter, ok := s.client.(client.IdentitySetter); ok {
		setter.SetIdentity(username, key)
	}
}

func (s *accountService) CreateAccount(ctx context.Context, username string) (*models.Account, error) {
	if !usernamePattern.MatchString(username) {
		return nil, common.ErrInvalidUsername
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.loadLocked(ctx); err == nil {
		return nil, common.ErrAccountAlreadyExists
	} else if !errors.Is(err, common.ErrNoAccount) {
		return nil, err
	}

	key, err := cryptox.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	pubPEM, err := cryptox.MarshalPublicKeyPEM(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	if err := s.client.Register(ctx, username, pubPEM); err != nil {
		switch {
		case errors.Is(err, client.ErrUsernameTaken):
			return nil, common.ErrUsernameTaken
		case errors.Is(err, client.ErrUnavailable):
			return nil, fmt.Errorf("%w: %v", common.ErrCouldNotReachServer, err)
		default:
			return nil, err
		}
	}

	root, err := newRootFolder(username, &key.PublicKey)
	if err != nil {
		return nil, err
	}

	acc := &models.Account{
		Username:      username,
		ServerURL:     s.serverURL,
		RootID:        root.ID,
		PrivateKeyPEM: cryptox.MarshalPrivateKeyPEM(key),
	}

	err = dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		if err := account.NewSQLiteRepository(tx).Save(ctx, acc); err != nil {
			return err
		}
		return files.NewSQLiteRepository(tx).Upsert(ctx, root)
	})
	if err != nil {
		return nil, err
	}

	s.cached = acc
	s.cachedKey = key
	s.attachIdentity(username, key)
	s.log.Info(ctx, "account created", "username", username, "root_id", root.ID)
	return acc, nil
}

// newRootFolder builds the account root: its own parent, named after the
// account, its content key wrapped only under the owner's public key.
func newRootFolder(username string, pub *rsa.PublicKey) (*models.FileMetadata, error) {
	contentKey, err := cryptox.GenerateContentKey()
	if err != nil {
		return nil, err
	}
	wrapped, err := cryptox.EncryptWithPublicKey(pub, contentKey)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	return &models.FileMetadata{
		ID:              id,
		Type:            models.FileTypeFolder,
		ParentID:        id,
		Name:            username,
		Owner:           username,
		MetadataVersion: 1,
		ContentVersion:  1,
		UserAccessKeys: map[string]models.WrappedKey{
			username: {Ciphertext: wrapped},
		},
	}, nil
}

// Export string layout: base64(salt || nonce || ciphertext) where ciphertext
// is the account JSON sealed under an argon2id key derived from the
// passphrase.
func (s *accountService) ExportAccount(ctx context.Context, passphrase []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, err := s.loadLocked(ctx)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(acc)
	if err != nil {
		return "", fmt.Errorf("marshaling account: %w", err)
	}

	salt, err := cryptox.GenerateSalt()
	if err != nil {
		return "", err
	}
	exportKey := cryptox.DeriveExportKey(passphrase, salt)
	ciphertext, nonce, err := cryptox.EncryptValue(exportKey, payload)
	if err != nil {
		return "", err
	}

	blob := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

func (s *accountService) ImportAccount(ctx context.Context, accountString string, passphrase []byte) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.loadLocked(ctx); err == nil {
		return nil, common.ErrAccountAlreadyExists
	} else if !errors.Is(err, common.ErrNoAccount) {
		return nil, err
	}

	blob, err := base64.StdEncoding.DecodeString(accountString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrAccountStringCorrupted, err)
	}
	const nonceSize = 12
	if len(blob) < cryptox.SaltSize+nonceSize {
		return nil, common.ErrAccountStringCorrupted
	}

	salt := blob[:cryptox.SaltSize]
	nonce := blob[cryptox.SaltSize : cryptox.SaltSize+nonceSize]
	ciphertext := blob[cryptox.SaltSize+nonceSize:]

	exportKey := cryptox.DeriveExportKey(passphrase, salt)
	payload, err := cryptox.DecryptValue(exportKey, ciphertext, nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: wrong passphrase or damaged data", common.ErrAccountStringCorrupted)
	}

	var acc models.Account
	if err := json.Unmarshal(payload, &acc); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrAccountStringCorrupted, err)
	}
	key, err := cryptox.ParsePrivateKeyPEM(acc.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrAccountStringCorrupted, err)
	}

	if err := s.accounts.Save(ctx, &acc); err != nil {
		return nil, err
	}

	s.cached = &acc
	s.cachedKey = key
	s.attachIdentity(acc.Username, key)
	s.log.Info(ctx, "account imported", "username", acc.Username)
	return &acc, nil
}

func (s *accountService) UnwrapContentKey(ctx context.Context, meta *models.FileMetadata) ([]byte, error) {
	s.mu.Lock()
	acc, err := s.loadLocked(ctx)
	key := s.cachedKey
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// Ascend the parent chain until a record carries a user-access wrap for
	// this account. The walk is depth-bounded and cycle-checked so it
	// terminates even on a corrupted tree.
	chain := make([]*models.FileMetadata, 0, 8)
	visited := make(map[string]struct{})
	cur := meta
	for {
		if len(chain) >= maxKeyChainDepth {
			return nil, fmt.Errorf("%w: chain deeper than %d", common.ErrKeyChainBroken, maxKeyChainDepth)
		}
		if _, seen := visited[cur.ID]; seen {
			return nil, fmt.Errorf("%w: cycle at %s", common.ErrKeyChainBroken, cur.ID)
		}
		visited[cur.ID] = struct{}{}
		chain = append(chain, cur)

		if _, ok := cur.UserAccessKeys[acc.Username]; ok {
			break
		}
		if cur.IsRoot() {
			return nil, fmt.Errorf("%w: no access for %s", common.ErrKeyChainBroken, acc.Username)
		}
		parent, err := s.files.Get(ctx, cur.ParentID)
		if err != nil {
			return nil, fmt.Errorf("%w: missing link %s", common.ErrKeyChainBroken, cur.ParentID)
		}
		cur = parent
	}

	// The top of the chain is reachable with the private key; every link
	// below it is wrapped under its parent's content key.
	top := chain[len(chain)-1]
	wrap := top.UserAccessKeys[acc.Username]
	contentKey, err := cryptox.DecryptWithPrivateKey(key, wrap.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrKeyChainBroken, err)
	}

	for i := len(chain) - 2; i >= 0; i-- {
		link := chain[i]
		if link.FolderAccessKey == nil {
			return nil, fmt.Errorf("%w: %s has no folder access key", common.ErrKeyChainBroken, link.ID)
		}
		contentKey, err = cryptox.DecryptValue(contentKey,
			link.FolderAccessKey.Ciphertext, link.FolderAccessKey.Nonce)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrKeyChainBroken, err)
		}
	}
	return contentKey, nil
}

func (s *accountService) WrapForFolder(ctx context.Context, contentKey []byte, folderID string) (*models.WrappedKey, error) {
	folder, err := s.files.Get(ctx, folderID)
	if err != nil {
		return nil, common.ErrTargetParentDoesNotExist
	}
	if folder.Type != models.FileTypeFolder {
		return nil, common.ErrDocumentTreatedAsFolder
	}

	folderKey, err := s.UnwrapContentKey(ctx, folder)
	if err != nil {
		return nil, err
	}
	ciphertext, nonce, err := cryptox.EncryptValue(folderKey, contentKey)
	if err != nil {
		return nil, err
	}
	return &models.WrappedKey{Ciphertext: ciphertext, Nonce: nonce}, nil
}

func (s *accountService) SignMetadata(ctx context.Context, meta *models.FileMetadata) error {
	s.mu.Lock()
	_, err := s.loadLocked(ctx)
	key := s.cachedKey
	s.mu.Unlock()
	if err != nil {
		return err
	}

	sig, err := cryptox.Sign(key, metadataSignaturePayload(meta))
	if err != nil {
		return err
	}
	meta.Signature = sig
	return nil
}

func (s *accountService) VerifyMetadata(ctx context.Context, meta *models.FileMetadata) error {
	s.mu.Lock()
	_, err := s.loadLocked(ctx)
	key := s.cachedKey
	s.mu.Unlock()
	if err != nil {
		return err
	}

	return cryptox.Verify(&key.PublicKey, metadataSignaturePayload(meta), meta.Signature)
}

// The payload covers the shape of the record, not its version counters:
// versions are reassigned by the server and would invalidate the signature
// on every push.
func metadataSignaturePayload(meta *models.FileMetadata) []byte {
	return fmt.Appendf(nil, "%s|%s|%s|%s|%t", meta.ID, meta.Type, meta.ParentID, meta.Name, meta.Deleted)
}
