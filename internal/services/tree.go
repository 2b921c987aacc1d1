package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vaultsync/vaultsync/internal/common"
	"github.com/vaultsync/vaultsync/internal/cryptox"
	"github.com/vaultsync/vaultsync/internal/logging"
	"github.com/vaultsync/vaultsync/internal/models"
	"github.com/vaultsync/vaultsync/internal/repositories/files"
)

// maxTreeDepth bounds ancestor walks, mirroring the key-chain bound.
const maxTreeDepth = 256

// TreeService is the invariant-enforcing face of the Tree Store: every
// mutation checks acyclicity, sibling-name uniqueness, the folder/document
// distinction and root existence before touching storage. Reads may run
// concurrently; mutations are exclusive.
type TreeService interface {
	Root(ctx context.Context) (*models.FileMetadata, error)
	Get(ctx context.Context, id string) (*models.FileMetadata, error)
	Children(ctx context.Context, id string) ([]models.FileMetadata, error)

	// PathToFile resolves a slash-separated path from the root.
	PathToFile(ctx context.Context, path string) (*models.FileMetadata, error)

	CreateFile(ctx context.Context, parentID, name string, fileType models.FileType) (*models.FileMetadata, error)
	RenameFile(ctx context.Context, id, newName string) error
	MoveFile(ctx context.Context, id, newParentID string) error
	DeleteFile(ctx context.Context, id string) error

	ReadDocument(ctx context.Context, id string) ([]byte, error)
	WriteDocument(ctx context.Context, id string, data []byte) error
}

type treeService struct {
	files    files.Repository
	accounts AccountService
	log      logging.Logger
	mu       sync.RWMutex
}

func NewTreeService(fileRepo files.Repository, accounts AccountService, log logging.Logger) TreeService {
	return &treeService{files: fileRepo, accounts: accounts, log: log}
}

func (s *treeService) Root(ctx context.Context) (*models.FileMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rootLocked(ctx)
}

func (s *treeService) rootLocked(ctx context.Context) (*models.FileMetadata, error) {
	acc, err := s.accounts.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	root, err := s.files.Get(ctx, acc.RootID)
	if err != nil {
		if errors.Is(err, common.ErrFileDoesNotExist) {
			return nil, common.ErrNoRoot
		}
		return nil, err
	}
	return root, nil
}

func (s *treeService) Get(ctx context.Context, id string) (*models.FileMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := s.files.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if meta.Deleted {
		return nil, common.ErrFileDoesNotExist
	}
	return meta, nil
}

func (s *treeService) Children(ctx context.Context, id string) ([]models.FileMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := s.files.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if meta.Type != models.FileTypeFolder {
		return nil, common.ErrDocumentTreatedAsFolder
	}
	return s.files.Children(ctx, id)
}

func (s *treeService) PathToFile(ctx context.Context, path string) (*models.FileMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, err := s.rootLocked(ctx)
	if err != nil {
		return nil, err
	}
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		if cur.Type != models.FileTypeFolder {
			return nil, common.ErrDocumentTreatedAsFolder
		}
		cur, err = s.files.ChildByName(ctx, cur.ID, part)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

func (s *treeService) CreateFile(ctx context.Context, parentID, name string, fileType models.FileType) (*models.FileMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateName(name, common.ErrFileNameContainsSlash); err != nil {
		return nil, err
	}

	parent, err := s.files.Get(ctx, parentID)
	if err != nil || parent.Deleted {
		return nil, common.ErrTargetParentDoesNotExist
	}
	if parent.Type != models.FileTypeFolder {
		return nil, common.ErrDocumentTreatedAsFolder
	}
	if err := s.nameAvailable(ctx, parentID, name, ""); err != nil {
		return nil, err
	}

	acc, err := s.accounts.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	contentKey, err := cryptox.GenerateContentKey()
	if err != nil {
		return nil, err
	}
	folderKey, err := s.accounts.WrapForFolder(ctx, contentKey, parentID)
	if err != nil {
		return nil, err
	}

	meta := &models.FileMetadata{
		ID:              uuid.NewString(),
		Type:            fileType,
		ParentID:        parentID,
		Name:            name,
		Owner:           acc.Username,
		MetadataVersion: 1,
		ContentVersion:  1,
		FolderAccessKey: folderKey,
	}
	if err := s.files.Upsert(ctx, meta); err != nil {
		return nil, err
	}

	// Documents start with sealed empty content so a read before the first
	// write round-trips.
	if fileType == models.FileTypeDocument {
		ciphertext, nonce, err := cryptox.EncryptValue(contentKey, []byte{})
		if err != nil {
			return nil, err
		}
		content := models.EncryptedContent{Ciphertext: ciphertext, Nonce: nonce}
		if err := s.files.SetContent(ctx, meta.ID, content); err != nil {
			return nil, err
		}
	}

	s.log.Debug(ctx, "file created", "id", meta.ID, "name", name, "type", string(fileType))
	return meta, nil
}

func (s *treeService) RenameFile(ctx context.Context, id, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateName(newName, common.ErrNewNameContainsSlash); err != nil {
		return err
	}

	meta, err := s.files.Get(ctx, id)
	if err != nil {
		return err
	}
	if meta.Deleted {
		return common.ErrFileDoesNotExist
	}
	if meta.IsRoot() {
		return common.ErrCannotOperateOnRoot
	}
	if err := s.nameAvailable(ctx, meta.ParentID, newName, id); err != nil {
		return err
	}

	meta.Name = newName
	meta.MetadataVersion++
	return s.files.Upsert(ctx, meta)
}

func (s *treeService) MoveFile(ctx context.Context, id, newParentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.files.Get(ctx, id)
	if err != nil {
		return err
	}
	if meta.Deleted {
		return common.ErrFileDoesNotExist
	}
	if meta.IsRoot() {
		return common.ErrCannotOperateOnRoot
	}

	target, err := s.files.Get(ctx, newParentID)
	if err != nil || target.Deleted {
		return common.ErrTargetParentDoesNotExist
	}
	if target.Type != models.FileTypeFolder {
		return common.ErrDocumentTreatedAsFolder
	}
	if err := s.checkNoCycle(ctx, id, target); err != nil {
		return err
	}
	if err := s.nameAvailableErr(ctx, newParentID, meta.Name, id, common.ErrTargetParentHasChildNamedThat); err != nil {
		return err
	}

	// The key chain is derived from tree position: moving re-wraps this
	// file's key under the destination folder, and only this file's.
	contentKey, err := s.accounts.UnwrapContentKey(ctx, meta)
	if err != nil {
		return err
	}
	folderKey, err := s.accounts.WrapForFolder(ctx, contentKey, newParentID)
	if err != nil {
		return err
	}

	meta.ParentID = newParentID
	meta.FolderAccessKey = folderKey
	meta.MetadataVersion++
	return s.files.Upsert(ctx, meta)
}

// checkNoCycle rejects moving a folder under its own subtree by walking up
// from the target to the root.
func (s *treeService) checkNoCycle(ctx context.Context, id string, target *models.FileMetadata) error {
	cur := target
	for depth := 0; depth < maxTreeDepth; depth++ {
		if cur.ID == id {
			return common.ErrCyclicMove
		}
		if cur.IsRoot() {
			return nil
		}
		parent, err := s.files.Get(ctx, cur.ParentID)
		if err != nil {
			return fmt.Errorf("%w: %s", common.ErrCouldNotFindAParent, cur.ParentID)
		}
		cur = parent
	}
	return common.Unexpectedf("ancestor chain of %s deeper than %d", target.ID, maxTreeDepth)
}

func (s *treeService) DeleteFile(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.files.Get(ctx, id)
	if err != nil {
		return err
	}
	if meta.Deleted {
		return common.ErrFileDoesNotExist
	}
	if meta.IsRoot() {
		return common.ErrCannotOperateOnRoot
	}
	return s.files.Tombstone(ctx, id)
}

func (s *treeService) ReadDocument(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, err := s.files.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if meta.Deleted {
		return nil, common.ErrFileDoesNotExist
	}
	if meta.Type != models.FileTypeDocument {
		return nil, common.ErrFolderTreatedAsDocument
	}

	contentKey, err := s.accounts.UnwrapContentKey(ctx, meta)
	if err != nil {
		return nil, err
	}
	content, err := s.files.GetContent(ctx, id)
	if err != nil {
		return nil, err
	}
	return cryptox.DecryptValue(contentKey, content.Ciphertext, content.Nonce)
}

func (s *treeService) WriteDocument(ctx context.Context, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.files.Get(ctx, id)
	if err != nil {
		return err
	}
	if meta.Deleted {
		return common.ErrFileDoesNotExist
	}
	if meta.Type != models.FileTypeDocument {
		return common.ErrFolderTreatedAsDocument
	}

	contentKey, err := s.accounts.UnwrapContentKey(ctx, meta)
	if err != nil {
		return err
	}
	ciphertext, nonce, err := cryptox.EncryptValue(contentKey, data)
	if err != nil {
		return err
	}

	content := models.EncryptedContent{Ciphertext: ciphertext, Nonce: nonce}
	if err := s.files.SetContent(ctx, id, content); err != nil {
		return err
	}
	meta.ContentVersion++
	return s.files.Upsert(ctx, meta)
}

func (s *treeService) nameAvailable(ctx context.Context, parentID, name, excludeID string) error {
	return s.nameAvailableErr(ctx, parentID, name, excludeID, common.ErrFileNameNotAvailable)
}

func (s *treeService) nameAvailableErr(ctx context.Context, parentID, name, excludeID string, conflictErr error) error {
	existing, err := s.files.ChildByName(ctx, parentID, name)
	if err != nil {
		if errors.Is(err, common.ErrFileDoesNotExist) {
			return nil
		}
		return err
	}
	if existing.ID == excludeID {
		return nil
	}
	return conflictErr
}

func validateName(name string, slashErr error) error {
	if name == "" {
		return common.ErrFileNameEmpty
	}
	if strings.Contains(name, "/") {
		return slashErr
	}
	return nil
}
