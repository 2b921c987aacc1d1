package services

import (
	"context"
	"crypto/rsa"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vaultsync/vaultsync/internal/client"
	"github.com/vaultsync/vaultsync/internal/cryptox"
	"github.com/vaultsync/vaultsync/internal/logging"
	"github.com/vaultsync/vaultsync/internal/models"
	"github.com/vaultsync/vaultsync/internal/repositories"
	"github.com/vaultsync/vaultsync/internal/repositories/account"
	"github.com/vaultsync/vaultsync/internal/repositories/files"
	"github.com/vaultsync/vaultsync/internal/repositories/syncmeta"

	_ "modernc.org/sqlite"
)

// fakeClient is a scriptable in-memory server replica. The zero value
// accepts every call; individual hooks override single operations.
type fakeClient struct {
	mu sync.Mutex

	username   string
	signingKey *rsa.PrivateKey

	registerErr error
	remote      []models.FileMetadata
	serverTime  int64
	content     map[string]models.EncryptedContent

	pushMetadataFn func(meta models.FileMetadata, oldVersion int64) (client.PushResult, error)
	pushContentFn  func(id string, content models.EncryptedContent, oldVersion int64) (int64, error)
	fetchContentFn func(id string) (models.EncryptedContent, error)

	pushedMetadata []models.FileMetadata
	pushedContent  []string
}

func (f *fakeClient) SetIdentity(username string, key *rsa.PrivateKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.username = username
	f.signingKey = key
}

func (f *fakeClient) Register(ctx context.Context, username string, publicKeyPEM []byte) error {
	return f.registerErr
}

func (f *fakeClient) FetchMetadataSince(ctx context.Context, cursor int64) ([]models.FileMetadata, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote, f.serverTime, nil
}

func (f *fakeClient) PushMetadata(ctx context.Context, meta models.FileMetadata, oldVersion int64) (client.PushResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushMetadataFn != nil {
		return f.pushMetadataFn(meta, oldVersion)
	}
	f.pushedMetadata = append(f.pushedMetadata, meta)
	return client.PushResult{
		NewMetadataVersion: meta.MetadataVersion,
		NewContentVersion:  meta.ContentVersion,
	}, nil
}

func (f *fakeClient) FetchContent(ctx context.Context, id string) (models.EncryptedContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchContentFn != nil {
		return f.fetchContentFn(id)
	}
	if c, ok := f.content[id]; ok {
		return c, nil
	}
	return models.EncryptedContent{}, client.ErrNotFound
}

func (f *fakeClient) PushContent(ctx context.Context, id string, content models.EncryptedContent, oldVersion int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushContentFn != nil {
		return f.pushContentFn(id, content, oldVersion)
	}
	f.pushedContent = append(f.pushedContent, id)
	return oldVersion + 1, nil
}

func (f *fakeClient) Close() error { return nil }

type testEnv struct {
	db       *sql.DB
	files    files.Repository
	meta     syncmeta.Repository
	accounts AccountService
	tree     TreeService
	sync     SyncService
	client   *fakeClient
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, repositories.RunMigrations(context.Background(), db))

	fc := &fakeClient{content: make(map[string]models.EncryptedContent)}
	fileRepo := files.NewSQLiteRepository(db)
	metaRepo := syncmeta.NewSQLiteRepository(db)
	log := testLogger()

	accounts := NewAccountService(db, account.NewSQLiteRepository(db), fileRepo, fc, "http://test", log)
	tree := NewTreeService(fileRepo, accounts, log)
	syncSvc := NewSyncService(db, fileRepo, metaRepo, accounts, fc, log)

	return &testEnv{
		db:       db,
		files:    fileRepo,
		meta:     metaRepo,
		accounts: accounts,
		tree:     tree,
		sync:     syncSvc,
		client:   fc,
	}
}

// encryptForTest seals plaintext the way the core does, for building remote
// records in tests.
func encryptForTest(key, plaintext []byte) (ciphertext, nonce []byte, err error) {
	return cryptox.EncryptValue(key, plaintext)
}

// newSyncedEnv creates an env with an account whose root folder is already
// server-confirmed, the usual starting point for tree and sync tests.
func newSyncedEnv(t *testing.T) (*testEnv, *models.FileMetadata) {
	t.Helper()
	env := newTestEnv(t)
	ctx := context.Background()

	acc, err := env.accounts.CreateAccount(ctx, "alice")
	require.NoError(t, err)

	stamped, err := env.files.StampVersions(ctx, acc.RootID, 1, 1, 1, 1)
	require.NoError(t, err)
	require.True(t, stamped)
	root, err := env.files.Get(ctx, acc.RootID)
	require.NoError(t, err)
	return env, root
}
