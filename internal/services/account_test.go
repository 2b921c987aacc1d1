package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsync/vaultsync/internal/client"
	"github.com/vaultsync/vaultsync/internal/common"
	"github.com/vaultsync/vaultsync/internal/models"
)

func TestCreateAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	acc, err := env.accounts.CreateAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", acc.Username)
	assert.Equal(t, "http://test", acc.ServerURL)
	assert.NotEmpty(t, acc.PrivateKeyPEM)

	// root folder exists, is its own parent and carries the owner wrap
	root, err := env.files.Get(ctx, acc.RootID)
	require.NoError(t, err)
	assert.True(t, root.IsRoot())
	assert.Equal(t, models.FileTypeFolder, root.Type)
	assert.Equal(t, "alice", root.Name)
	assert.Contains(t, root.UserAccessKeys, "alice")

	// client identity was attached
	assert.Equal(t, "alice", env.client.username)
	assert.NotNil(t, env.client.signingKey)
}

func TestCreateAccount_InvalidUsername(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, name := range []string{"", "ab", "Alice", "has space", "dot.ted"} {
		_, err := env.accounts.CreateAccount(ctx, name)
		assert.ErrorIs(t, err, common.ErrInvalidUsername, "username %q", name)
	}
}

func TestCreateAccount_UsernameTaken(t *testing.T) {
	env := newTestEnv(t)
	env.client.registerErr = client.ErrUsernameTaken

	_, err := env.accounts.CreateAccount(context.Background(), "alice")
	assert.ErrorIs(t, err, common.ErrUsernameTaken)

	// nothing written locally on a rejected registration
	_, err = env.accounts.GetAccount(context.Background())
	assert.ErrorIs(t, err, common.ErrNoAccount)
}

func TestCreateAccount_ServerUnreachable(t *testing.T) {
	env := newTestEnv(t)
	env.client.registerErr = client.ErrUnavailable

	_, err := env.accounts.CreateAccount(context.Background(), "alice")
	assert.ErrorIs(t, err, common.ErrCouldNotReachServer)
}

func TestCreateAccount_SecondAccountRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.accounts.CreateAccount(ctx, "alice")
	require.NoError(t, err)

	_, err = env.accounts.CreateAccount(ctx, "bob")
	assert.ErrorIs(t, err, common.ErrAccountAlreadyExists)
}

func TestGetAccount_None(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.accounts.GetAccount(context.Background())
	assert.ErrorIs(t, err, common.ErrNoAccount)
}

func TestExportImportRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	acc, err := env.accounts.CreateAccount(ctx, "alice")
	require.NoError(t, err)

	exported, err := env.accounts.ExportAccount(ctx, []byte("passphrase"))
	require.NoError(t, err)

	// import into a fresh device
	env2 := newTestEnv(t)
	imported, err := env2.accounts.ImportAccount(ctx, exported, []byte("passphrase"))
	require.NoError(t, err)
	assert.Equal(t, acc.Username, imported.Username)
	assert.Equal(t, acc.RootID, imported.RootID)
	assert.Equal(t, acc.PrivateKeyPEM, imported.PrivateKeyPEM)
	assert.Equal(t, "alice", env2.client.username)
}

func TestImportAccount_WrongPassphrase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.accounts.CreateAccount(ctx, "alice")
	require.NoError(t, err)
	exported, err := env.accounts.ExportAccount(ctx, []byte("right"))
	require.NoError(t, err)

	env2 := newTestEnv(t)
	_, err = env2.accounts.ImportAccount(ctx, exported, []byte("wrong"))
	assert.ErrorIs(t, err, common.ErrAccountStringCorrupted)
}

func TestImportAccount_Garbage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.accounts.ImportAccount(ctx, "!!!not base64!!!", []byte("p"))
	assert.ErrorIs(t, err, common.ErrAccountStringCorrupted)

	_, err = env.accounts.ImportAccount(ctx, "dG9vc2hvcnQ=", []byte("p"))
	assert.ErrorIs(t, err, common.ErrAccountStringCorrupted)
}

func TestUnwrapContentKey_ThroughFolderChain(t *testing.T) {
	env, root := newSyncedEnv(t)
	ctx := context.Background()

	work, err := env.tree.CreateFile(ctx, root.ID, "work", models.FileTypeFolder)
	require.NoError(t, err)
	deep, err := env.tree.CreateFile(ctx, work.ID, "deep", models.FileTypeFolder)
	require.NoError(t, err)
	doc, err := env.tree.CreateFile(ctx, deep.ID, "notes.md", models.FileTypeDocument)
	require.NoError(t, err)

	key, err := env.accounts.UnwrapContentKey(ctx, doc)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	// the same walk from a re-read record yields the same key
	again, err := env.files.Get(ctx, doc.ID)
	require.NoError(t, err)
	key2, err := env.accounts.UnwrapContentKey(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, key, key2)
}

func TestUnwrapContentKey_BrokenChain(t *testing.T) {
	env, _ := newSyncedEnv(t)
	ctx := context.Background()

	orphan := &models.FileMetadata{
		ID:              "orphan",
		Type:            models.FileTypeDocument,
		ParentID:        "missing-parent",
		Name:            "x.md",
		Owner:           "alice",
		MetadataVersion: 1,
		ContentVersion:  1,
	}
	require.NoError(t, env.files.Upsert(ctx, orphan))

	_, err := env.accounts.UnwrapContentKey(ctx, orphan)
	assert.ErrorIs(t, err, common.ErrKeyChainBroken)
}

func TestUnwrapContentKey_CycleDetected(t *testing.T) {
	env, _ := newSyncedEnv(t)
	ctx := context.Background()

	a := &models.FileMetadata{ID: "a", Type: models.FileTypeFolder, ParentID: "b",
		Name: "a", Owner: "alice", MetadataVersion: 1, ContentVersion: 1}
	b := &models.FileMetadata{ID: "b", Type: models.FileTypeFolder, ParentID: "a",
		Name: "b", Owner: "alice", MetadataVersion: 1, ContentVersion: 1}
	require.NoError(t, env.files.Upsert(ctx, a))
	require.NoError(t, env.files.Upsert(ctx, b))

	_, err := env.accounts.UnwrapContentKey(ctx, a)
	assert.ErrorIs(t, err, common.ErrKeyChainBroken)
}

func TestSignVerifyMetadata(t *testing.T) {
	env, root := newSyncedEnv(t)
	ctx := context.Background()

	meta, err := env.tree.CreateFile(ctx, root.ID, "notes.md", models.FileTypeDocument)
	require.NoError(t, err)

	require.NoError(t, env.accounts.SignMetadata(ctx, meta))
	require.NotEmpty(t, meta.Signature)
	require.NoError(t, env.accounts.VerifyMetadata(ctx, meta))

	// server-side version reassignment must not invalidate the signature
	meta.MetadataVersion = 42
	meta.ContentVersion = 17
	require.NoError(t, env.accounts.VerifyMetadata(ctx, meta))

	// a renamed record needs a fresh signature
	meta.Name = "other.md"
	assert.Error(t, env.accounts.VerifyMetadata(ctx, meta))
}
