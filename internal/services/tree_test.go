package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsync/vaultsync/internal/common"
	"github.com/vaultsync/vaultsync/internal/models"
)

func TestCreateFile(t *testing.T) {
	env, root := newSyncedEnv(t)
	ctx := context.Background()

	doc, err := env.tree.CreateFile(ctx, root.ID, "notes.md", models.FileTypeDocument)
	require.NoError(t, err)
	assert.Equal(t, root.ID, doc.ParentID)
	assert.Equal(t, "alice", doc.Owner)
	assert.NotNil(t, doc.FolderAccessKey)
	assert.True(t, doc.Pending())

	children, err := env.tree.Children(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, doc.ID, children[0].ID)
}

func TestCreateFile_Validation(t *testing.T) {
	env, root := newSyncedEnv(t)
	ctx := context.Background()

	_, err := env.tree.CreateFile(ctx, root.ID, "", models.FileTypeDocument)
	assert.ErrorIs(t, err, common.ErrFileNameEmpty)

	_, err = env.tree.CreateFile(ctx, root.ID, "a/b", models.FileTypeDocument)
	assert.ErrorIs(t, err, common.ErrFileNameContainsSlash)

	_, err = env.tree.CreateFile(ctx, "no-such-folder", "x.md", models.FileTypeDocument)
	assert.ErrorIs(t, err, common.ErrTargetParentDoesNotExist)
}

func TestCreateFile_SiblingNameTaken(t *testing.T) {
	env, root := newSyncedEnv(t)
	ctx := context.Background()

	_, err := env.tree.CreateFile(ctx, root.ID, "notes.md", models.FileTypeDocument)
	require.NoError(t, err)

	_, err = env.tree.CreateFile(ctx, root.ID, "notes.md", models.FileTypeFolder)
	assert.ErrorIs(t, err, common.ErrFileNameNotAvailable)
}

func TestCreateFile_UnderDocument(t *testing.T) {
	env, root := newSyncedEnv(t)
	ctx := context.Background()

	doc, err := env.tree.CreateFile(ctx, root.ID, "notes.md", models.FileTypeDocument)
	require.NoError(t, err)

	_, err = env.tree.CreateFile(ctx, doc.ID, "child.md", models.FileTypeDocument)
	assert.ErrorIs(t, err, common.ErrDocumentTreatedAsFolder)
}

func TestDocumentRoundTrip(t *testing.T) {
	env, root := newSyncedEnv(t)
	ctx := context.Background()

	doc, err := env.tree.CreateFile(ctx, root.ID, "notes.md", models.FileTypeDocument)
	require.NoError(t, err)

	// a fresh document reads as empty
	data, err := env.tree.ReadDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, env.tree.WriteDocument(ctx, doc.ID, []byte("hello")))
	data, err = env.tree.ReadDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	// the stored bytes are not the plaintext
	stored, err := env.files.GetContent(ctx, doc.ID)
	require.NoError(t, err)
	assert.NotContains(t, string(stored.Ciphertext), "hello")
}

func TestReadDocument_Folder(t *testing.T) {
	env, root := newSyncedEnv(t)
	ctx := context.Background()

	folder, err := env.tree.CreateFile(ctx, root.ID, "work", models.FileTypeFolder)
	require.NoError(t, err)

	_, err = env.tree.ReadDocument(ctx, folder.ID)
	assert.ErrorIs(t, err, common.ErrFolderTreatedAsDocument)
	assert.ErrorIs(t, env.tree.WriteDocument(ctx, folder.ID, []byte("x")), common.ErrFolderTreatedAsDocument)
}

func TestRenameFile(t *testing.T) {
	env, root := newSyncedEnv(t)
	ctx := context.Background()

	doc, err := env.tree.CreateFile(ctx, root.ID, "notes.md", models.FileTypeDocument)
	require.NoError(t, err)
	v := doc.MetadataVersion

	require.NoError(t, env.tree.RenameFile(ctx, doc.ID, "renamed.md"))

	got, err := env.tree.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed.md", got.Name)
	assert.Equal(t, v+1, got.MetadataVersion)
}

func TestRenameFile_Errors(t *testing.T) {
	env, root := newSyncedEnv(t)
	ctx := context.Background()

	doc, err := env.tree.CreateFile(ctx, root.ID, "a.md", models.FileTypeDocument)
	require.NoError(t, err)
	_, err = env.tree.CreateFile(ctx, root.ID, "b.md", models.FileTypeDocument)
	require.NoError(t, err)

	assert.ErrorIs(t, env.tree.RenameFile(ctx, doc.ID, "x/y"), common.ErrNewNameContainsSlash)
	assert.ErrorIs(t, env.tree.RenameFile(ctx, doc.ID, "b.md"), common.ErrFileNameNotAvailable)
	assert.ErrorIs(t, env.tree.RenameFile(ctx, root.ID, "newroot"), common.ErrCannotOperateOnRoot)

	// renaming to its own name is a no-op, not a collision
	assert.NoError(t, env.tree.RenameFile(ctx, doc.ID, "a.md"))
}

func TestMoveFile(t *testing.T) {
	env, root := newSyncedEnv(t)
	ctx := context.Background()

	work, err := env.tree.CreateFile(ctx, root.ID, "work", models.FileTypeFolder)
	require.NoError(t, err)
	doc, err := env.tree.CreateFile(ctx, root.ID, "notes.md", models.FileTypeDocument)
	require.NoError(t, err)
	require.NoError(t, env.tree.WriteDocument(ctx, doc.ID, []byte("payload")))

	oldWrap := doc.FolderAccessKey

	require.NoError(t, env.tree.MoveFile(ctx, doc.ID, work.ID))

	got, err := env.tree.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, work.ID, got.ParentID)

	// the key was re-wrapped for the destination and content still decrypts
	assert.NotEqual(t, oldWrap.Ciphertext, got.FolderAccessKey.Ciphertext)
	data, err := env.tree.ReadDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestMoveFile_CyclicMove(t *testing.T) {
	env, root := newSyncedEnv(t)
	ctx := context.Background()

	a, err := env.tree.CreateFile(ctx, root.ID, "a", models.FileTypeFolder)
	require.NoError(t, err)
	b, err := env.tree.CreateFile(ctx, a.ID, "b", models.FileTypeFolder)
	require.NoError(t, err)
	c, err := env.tree.CreateFile(ctx, b.ID, "c", models.FileTypeFolder)
	require.NoError(t, err)

	assert.ErrorIs(t, env.tree.MoveFile(ctx, a.ID, c.ID), common.ErrCyclicMove)
	assert.ErrorIs(t, env.tree.MoveFile(ctx, a.ID, a.ID), common.ErrCyclicMove)
}

func TestMoveFile_Errors(t *testing.T) {
	env, root := newSyncedEnv(t)
	ctx := context.Background()

	work, err := env.tree.CreateFile(ctx, root.ID, "work", models.FileTypeFolder)
	require.NoError(t, err)
	doc, err := env.tree.CreateFile(ctx, root.ID, "notes.md", models.FileTypeDocument)
	require.NoError(t, err)
	_, err = env.tree.CreateFile(ctx, work.ID, "notes.md", models.FileTypeDocument)
	require.NoError(t, err)

	assert.ErrorIs(t, env.tree.MoveFile(ctx, doc.ID, "nope"), common.ErrTargetParentDoesNotExist)
	assert.ErrorIs(t, env.tree.MoveFile(ctx, doc.ID, work.ID), common.ErrTargetParentHasChildNamedThat)
	assert.ErrorIs(t, env.tree.MoveFile(ctx, root.ID, work.ID), common.ErrCannotOperateOnRoot)
	assert.ErrorIs(t, env.tree.MoveFile(ctx, work.ID, doc.ID), common.ErrDocumentTreatedAsFolder)
}

func TestDeleteFile(t *testing.T) {
	env, root := newSyncedEnv(t)
	ctx := context.Background()

	doc, err := env.tree.CreateFile(ctx, root.ID, "notes.md", models.FileTypeDocument)
	require.NoError(t, err)

	require.NoError(t, env.tree.DeleteFile(ctx, doc.ID))

	_, err = env.tree.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, common.ErrFileDoesNotExist)

	// the tombstone is still visible to the raw store
	raw, err := env.files.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, raw.Deleted)

	assert.ErrorIs(t, env.tree.DeleteFile(ctx, doc.ID), common.ErrFileDoesNotExist)
	assert.ErrorIs(t, env.tree.DeleteFile(ctx, root.ID), common.ErrCannotOperateOnRoot)
}

func TestPathToFile(t *testing.T) {
	env, root := newSyncedEnv(t)
	ctx := context.Background()

	work, err := env.tree.CreateFile(ctx, root.ID, "work", models.FileTypeFolder)
	require.NoError(t, err)
	doc, err := env.tree.CreateFile(ctx, work.ID, "notes.md", models.FileTypeDocument)
	require.NoError(t, err)

	got, err := env.tree.PathToFile(ctx, "/work/notes.md")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)

	got, err = env.tree.PathToFile(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, root.ID, got.ID)

	_, err = env.tree.PathToFile(ctx, "/work/missing.md")
	assert.ErrorIs(t, err, common.ErrFileDoesNotExist)

	_, err = env.tree.PathToFile(ctx, "/work/notes.md/deeper")
	assert.ErrorIs(t, err, common.ErrDocumentTreatedAsFolder)
}

func TestRoot_NoAccount(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.tree.Root(context.Background())
	assert.ErrorIs(t, err, common.ErrNoAccount)
}
