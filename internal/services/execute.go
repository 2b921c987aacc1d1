package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vaultsync/vaultsync/internal/client"
	"github.com/vaultsync/vaultsync/internal/common"
	"github.com/vaultsync/vaultsync/internal/cryptox"
	"github.com/vaultsync/vaultsync/internal/dbx"
	"github.com/vaultsync/vaultsync/internal/logging"
	"github.com/vaultsync/vaultsync/internal/models"
	"github.com/vaultsync/vaultsync/internal/repositories/files"
)

// workExecutor applies work units one at a time. Each unit's local commit is
// a single transaction; a connectivity failure aborts the remaining queue
// while a semantic rejection only skips its unit.
type workExecutor struct {
	db       *sql.DB
	files    files.Repository
	accounts AccountService
	client   client.Client
	log      logging.Logger
}

func newWorkExecutor(db *sql.DB, fileRepo files.Repository, accounts AccountService,
	cl client.Client, log logging.Logger) *workExecutor {
	return &workExecutor{db: db, files: fileRepo, accounts: accounts, client: cl, log: log}
}

// Execute runs the queue sequentially. The returned report is valid even on
// error: applied units stay committed, NotRun counts the aborted remainder.
func (e *workExecutor) Execute(ctx context.Context, work *models.WorkCalculated) (*models.SyncReport, error) {
	report := &models.SyncReport{ServerTime: work.MostRecentUpdateFromServer}

	for i, unit := range work.Units {
		if err := ctx.Err(); err != nil {
			report.NotRun = len(work.Units) - i
			return report, err
		}

		err := e.executeUnit(ctx, unit)
		if err == nil {
			report.Applied = append(report.Applied, unit.Meta.ID)
			continue
		}

		report.Failed = append(report.Failed, models.UnitFailure{
			ID:   unit.Meta.ID,
			Kind: unit.Kind,
			Err:  err.Error(),
		})

		if errors.Is(err, client.ErrUnavailable) {
			report.NotRun = len(work.Units) - i - 1
			return report, fmt.Errorf("%w: %v", common.ErrCouldNotReachServer, err)
		}
		var unexpected *common.UnexpectedError
		if errors.As(err, &unexpected) {
			report.NotRun = len(work.Units) - i - 1
			return report, err
		}

		// Semantic rejection (stale version, name collision): skip the unit,
		// the next calculation re-derives it from fresh state.
		e.log.Warn(ctx, "work unit skipped", "id", unit.Meta.ID, "kind", string(unit.Kind), "error", err)
	}
	return report, nil
}

func (e *workExecutor) executeUnit(ctx context.Context, unit models.WorkUnit) error {
	switch unit.Kind {
	case models.PushLocalChange:
		return e.push(ctx, unit)
	case models.PullRemoteChange:
		return e.pull(ctx, unit)
	default:
		return common.Unexpectedf("unknown work unit kind %q", unit.Kind)
	}
}

func (e *workExecutor) push(ctx context.Context, unit models.WorkUnit) error {
	var meta *models.FileMetadata
	if unit.DuplicateOf != "" {
		materialized, err := e.materializeDuplicate(ctx, unit)
		if err != nil {
			return err
		}
		meta = materialized
	} else {
		// Re-read the row: the queue may be stale relative to commits made
		// by earlier units.
		fresh, err := e.files.Get(ctx, unit.Meta.ID)
		if err != nil {
			return common.Unexpectedf("push %s: %v", unit.Meta.ID, err)
		}
		meta = fresh
	}

	if err := e.accounts.SignMetadata(ctx, meta); err != nil {
		return err
	}

	res, err := e.client.PushMetadata(ctx, *meta, meta.SyncedMetadataVersion)
	if err != nil {
		return err
	}

	newContentVersion := res.NewContentVersion
	if meta.Type == models.FileTypeDocument && meta.ContentPending() && !meta.Deleted {
		content, err := e.files.GetContent(ctx, meta.ID)
		if err != nil {
			return common.Unexpectedf("push %s: no local content: %v", meta.ID, err)
		}
		newContentVersion, err = e.client.PushContent(ctx, meta.ID, *content, meta.SyncedContentVersion)
		if err != nil {
			return err
		}
	}

	// The stamp only lands while the row still carries the versions this
	// unit pushed. An edit made during the network round trip bumps the
	// current versions, the guard misses, and the row stays pending for the
	// next calculation.
	stamped, err := e.files.StampVersions(ctx, meta.ID,
		res.NewMetadataVersion, newContentVersion, meta.MetadataVersion, meta.ContentVersion)
	if err != nil {
		return err
	}
	if !stamped {
		e.log.Warn(ctx, "row changed while its push was in flight, left pending",
			"id", meta.ID)
	}
	return nil
}

// materializeDuplicate creates the sibling copy that preserves a losing
// conflict edit: same plaintext, fresh content key wrapped for the parent.
func (e *workExecutor) materializeDuplicate(ctx context.Context, unit models.WorkUnit) (*models.FileMetadata, error) {
	existing, err := e.files.Get(ctx, unit.Meta.ID)
	if err == nil {
		// Already materialized by an earlier, partially failed pass.
		return existing, nil
	}
	if !errors.Is(err, common.ErrFileDoesNotExist) {
		return nil, err
	}

	src, err := e.files.Get(ctx, unit.DuplicateOf)
	if err != nil {
		return nil, common.Unexpectedf("duplicate source %s missing: %v", unit.DuplicateOf, err)
	}
	srcKey, err := e.accounts.UnwrapContentKey(ctx, src)
	if err != nil {
		return nil, err
	}
	content, err := e.files.GetContent(ctx, src.ID)
	if err != nil {
		return nil, common.Unexpectedf("duplicate source %s has no content: %v", src.ID, err)
	}
	plaintext, err := cryptox.DecryptValue(srcKey, content.Ciphertext, content.Nonce)
	if err != nil {
		return nil, err
	}

	newKey, err := cryptox.GenerateContentKey()
	if err != nil {
		return nil, err
	}
	folderKey, err := e.accounts.WrapForFolder(ctx, newKey, unit.Meta.ParentID)
	if err != nil {
		return nil, err
	}
	ciphertext, nonce, err := cryptox.EncryptValue(newKey, plaintext)
	if err != nil {
		return nil, err
	}

	dup := unit.Meta
	dup.FolderAccessKey = folderKey
	err = dbx.WithTx(ctx, e.db, func(ctx context.Context, tx dbx.DBTX) error {
		repo := files.NewSQLiteRepository(tx)
		if err := repo.Upsert(ctx, &dup); err != nil {
			return err
		}
		return repo.SetContent(ctx, dup.ID, models.EncryptedContent{Ciphertext: ciphertext, Nonce: nonce})
	})
	if err != nil {
		return nil, err
	}

	e.log.Info(ctx, "conflict edit preserved as duplicate", "source", src.ID, "duplicate", dup.ID)
	return &dup, nil
}

func (e *workExecutor) pull(ctx context.Context, unit models.WorkUnit) error {
	meta := unit.Meta

	// The calculator orders parents first, so a missing parent here means
	// the ordering guarantee was violated.
	if !meta.IsRoot() {
		if _, err := e.files.Get(ctx, meta.ParentID); err != nil {
			return common.Unexpectedf("pull %s: parent %s not materialized", meta.ID, meta.ParentID)
		}
	}

	acc, err := e.accounts.GetAccount(ctx)
	if err != nil {
		return err
	}
	if meta.Owner == acc.Username && len(meta.Signature) > 0 {
		if err := e.accounts.VerifyMetadata(ctx, &meta); err != nil {
			e.log.Warn(ctx, "pulled record has an invalid signature", "id", meta.ID, "error", err)
		}
	}

	var needContent bool
	if meta.Type == models.FileTypeDocument && !meta.Deleted {
		local, err := e.files.Get(ctx, meta.ID)
		switch {
		case errors.Is(err, common.ErrFileDoesNotExist):
			needContent = true
		case err != nil:
			return err
		default:
			needContent = meta.ContentVersion > local.SyncedContentVersion
		}
	}

	var content *models.EncryptedContent
	if needContent {
		fetched, err := e.client.FetchContent(ctx, meta.ID)
		if err != nil {
			return err
		}
		content = &fetched
	}

	// The server copy is the confirmed state: current and baseline versions
	// coincide after a pull.
	meta.SyncedMetadataVersion = meta.MetadataVersion
	meta.SyncedContentVersion = meta.ContentVersion

	return dbx.WithTx(ctx, e.db, func(ctx context.Context, tx dbx.DBTX) error {
		repo := files.NewSQLiteRepository(tx)
		if err := repo.Upsert(ctx, &meta); err != nil {
			return err
		}
		if content != nil {
			return repo.SetContent(ctx, meta.ID, *content)
		}
		return nil
	})
}
