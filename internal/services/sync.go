package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/vaultsync/vaultsync/internal/client"
	"github.com/vaultsync/vaultsync/internal/common"
	"github.com/vaultsync/vaultsync/internal/logging"
	"github.com/vaultsync/vaultsync/internal/models"
	"github.com/vaultsync/vaultsync/internal/repositories/files"
	"github.com/vaultsync/vaultsync/internal/repositories/syncmeta"
)

// SyncService drives sync passes. A mutex serializes passes per account so
// two callers never race on the same snapshot or double-resolve a conflict.
type SyncService interface {
	// CalculateWork diffs local state against the server and returns the
	// ordered work units without executing anything.
	CalculateWork(ctx context.Context) (*models.WorkCalculated, error)

	// ExecuteWork runs one full pass: calculate, execute, and on a clean
	// pass prune confirmed tombstones and advance the server cursor.
	ExecuteWork(ctx context.Context) (*models.SyncReport, error)

	// PendingCount reports how many records carry unconfirmed local changes.
	PendingCount(ctx context.Context) (int, error)
}

type syncService struct {
	db       *sql.DB
	files    files.Repository
	meta     syncmeta.Repository
	accounts AccountService
	client   client.Client
	calc     *WorkCalculator
	exec     *workExecutor
	log      logging.Logger

	mu sync.Mutex
}

func NewSyncService(db *sql.DB, fileRepo files.Repository, metaRepo syncmeta.Repository,
	accounts AccountService, cl client.Client, log logging.Logger) SyncService {
	return &syncService{
		db:       db,
		files:    fileRepo,
		meta:     metaRepo,
		accounts: accounts,
		client:   cl,
		calc:     NewWorkCalculator(),
		exec:     newWorkExecutor(db, fileRepo, accounts, cl, log),
		log:      log,
	}
}

func (s *syncService) CalculateWork(ctx context.Context) (*models.WorkCalculated, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calculateLocked(ctx)
}

func (s *syncService) calculateLocked(ctx context.Context) (*models.WorkCalculated, error) {
	if _, err := s.accounts.GetAccount(ctx); err != nil {
		return nil, err
	}

	cursor, err := s.meta.Cursor(ctx)
	if err != nil {
		return nil, err
	}
	remote, serverTime, err := s.client.FetchMetadataSince(ctx, cursor)
	if err != nil {
		if errors.Is(err, client.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", common.ErrCouldNotReachServer, err)
		}
		return nil, err
	}
	local, err := s.files.All(ctx)
	if err != nil {
		return nil, err
	}

	work := s.calc.Calculate(local, remote, serverTime)
	s.log.Debug(ctx, "work calculated",
		"units", len(work.Units), "cursor", cursor, "server_time", serverTime)
	return work, nil
}

func (s *syncService) ExecuteWork(ctx context.Context) (*models.SyncReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	work, err := s.calculateLocked(ctx)
	if err != nil {
		return nil, err
	}

	report, err := s.exec.Execute(ctx, work)
	if err != nil {
		return report, err
	}

	// Advance the cursor only after a pass with no skipped units, so failed
	// work is re-derived against the same server window next time.
	if len(report.Failed) == 0 {
		pruned, err := s.files.PruneConfirmedTombstones(ctx)
		if err != nil {
			return report, err
		}
		report.Pruned = int(pruned)

		if err := s.meta.SetCursor(ctx, work.MostRecentUpdateFromServer); err != nil {
			return report, err
		}
	}

	s.log.Info(ctx, "sync pass finished",
		"applied", len(report.Applied),
		"failed", len(report.Failed),
		"not_run", report.NotRun,
		"pruned", report.Pruned)
	return report, nil
}

func (s *syncService) PendingCount(ctx context.Context) (int, error) {
	return s.files.CountPending(ctx)
}
