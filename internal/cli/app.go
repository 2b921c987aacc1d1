// Package cli implements the interactive shell over the sync core.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"

	"github.com/vaultsync/vaultsync/internal/client"
	"github.com/vaultsync/vaultsync/internal/config"
	"github.com/vaultsync/vaultsync/internal/logging"
	"github.com/vaultsync/vaultsync/internal/repositories"
	"github.com/vaultsync/vaultsync/internal/repositories/account"
	"github.com/vaultsync/vaultsync/internal/repositories/files"
	"github.com/vaultsync/vaultsync/internal/repositories/syncmeta"
	"github.com/vaultsync/vaultsync/internal/services"
)

// App ties the services to an interactive read-eval loop.
type App struct {
	cfg      *config.Config
	log      logging.Logger
	accounts services.AccountService
	tree     services.TreeService
	sync     services.SyncService
	apiCl    client.Client

	reader *bufio.Reader
	out    io.Writer
}

func NewApp(cfg *config.Config) (*App, error) {
	ctx := context.Background()

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := logging.NewSlogLogger(slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	db, err := repositories.InitDatabase(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initializing local store: %w", err)
	}

	apiClient := client.NewHTTPClient(cfg.ServerURL)
	fileRepo := files.NewSQLiteRepository(db)
	accountRepo := account.NewSQLiteRepository(db)
	metaRepo := syncmeta.NewSQLiteRepository(db)

	accounts := services.NewAccountService(db, accountRepo, fileRepo, apiClient, cfg.ServerURL, log)
	tree := services.NewTreeService(fileRepo, accounts, log)
	syncSvc := services.NewSyncService(db, fileRepo, metaRepo, accounts, apiClient, log)

	return &App{
		cfg:      cfg,
		log:      log,
		accounts: accounts,
		tree:     tree,
		sync:     syncSvc,
		apiCl:    apiClient,
		reader:   bufio.NewReader(os.Stdin),
		out:      os.Stdout,
	}, nil
}

func (a *App) Run(ctx context.Context) {
	defer func() { _ = a.apiCl.Close() }()
	a.repl(ctx)
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
