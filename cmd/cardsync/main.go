package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/conorfennell/cardsync/internal/auth"
	"github.com/conorfennell/cardsync/internal/blob"
	"github.com/conorfennell/cardsync/internal/config"
	"github.com/conorfennell/cardsync/internal/domain"
	"github.com/conorfennell/cardsync/internal/logging"
	"github.com/conorfennell/cardsync/internal/remote"
	"github.com/conorfennell/cardsync/internal/remote/memory"
	"github.com/conorfennell/cardsync/internal/remote/postgres"
	"github.com/conorfennell/cardsync/internal/storage"
	cardsync "github.com/conorfennell/cardsync/internal/sync"
	"github.com/conorfennell/cardsync/internal/tracker"
)

var rootCmd = &cobra.Command{
	Use:   "cardsync",
	Short: "Offline-first flashcards with two-way cloud sync",
	Long: `cardsync keeps decks, cards, study statistics and practice results in a
local SQLite database and synchronises them with the remote store whenever
a session and a connection are available.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "content", Title: "Decks and study:"},
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app holds the collaborators shared by the commands. The remote store is
// only opened by commands that talk to it, so everything else works offline.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	logFile  io.Closer
	db       *storage.DB
	sessions *auth.Sessions
	blobs    *blob.FSStore
	tracker  *tracker.Tracker

	remote      remote.Store
	closeRemote func() error
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger, logFile, err := logging.New(os.Stderr, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	if err := cfg.EnsureDirs(); err != nil {
		logFile.Close()
		return nil, err
	}
	db, err := storage.Open(cfg.DB)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	return &app{
		cfg:      cfg,
		logger:   logger,
		logFile:  logFile,
		db:       db,
		sessions: auth.NewSessions(cfg.SessionFile, cfg.JWTSecret, logger),
		blobs:    blob.NewFSStore(afero.NewOsFs(), cfg.Blob.Dir, cfg.Blob.BaseURL),
		tracker:  tracker.New(db, logger),
	}, nil
}

func (a *app) Close() {
	if a.closeRemote != nil {
		if err := a.closeRemote(); err != nil {
			a.logger.Warn("Failed to close remote store", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("Failed to close database", "error", err)
	}
	a.logFile.Close()
}

// openRemote connects to the configured remote store.
func (a *app) openRemote(ctx context.Context) (remote.Store, error) {
	if a.remote != nil {
		return a.remote, nil
	}
	switch a.cfg.Remote.Driver {
	case "memory":
		a.logger.Warn("Using the in-memory remote store; synced data lasts only for this process")
		a.remote = memory.New()
	default:
		pg, err := postgres.Open(ctx, a.cfg.Remote.DSN)
		if err != nil {
			return nil, err
		}
		a.remote, a.closeRemote = pg, pg.Close
	}
	return a.remote, nil
}

func (a *app) engine(ctx context.Context) (*cardsync.Engine, error) {
	rs, err := a.openRemote(ctx)
	if err != nil {
		return nil, err
	}
	return cardsync.New(cardsync.Deps{
		Local:    a.db,
		Remote:   rs,
		Blobs:    a.blobs,
		Sessions: a.sessions,
		Tracker:  a.tracker,
		Logger:   a.logger,
	}, a.cfg.Sync.CardBatchSize), nil
}

// user returns the signed-in user's local row.
func (a *app) user(ctx context.Context) (*domain.User, error) {
	session, err := a.sessions.Require(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: run 'cardsync login' first", err)
	}
	return a.db.EnsureUser(ctx, session.UserID, session.Email)
}

// run opens the app around fn.
func run(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return err
		}
		defer a.Close()
		if err := fn(cmd.Context(), a, args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return err
		}
		return nil
	}
}
