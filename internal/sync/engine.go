// Package sync runs the two-way synchronisation between the local row store
// and the remote row store for the signed-in identity.
//
// A cycle pushes every pending local row (parents before children, card
// images first) and then pulls every remote row newer than the local
// watermark. Per-record failures are logged and leave the record pending
// for the next cycle; nothing is returned to the caller except a Report.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/conorfennell/cardsync/internal/auth"
	"github.com/conorfennell/cardsync/internal/blob"
	"github.com/conorfennell/cardsync/internal/domain"
	"github.com/conorfennell/cardsync/internal/remote"
	"github.com/conorfennell/cardsync/internal/storage"
)

// DefaultCardBatchSize bounds how many cards are pushed concurrently.
const DefaultCardBatchSize = 5

// LocalStore is the part of the local row store the engine works with.
type LocalStore interface {
	Ping(ctx context.Context) error
	EnsureUser(ctx context.Context, cloudID, email string) (*domain.User, error)
	PendingRows(ctx context.Context, table domain.Table, userID int64) ([]storage.Row, error)
	CloudIDOf(ctx context.Context, table domain.Table, id int64) (string, error)
	LocalIDFor(ctx context.Context, table domain.Table, cloudID string) (int64, bool, error)
	CompleteCreate(ctx context.Context, table domain.Table, id int64, cloudID, seenModified, remoteModified string) error
	CompleteUpdate(ctx context.Context, table domain.Table, id int64, seenModified, remoteModified string) (bool, error)
	ReplaceCardImage(ctx context.Context, id int64, column, from string, to *string) error
	CardImagesForDeck(ctx context.Context, deckID int64) ([]string, error)
	HardDelete(ctx context.Context, table domain.Table, id int64) error
	HardDeleteByCloudID(ctx context.Context, table domain.Table, cloudID string) (bool, error)
	Watermark(ctx context.Context, table domain.Table, userID int64) (string, error)
	UpsertPulled(ctx context.Context, table domain.Table, cols storage.Row) (bool, error)
}

// SessionSource resolves the signed-in identity; nil means nobody is.
type SessionSource interface {
	Current(ctx context.Context) (*auth.Session, error)
}

// PendingTracker recomputes the pending-changes flag after every cycle.
type PendingTracker interface {
	HasPendingChanges(ctx context.Context) bool
}

// State is the engine's position in its Idle -> Syncing -> Idle cycle.
type State int

const (
	Idle State = iota
	Syncing
)

func (s State) String() string {
	if s == Syncing {
		return "syncing"
	}
	return "idle"
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Deps are the engine's collaborators. Blobs, Tracker, Files and Logger
// may be nil.
type Deps struct {
	Local    LocalStore
	Remote   remote.Store
	Blobs    blob.Store
	Sessions SessionSource
	Tracker  PendingTracker
	// Files is the device filesystem card images are read from.
	Files  afero.Fs
	Logger *slog.Logger
}

// Engine runs sync cycles. At most one cycle runs at a time; a call made
// while a cycle is in flight returns immediately with a skipped Report.
type Engine struct {
	local     LocalStore
	remote    remote.Store
	blobs     blob.Store
	sessions  SessionSource
	tracker   PendingTracker
	files     afero.Fs
	logger    *slog.Logger
	batchSize int

	mu    sync.Mutex
	state State
	last  *Report
}

// New returns an idle engine. A batchSize below one uses DefaultCardBatchSize.
func New(d Deps, batchSize int) *Engine {
	if batchSize < 1 {
		batchSize = DefaultCardBatchSize
	}
	if d.Files == nil {
		d.Files = afero.NewOsFs()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Engine{
		local:     d.Local,
		remote:    d.Remote,
		blobs:     d.Blobs,
		sessions:  d.Sessions,
		tracker:   d.Tracker,
		files:     d.Files,
		logger:    d.Logger,
		batchSize: batchSize,
	}
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastReport returns the report of the last cycle that ran, nil if none has.
func (e *Engine) LastReport() *Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Syncing {
		return false
	}
	e.state = Syncing
	return true
}

func (e *Engine) end(r *Report) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = Idle
	if r.Skipped == "" {
		e.last = r
	}
}

// RunFullSync runs one cycle: resolve the identity, make sure its local user
// row exists, push, then pull. It never fails; problems are logged and
// described in the returned Report.
func (e *Engine) RunFullSync(ctx context.Context) (report Report) {
	if !e.begin() {
		e.logger.Debug("Sync already in progress, dropping trigger")
		return Report{Skipped: SkipInProgress}
	}
	report = newReport()
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("Sync cycle aborted", "panic", p)
			report.fail("cycle", fmt.Errorf("panic: %v", p))
		}
		report.FinishedAt = time.Now()
		if e.tracker != nil {
			report.Pending = e.tracker.HasPendingChanges(ctx)
		}
		e.end(&report)
	}()

	session, err := e.sessions.Current(ctx)
	if err != nil {
		e.logger.Warn("Failed to resolve session", "error", err)
	}
	if session == nil {
		report.Skipped = SkipNoSession
		return report
	}
	report.UserID = session.UserID

	if err := e.local.Ping(ctx); err != nil {
		e.logger.Error("Local store unreachable, aborting sync", "error", err)
		report.fail("cycle", err)
		return report
	}
	user, err := e.local.EnsureUser(ctx, session.UserID, session.Email)
	if err != nil {
		e.logger.Error("Failed to ensure local user, aborting sync", "user_id", session.UserID, "error", err)
		report.fail("cycle", err)
		return report
	}

	e.logger.Info("Starting sync", "user_id", session.UserID)
	c := cycle{Engine: e, user: user, userCloudID: session.UserID, report: &report}

	// Watermarks are read before pushing: this cycle's own writes carry fresh
	// remote stamps that would otherwise hide older changes from other devices.
	if c.since, err = c.watermarks(ctx); err != nil {
		e.logger.Error("Failed to read watermarks, aborting sync", "error", err)
		report.fail("cycle", err)
		return report
	}

	if err := c.push(ctx); err != nil {
		e.logger.Error("Push phase failed", "error", err)
		report.fail("push", err)
	}
	if err := e.local.Ping(ctx); err != nil {
		e.logger.Error("Local store unreachable, skipping pull", "error", err)
		report.fail("cycle", err)
		return report
	}
	if err := c.pull(ctx); err != nil {
		e.logger.Error("Pull phase failed", "error", err)
		report.fail("pull", err)
	}

	e.logger.Info("Sync complete", report.LogAttrs()...)
	return report
}

// cycle carries the per-run state shared by the push and pull phases.
type cycle struct {
	*Engine
	user        *domain.User
	userCloudID string
	since       map[domain.Table]string
	report      *Report
}
