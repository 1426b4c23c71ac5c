// Package daemon keeps a device in sync in the background. It turns
// connectivity changes, sign-ins, remote change notifications and a
// periodic timer into sync cycles, and hosts the status API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/cardsync/internal/auth"
	"github.com/conorfennell/cardsync/internal/connectivity"
	cardsync "github.com/conorfennell/cardsync/internal/sync"
)

const shutdownTimeout = 5 * time.Second

// Syncer runs one sync cycle. Overlapping calls must be safe.
type Syncer interface {
	RunFullSync(ctx context.Context) cardsync.Report
}

// Sessions reports the signed-in identity and its changes.
type Sessions interface {
	Current(ctx context.Context) (*auth.Session, error)
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// Options configure a Daemon. Monitor, Handler and Sessions are optional;
// a zero Interval disables the periodic sync.
type Options struct {
	Engine   Syncer
	Sessions Sessions
	Monitor  *connectivity.Monitor
	Interval time.Duration

	Addr    string
	Handler http.Handler

	Logger *slog.Logger
}

// Daemon runs the triggers.
type Daemon struct {
	Options

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// New returns a daemon. A nil logger uses slog.Default().
func New(opts Options) *Daemon {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Daemon{Options: opts}
}

// Run syncs once, then on every trigger, until ctx is done. It returns
// after in-flight cycles finish and the API server has shut down.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	var scheduler *gocron.Scheduler
	if d.Interval > 0 {
		scheduler = gocron.NewScheduler(time.UTC)
		_, err := scheduler.Every(d.Interval).WaitForSchedule().Do(func() {
			d.trigger(ctx, "periodic")
		})
		if err != nil {
			return fmt.Errorf("failed to schedule periodic sync: %w", err)
		}
	}

	d.trigger(ctx, "startup")

	if d.Monitor != nil {
		// Subscribe before dialling so the first connection is not missed.
		online, unsubscribe := d.Monitor.Online().Subscribe()
		g.Go(func() error {
			d.Monitor.Run(ctx)
			return nil
		})
		g.Go(func() error {
			defer unsubscribe()
			d.watchConnectivity(ctx, online)
			return nil
		})
	}

	if d.Sessions != nil {
		changes, err := d.Sessions.Watch(ctx)
		if err != nil {
			d.Logger.Warn("Session changes will not trigger sync", "error", err)
		} else {
			g.Go(func() error {
				d.watchSessions(ctx, changes)
				return nil
			})
		}
	}

	if scheduler != nil {
		scheduler.StartAsync()
		g.Go(func() error {
			<-ctx.Done()
			scheduler.Stop()
			return nil
		})
	}

	if d.Handler != nil && d.Addr != "" {
		g.Go(func() error {
			return d.serve(ctx)
		})
	}

	err := g.Wait()
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.wg.Wait()
	return err
}

// trigger starts a cycle in the background. The engine drops it if a cycle
// is already running.
func (d *Daemon) trigger(ctx context.Context, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || ctx.Err() != nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Logger.Debug("Sync triggered", "reason", reason)
		report := d.Engine.RunFullSync(ctx)
		if report.Skipped != "" {
			d.Logger.Debug("Sync skipped", "reason", reason, "skipped", report.Skipped)
		}
	}()
}

// watchConnectivity syncs on every offline to online transition and on
// remote change notifications.
func (d *Daemon) watchConnectivity(ctx context.Context, online <-chan bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-online:
			if up {
				d.trigger(ctx, "online")
			}
		case <-d.Monitor.Changes():
			d.trigger(ctx, "remote change")
		}
	}
}

// watchSessions syncs when a session appears.
func (d *Daemon) watchSessions(ctx context.Context, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			session, err := d.Sessions.Current(ctx)
			if err != nil {
				d.Logger.Warn("Failed to read changed session", "error", err)
				continue
			}
			if session != nil {
				d.trigger(ctx, "sign-in")
			}
		}
	}
}

func (d *Daemon) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              d.Addr,
		Handler:           d.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		d.Logger.Info("Status API listening", "addr", d.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status API failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down status API: %w", err)
	}
	return nil
}
