// Package tracker reports whether the local store holds changes that have
// not reached the remote store yet.
package tracker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/conorfennell/cardsync/internal/domain"
)

// Counter counts rows of a table with a pending push obligation.
type Counter interface {
	CountPending(ctx context.Context, table domain.Table) (int, error)
}

// Flag is an observable boolean.
type Flag struct {
	mu    sync.Mutex
	value bool
	subs  map[int]chan bool
	next  int
}

// NewFlag returns a false flag.
func NewFlag() *Flag {
	return &Flag{subs: make(map[int]chan bool)}
}

// Get returns the current value.
func (f *Flag) Get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Set stores v and notifies subscribers if it changed.
func (f *Flag) Set(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.value == v {
		return
	}
	f.value = v
	for _, ch := range f.subs {
		// Subscribers only need the latest value.
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

// Subscribe returns a channel receiving every change of the flag, and a
// function that ends the subscription.
func (f *Flag) Subscribe() (<-chan bool, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	ch := make(chan bool, 1)
	f.subs[id] = ch
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(ch)
		}
	}
}

// Tracker recomputes the pending-changes flag from the local store.
type Tracker struct {
	counter Counter
	flag    *Flag
	logger  *slog.Logger
}

// New returns a tracker publishing to a fresh Flag.
func New(counter Counter, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{counter: counter, flag: NewFlag(), logger: logger}
}

// Flag returns the published flag.
func (t *Tracker) Flag() *Flag {
	return t.flag
}

// HasPendingChanges counts unsynced rows across every table, publishes the
// result and returns it. When a table cannot be counted and the others are
// clean the answer is unknown, so the previously published value stands.
func (t *Tracker) HasPendingChanges(ctx context.Context) bool {
	total, failures := 0, 0
	for _, table := range domain.Tables {
		n, err := t.counter.CountPending(ctx, table)
		if err != nil {
			t.logger.Warn("Failed to count pending changes", "table", table, "error", err)
			failures++
			continue
		}
		total += n
	}
	if total == 0 && failures > 0 {
		return t.flag.Get()
	}
	pending := total > 0
	t.flag.Set(pending)
	return pending
}
