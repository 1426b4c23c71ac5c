package sync

import (
	"fmt"
	"time"

	"github.com/conorfennell/cardsync/internal/domain"
)

// Reasons a cycle did not run.
const (
	SkipInProgress = "sync already in progress"
	SkipNoSession  = "no active session"
)

// Counts tallies what happened to one table during a cycle.
type Counts struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
	Deferred int `json:"deferred"`
	Failed   int `json:"failed"`

	Pulled   int `json:"pulled"`
	Removed  int `json:"removed"`
	Orphaned int `json:"orphaned"`
}

// Report describes one RunFullSync call.
type Report struct {
	// Skipped is the reason the cycle did not run, empty if it did.
	Skipped    string                   `json:"skipped,omitempty"`
	UserID     string                   `json:"user_id,omitempty"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
	Tables     map[domain.Table]*Counts `json:"tables,omitempty"`
	Errors     []string                 `json:"errors,omitempty"`
	Pending    bool                     `json:"pending"`
}

func newReport() Report {
	r := Report{StartedAt: time.Now(), Tables: make(map[domain.Table]*Counts, len(domain.Tables))}
	for _, t := range domain.Tables {
		r.Tables[t] = &Counts{}
	}
	return r
}

func (r *Report) fail(phase string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", phase, err))
}

// Total sums the counts of every table.
func (r *Report) Total() Counts {
	var sum Counts
	for _, c := range r.Tables {
		sum.Created += c.Created
		sum.Updated += c.Updated
		sum.Deleted += c.Deleted
		sum.Deferred += c.Deferred
		sum.Failed += c.Failed
		sum.Pulled += c.Pulled
		sum.Removed += c.Removed
		sum.Orphaned += c.Orphaned
	}
	return sum
}

// LogAttrs flattens the report totals into slog key/value pairs.
func (r *Report) LogAttrs() []any {
	t := r.Total()
	return []any{
		"created", t.Created,
		"updated", t.Updated,
		"deleted", t.Deleted,
		"deferred", t.Deferred,
		"failed", t.Failed,
		"pulled", t.Pulled,
		"removed", t.Removed,
		"orphaned", t.Orphaned,
		"errors", len(r.Errors),
		"duration", time.Since(r.StartedAt).Round(time.Millisecond),
	}
}
