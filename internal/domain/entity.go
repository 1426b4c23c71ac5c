// Package domain holds the syncable entities shared by the local store,
// the sync engine and the application services.
package domain

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// TimeFormat is the ISO-8601 layout used for every stored timestamp.
// Fixed-width UTC keeps lexicographic and chronological order identical,
// which the pull watermark relies on.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Now returns the current time formatted with TimeFormat.
func Now() string {
	return FormatTime(time.Now())
}

// FormatTime formats t in UTC with TimeFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime accepts TimeFormat as well as any RFC 3339 timestamp.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeFormat, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// SyncStatus tracks the push obligation of a local row.
type SyncStatus string

const (
	Synced        SyncStatus = "synced"
	PendingCreate SyncStatus = "pending_create"
	PendingUpdate SyncStatus = "pending_update"
	PendingDelete SyncStatus = "pending_delete"
)

// Valid reports whether s is one of the known statuses.
func (s SyncStatus) Valid() bool {
	switch s {
	case Synced, PendingCreate, PendingUpdate, PendingDelete:
		return true
	}
	return false
}

// Table names a syncable table in the local store.
type Table string

const (
	Users      Table = "users"
	Decks      Table = "decks"
	Cards      Table = "cards"
	Statistics Table = "statistics"
	Practices  Table = "practices"
)

// Tables lists every syncable table, parents before children.
var Tables = []Table{Users, Decks, Cards, Statistics, Practices}

// Meta is the sync bookkeeping carried by every syncable row.
type Meta struct {
	ID           int64      `db:"id"`
	CloudID      *string    `db:"cloud_id"`
	ClientKey    *string    `db:"client_key"`
	LastModified string     `db:"last_modified"`
	SyncStatus   SyncStatus `db:"sync_status"`
}

// HasCloudID reports whether the row has been pushed at least once.
func (m Meta) HasCloudID() bool {
	return m.CloudID != nil && *m.CloudID != ""
}

// User is the local copy of the authenticated identity. Its CloudID is
// the identity's remote user id.
type User struct {
	Meta
	Email       string `db:"email" validate:"omitempty,email"`
	DisplayName string `db:"display_name" validate:"max=100"`
}

// Statistic aggregates one day of study activity for a user.
type Statistic struct {
	Meta
	UserID           int64  `db:"user_id"`
	Day              string `db:"day" validate:"required,datetime=2006-01-02"`
	CardsStudied     int    `db:"cards_studied" validate:"min=0"`
	CorrectCount     int    `db:"correct_count" validate:"min=0"`
	IncorrectCount   int    `db:"incorrect_count" validate:"min=0"`
	TimeSpentSeconds int    `db:"time_spent_seconds" validate:"min=0"`
}

// Practice records one finished game session on a deck.
type Practice struct {
	Meta
	DeckID          int64  `db:"deck_id"`
	Mode            string `db:"mode" validate:"required,oneof=classic quiz match write"`
	Score           int    `db:"score" validate:"min=0"`
	Total           int    `db:"total" validate:"min=0,gtefield=Score"`
	DurationSeconds int    `db:"duration_seconds" validate:"min=0"`
	PracticedAt     string `db:"practiced_at"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags of an entity.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid %T: %w", v, err)
	}
	return nil
}
