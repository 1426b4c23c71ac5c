// Package mapping holds the explicit correspondence between local columns
// and remote columns for every syncable entity.
//
// The local store and the remote store name things differently (cards.front
// is front_text remotely, last_modified is updated_at, foreign keys are local
// integers on one side and remote string ids on the other). Every translation
// between the two goes through the tables in this package.
package mapping

import (
	"fmt"
	"time"

	"github.com/conorfennell/cardsync/internal/domain"
)

// Remote column names shared by every remote table.
const (
	RemoteID        = "id"
	RemoteUserID    = "user_id"
	RemoteClientKey = "client_key"
	RemoteUpdatedAt = "updated_at"
	RemoteDeleted   = "is_deleted"
)

// Field maps one local column to one remote column.
type Field struct {
	Local  string
	Remote string
}

// Entity describes how one table crosses the local/remote boundary.
type Entity struct {
	Table       domain.Table
	RemoteTable string

	// Parent is the table referenced by ParentLocal (a local integer FK)
	// and ParentRemote (the parent's remote id). Empty for users.
	Parent       domain.Table
	ParentLocal  string
	ParentRemote string

	// Fields are the mutable content columns, excluding ids, keys, the
	// parent link and sync bookkeeping.
	Fields []Field
}

var common = []Field{
	{Local: "client_key", Remote: RemoteClientKey},
	{Local: "last_modified", Remote: RemoteUpdatedAt},
}

var entities = map[domain.Table]Entity{
	domain.Users: {
		Table:       domain.Users,
		RemoteTable: "users",
		Fields: []Field{
			{Local: "email", Remote: "email"},
			{Local: "display_name", Remote: "display_name"},
		},
	},
	domain.Decks: {
		Table:        domain.Decks,
		RemoteTable:  "decks",
		Parent:       domain.Users,
		ParentLocal:  "user_id",
		ParentRemote: RemoteUserID,
		Fields: []Field{
			{Local: "name", Remote: "name"},
			{Local: "description", Remote: "description"},
			{Local: "created_at", Remote: "created_at"},
		},
	},
	domain.Cards: {
		Table:        domain.Cards,
		RemoteTable:  "cards",
		Parent:       domain.Decks,
		ParentLocal:  "deck_id",
		ParentRemote: "deck_id",
		Fields: []Field{
			{Local: "front", Remote: "front_text"},
			{Local: "back", Remote: "back_text"},
			{Local: "front_image", Remote: "front_image_url"},
			{Local: "back_image", Remote: "back_image_url"},
			{Local: "stability", Remote: "stability"},
			{Local: "difficulty", Remote: "difficulty"},
			{Local: "due_date", Remote: "due_at"},
			{Local: "last_review", Remote: "last_reviewed_at"},
			{Local: "created_at", Remote: "created_at"},
		},
	},
	domain.Statistics: {
		Table:        domain.Statistics,
		RemoteTable:  "statistics",
		Parent:       domain.Users,
		ParentLocal:  "user_id",
		ParentRemote: RemoteUserID,
		Fields: []Field{
			{Local: "day", Remote: "day"},
			{Local: "cards_studied", Remote: "cards_studied"},
			{Local: "correct_count", Remote: "correct_count"},
			{Local: "incorrect_count", Remote: "incorrect_count"},
			{Local: "time_spent_seconds", Remote: "time_spent_seconds"},
		},
	},
	domain.Practices: {
		Table:        domain.Practices,
		RemoteTable:  "practices",
		Parent:       domain.Decks,
		ParentLocal:  "deck_id",
		ParentRemote: "deck_id",
		Fields: []Field{
			{Local: "mode", Remote: "game_mode"},
			{Local: "score", Remote: "score"},
			{Local: "total", Remote: "total"},
			{Local: "duration_seconds", Remote: "duration_seconds"},
			{Local: "practiced_at", Remote: "practiced_at"},
		},
	},
}

// For returns the mapping of table.
func For(table domain.Table) (Entity, error) {
	e, ok := entities[table]
	if !ok {
		return Entity{}, fmt.Errorf("no mapping for table %q", table)
	}
	return e, nil
}

// MustFor is For for the fixed set of domain tables.
func MustFor(table domain.Table) Entity {
	e, err := For(table)
	if err != nil {
		panic(err)
	}
	return e
}

// HasParent reports whether rows of the entity reference a parent row.
func (e Entity) HasParent() bool {
	return e.Parent != ""
}

// RemoteColumns lists every remote column the entity writes, in mapping order.
func (e Entity) RemoteColumns() []string {
	cols := []string{RemoteID, RemoteUserID}
	if e.HasParent() && e.ParentRemote != RemoteUserID {
		cols = append(cols, e.ParentRemote)
	}
	for _, f := range append(append([]Field{}, e.Fields...), common...) {
		cols = append(cols, f.Remote)
	}
	return cols
}

// ToRemote builds the outgoing payload for a local row. Local-only
// bookkeeping (id, sync_status, local foreign keys) is dropped; the parent's
// remote id and the caller's remote user id are filled in instead. The
// remote id is included only when the row has one.
func (e Entity) ToRemote(row map[string]any, parentCloudID, userCloudID string) map[string]any {
	out := make(map[string]any, len(e.Fields)+5)
	for _, f := range append(append([]Field{}, e.Fields...), common...) {
		if v, ok := row[f.Local]; ok {
			out[f.Remote] = v
		}
	}
	if id, ok := row["cloud_id"].(string); ok && id != "" {
		out[RemoteID] = id
	}
	if e.Table == domain.Users {
		// The user row's remote id is the identity itself.
		out[RemoteID] = userCloudID
		return out
	}
	out[RemoteUserID] = userCloudID
	if e.HasParent() {
		out[e.ParentRemote] = parentCloudID
	}
	return out
}

// ParentCloudID extracts the parent's remote id from a remote row.
func (e Entity) ParentCloudID(remote map[string]any) string {
	if !e.HasParent() {
		return ""
	}
	return str(remote[e.ParentRemote])
}

// FromRemote maps a remote row to local columns, setting cloud_id from the
// remote id and the parent link to parentLocalID. Timestamps are normalised
// to domain.TimeFormat.
func (e Entity) FromRemote(remote map[string]any, parentLocalID int64) map[string]any {
	out := make(map[string]any, len(e.Fields)+5)
	for _, f := range append(append([]Field{}, e.Fields...), common...) {
		if v, ok := remote[f.Remote]; ok {
			out[f.Local] = normalise(v)
		}
	}
	out["cloud_id"] = str(remote[RemoteID])
	if e.HasParent() {
		out[e.ParentLocal] = parentLocalID
	}
	return out
}

// IsDeleted reports whether a remote row is a tombstone.
func IsDeleted(remote map[string]any) bool {
	switch v := remote[RemoteDeleted].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	case string:
		return v == "true" || v == "t" || v == "1"
	}
	return false
}

func str(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func normalise(v any) any {
	switch t := v.(type) {
	case time.Time:
		return domain.FormatTime(t)
	case []byte:
		return string(t)
	}
	return v
}
