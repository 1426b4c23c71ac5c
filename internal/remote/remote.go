// Package remote defines the hosted row store the sync engine pushes to
// and pulls from.
//
// Every remote row carries id, user_id, client_key, updated_at and
// is_deleted. Deletes are tombstones so that other devices observe them on
// their next pull.
package remote

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Upsert when the addressed row has been deleted
// remotely.
var ErrNotFound = errors.New("remote row not found")

// Row is a remote row keyed by remote column name.
type Row map[string]any

// Filter scopes a Select to one identity.
type Filter struct {
	UserID string
}

// Store is a remote row store.
//
// The store stamps updated_at itself on every write; a value in the payload
// is ignored. Pulls compare against those stamps, so every device orders
// changes by the store's clock rather than its own.
type Store interface {
	// Select returns the identity's rows of table with updated_at strictly
	// after since, tombstones included. An empty since selects everything.
	Select(ctx context.Context, table string, filter Filter, since string) ([]Row, error)

	// Insert creates a row and returns its id and updated_at stamp.
	// Replaying an insert with a client_key that already exists returns the
	// existing id and stamp unchanged.
	Insert(ctx context.Context, table string, payload Row) (id, updatedAt string, err error)

	// Upsert writes payload over the row identified by payload["id"],
	// creating it if absent, and returns the new updated_at stamp.
	Upsert(ctx context.Context, table string, payload Row) (updatedAt string, err error)

	// Delete tombstones a row and its dependents. Deleting a row that does
	// not exist is not an error.
	Delete(ctx context.Context, table, id string) error
}

// Child names a table whose rows reference a parent through Column.
type Child struct {
	Table  string
	Column string
}

// Children lists the dependents tombstoned together with a parent row.
var Children = map[string][]Child{
	"decks": {
		{Table: "cards", Column: "deck_id"},
		{Table: "practices", Column: "deck_id"},
	},
}
