package storage

import (
	"context"
	"fmt"

	"github.com/conorfennell/cardsync/internal/domain"
	"github.com/google/uuid"
)

// touch is the SET fragment applied by every local mutation: bump
// last_modified and escalate synced rows to pending_update. Rows still
// pending_create stay pending_create until their first push.
const touch = `sync_status = CASE sync_status WHEN 'synced' THEN 'pending_update' ELSE sync_status END, last_modified = ?`

// live excludes soft-deleted rows from normal reads.
const live = `sync_status != 'pending_delete'`

func newClientKey() string {
	return uuid.NewString()
}

// CreateDeck inserts a new deck in pending_create state.
func (db *DB) CreateDeck(ctx context.Context, userID int64, name, description string) (*domain.Deck, error) {
	deck := domain.Deck{UserID: userID, Name: name, Description: description}
	if err := domain.Validate(deck); err != nil {
		return nil, err
	}
	now := domain.Now()
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO decks (client_key, user_id, name, description, created_at, last_modified, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, newClientKey(), userID, name, description, now, now, domain.PendingCreate)
	if err != nil {
		return nil, fmt.Errorf("failed to insert deck %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert ID for deck %q: %w", name, err)
	}
	return db.GetDeck(ctx, id)
}

// GetDeck retrieves a live deck by its local id. It returns nil when the
// deck does not exist or is soft-deleted.
func (db *DB) GetDeck(ctx context.Context, id int64) (*domain.Deck, error) {
	var d domain.Deck
	err := db.conn.GetContext(ctx, &d, `SELECT * FROM decks WHERE id = ? AND `+live, id)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get deck %d: %w", id, err)
	}
	return &d, nil
}

// FindDeckByName returns the user's live deck with the given name, or nil.
func (db *DB) FindDeckByName(ctx context.Context, userID int64, name string) (*domain.Deck, error) {
	var d domain.Deck
	err := db.conn.GetContext(ctx, &d, `
		SELECT * FROM decks WHERE user_id = ? AND name = ? AND `+live+` ORDER BY id LIMIT 1
	`, userID, name)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find deck %q: %w", name, err)
	}
	return &d, nil
}

// ListDecks returns the user's live decks ordered by name.
func (db *DB) ListDecks(ctx context.Context, userID int64) ([]domain.Deck, error) {
	var decks []domain.Deck
	err := db.conn.SelectContext(ctx, &decks, `
		SELECT * FROM decks WHERE user_id = ? AND `+live+` ORDER BY name, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list decks for user %d: %w", userID, err)
	}
	return decks, nil
}

// UpdateDeck changes a deck's name and description.
func (db *DB) UpdateDeck(ctx context.Context, id int64, name, description string) error {
	if err := domain.Validate(domain.Deck{Name: name, Description: description}); err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE decks SET name = ?, description = ?, `+touch+`
		WHERE id = ? AND `+live,
		name, description, domain.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update deck %d: %w", id, err)
	}
	return requireAffected(res, "deck", id)
}

// DeleteDeck soft-deletes a deck. The row stays in storage as
// pending_delete until the remote delete is confirmed; its cards go with it
// once the sync engine hard-deletes the deck.
func (db *DB) DeleteDeck(ctx context.Context, id int64) error {
	return db.softDelete(ctx, domain.Decks, id)
}

func (db *DB) softDelete(ctx context.Context, table domain.Table, id int64) error {
	if err := checkTable(table); err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE `+string(table)+` SET sync_status = ?, last_modified = ?
		WHERE id = ? AND `+live,
		domain.PendingDelete, domain.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %d: %w", table, id, err)
	}
	return requireAffected(res, string(table), id)
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func requireAffected(res rowsAffecter, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows for %s %d: %w", what, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}
