package storage

import (
	"context"
	"fmt"

	"github.com/conorfennell/cardsync/internal/domain"
)

// CreateCard inserts a new card into the deck in pending_create state.
// Initial scheduling values make the card due immediately.
func (db *DB) CreateCard(ctx context.Context, deckID int64, front, back string, frontImage, backImage *string) (*domain.Card, error) {
	card := domain.Card{DeckID: deckID, Front: front, Back: back}
	if err := domain.Validate(card); err != nil {
		return nil, err
	}
	now := domain.Now()
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO cards (client_key, deck_id, front, back, front_image, back_image,
			stability, difficulty, due_date, created_at, last_modified, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?, ?)
	`, newClientKey(), deckID, front, back, frontImage, backImage, now, now, now, domain.PendingCreate)
	if err != nil {
		return nil, fmt.Errorf("failed to insert card into deck %d: %w", deckID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert ID for card: %w", err)
	}
	return db.GetCard(ctx, id)
}

// GetCard retrieves a live card by its local id, nil if absent.
func (db *DB) GetCard(ctx context.Context, id int64) (*domain.Card, error) {
	var c domain.Card
	err := db.conn.GetContext(ctx, &c, `SELECT * FROM cards WHERE id = ? AND `+live, id)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get card %d: %w", id, err)
	}
	return &c, nil
}

// ListCards returns the live cards of a deck.
func (db *DB) ListCards(ctx context.Context, deckID int64) ([]domain.Card, error) {
	var cards []domain.Card
	err := db.conn.SelectContext(ctx, &cards, `
		SELECT * FROM cards WHERE deck_id = ? AND `+live+` ORDER BY id
	`, deckID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards for deck %d: %w", deckID, err)
	}
	return cards, nil
}

// DueCards returns the user's live cards due at or before the given time.
func (db *DB) DueCards(ctx context.Context, userID int64, at string) ([]domain.Card, error) {
	var cards []domain.Card
	err := db.conn.SelectContext(ctx, &cards, `
		SELECT c.* FROM cards c
		JOIN decks d ON d.id = c.deck_id
		WHERE d.user_id = ? AND d.sync_status != 'pending_delete'
		  AND c.sync_status != 'pending_delete' AND c.due_date <= ?
		ORDER BY c.due_date, c.id
	`, userID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to get due cards for user %d: %w", userID, err)
	}
	return cards, nil
}

// UpdateCard changes a card's content and image references.
func (db *DB) UpdateCard(ctx context.Context, id int64, front, back string, frontImage, backImage *string) error {
	if err := domain.Validate(domain.Card{Front: front, Back: back}); err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE cards SET front = ?, back = ?, front_image = ?, back_image = ?, `+touch+`
		WHERE id = ? AND `+live,
		front, back, frontImage, backImage, domain.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update card %d: %w", id, err)
	}
	return requireAffected(res, "card", id)
}

// UpdateCardSchedule stores the review collaborator's new scheduling state.
func (db *DB) UpdateCardSchedule(ctx context.Context, id int64, stability, difficulty float64, dueDate, lastReview string) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE cards SET stability = ?, difficulty = ?, due_date = ?, last_review = ?, `+touch+`
		WHERE id = ? AND `+live,
		stability, difficulty, dueDate, lastReview, domain.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update schedule for card %d: %w", id, err)
	}
	return requireAffected(res, "card", id)
}

// DeleteCard soft-deletes a card.
func (db *DB) DeleteCard(ctx context.Context, id int64) error {
	return db.softDelete(ctx, domain.Cards, id)
}
