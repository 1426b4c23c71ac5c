// Package study applies reviews and practice results to the local store.
// Every write goes through the store's normal mutations, so the changes are
// picked up by the next sync.
package study

import (
	"context"
	"fmt"
	"time"

	"github.com/conorfennell/cardsync/internal/domain"
	"github.com/conorfennell/cardsync/internal/fsrs"
	"github.com/conorfennell/cardsync/internal/storage"
)

// Store is the part of the local store used by the service.
type Store interface {
	GetCard(ctx context.Context, id int64) (*domain.Card, error)
	GetDeck(ctx context.Context, id int64) (*domain.Deck, error)
	DueCards(ctx context.Context, userID int64, at string) ([]domain.Card, error)
	UpdateCardSchedule(ctx context.Context, id int64, stability, difficulty float64, dueDate, lastReview string) error
	RecordStudy(ctx context.Context, userID int64, day string, correct bool, seconds int) (*domain.Statistic, error)
	CreatePractice(ctx context.Context, p domain.Practice) (*domain.Practice, error)
}

// Service schedules reviews with FSRS.
type Service struct {
	store  Store
	params *fsrs.Params
	now    func() time.Time
}

// New returns a service using the default FSRS parameters.
func New(store Store) *Service {
	return &Service{store: store, params: fsrs.DefaultParams(), now: time.Now}
}

// Next returns the user's first due card, or nil when nothing is due.
func (s *Service) Next(ctx context.Context, userID int64) (*domain.Card, error) {
	due, err := s.store.DueCards(ctx, userID, domain.FormatTime(s.now()))
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return nil, nil
	}
	return &due[0], nil
}

// Review records an answer to a card: the card is rescheduled and the
// owner's statistic for today is bumped.
func (s *Service) Review(ctx context.Context, cardID int64, rating fsrs.Rating, spent time.Duration) (*domain.Card, error) {
	if !rating.Valid() {
		return nil, fmt.Errorf("invalid rating %d", rating)
	}
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, fmt.Errorf("card %d: %w", cardID, storage.ErrNotFound)
	}
	deck, err := s.store.GetDeck(ctx, card.DeckID)
	if err != nil {
		return nil, err
	}
	if deck == nil {
		return nil, fmt.Errorf("deck %d: %w", card.DeckID, storage.ErrNotFound)
	}

	current := fsrs.CardState{Stability: card.Stability, Difficulty: card.Difficulty}
	if card.LastReview != nil {
		if t, err := domain.ParseTime(*card.LastReview); err == nil {
			current.LastReview = t
		}
	}

	now := s.now().UTC()
	next := s.params.NextState(current, rating, now)
	due := fsrs.NextDueDate(now, next.Stability)

	if err := s.store.UpdateCardSchedule(ctx, card.ID, next.Stability, next.Difficulty,
		domain.FormatTime(due), domain.FormatTime(now)); err != nil {
		return nil, err
	}
	if _, err := s.store.RecordStudy(ctx, deck.UserID, now.Format(time.DateOnly), rating.Correct(),
		int(spent.Round(time.Second).Seconds())); err != nil {
		return nil, err
	}
	return s.store.GetCard(ctx, card.ID)
}

// FinishPractice records a completed game on a deck.
func (s *Service) FinishPractice(ctx context.Context, deckID int64, mode string, score, total int, duration time.Duration) (*domain.Practice, error) {
	deck, err := s.store.GetDeck(ctx, deckID)
	if err != nil {
		return nil, err
	}
	if deck == nil {
		return nil, fmt.Errorf("deck %d: %w", deckID, storage.ErrNotFound)
	}
	return s.store.CreatePractice(ctx, domain.Practice{
		DeckID:          deckID,
		Mode:            mode,
		Score:           score,
		Total:           total,
		DurationSeconds: int(duration.Round(time.Second).Seconds()),
		PracticedAt:     domain.FormatTime(s.now()),
	})
}
