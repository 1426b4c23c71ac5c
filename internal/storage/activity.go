package storage

import (
	"context"
	"fmt"

	"github.com/conorfennell/cardsync/internal/domain"
)

// RecordStudy adds one studied card to the user's statistic for day
// (YYYY-MM-DD), creating the day's row on first use.
func (db *DB) RecordStudy(ctx context.Context, userID int64, day string, correct bool, seconds int) (*domain.Statistic, error) {
	if err := domain.Validate(domain.Statistic{Day: day, TimeSpentSeconds: seconds}); err != nil {
		return nil, err
	}
	correctInc, incorrectInc := 0, 1
	if correct {
		correctInc, incorrectInc = 1, 0
	}

	stat, err := db.findStatistic(ctx, userID, day)
	if err != nil {
		return nil, err
	}
	now := domain.Now()
	if stat == nil {
		res, err := db.conn.ExecContext(ctx, `
			INSERT INTO statistics (client_key, user_id, day, cards_studied, correct_count,
				incorrect_count, time_spent_seconds, last_modified, sync_status)
			VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?)
		`, newClientKey(), userID, day, correctInc, incorrectInc, seconds, now, domain.PendingCreate)
		if err != nil {
			return nil, fmt.Errorf("failed to insert statistic for %s: %w", day, err)
		}
		if _, err := res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("failed to get last insert ID for statistic: %w", err)
		}
		return db.findStatistic(ctx, userID, day)
	}

	_, err = db.conn.ExecContext(ctx, `
		UPDATE statistics SET cards_studied = cards_studied + 1,
			correct_count = correct_count + ?, incorrect_count = incorrect_count + ?,
			time_spent_seconds = time_spent_seconds + ?, `+touch+`
		WHERE id = ?
	`, correctInc, incorrectInc, seconds, now, stat.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update statistic %d: %w", stat.ID, err)
	}
	return db.findStatistic(ctx, userID, day)
}

func (db *DB) findStatistic(ctx context.Context, userID int64, day string) (*domain.Statistic, error) {
	var s domain.Statistic
	err := db.conn.GetContext(ctx, &s, `
		SELECT * FROM statistics WHERE user_id = ? AND day = ? AND `+live+`
		ORDER BY id LIMIT 1
	`, userID, day)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find statistic for %s: %w", day, err)
	}
	return &s, nil
}

// ListStatistics returns the user's live statistics, newest day first.
func (db *DB) ListStatistics(ctx context.Context, userID int64) ([]domain.Statistic, error) {
	var stats []domain.Statistic
	err := db.conn.SelectContext(ctx, &stats, `
		SELECT * FROM statistics WHERE user_id = ? AND `+live+` ORDER BY day DESC, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list statistics for user %d: %w", userID, err)
	}
	return stats, nil
}

// CreatePractice records a finished practice session on a deck.
func (db *DB) CreatePractice(ctx context.Context, p domain.Practice) (*domain.Practice, error) {
	if err := domain.Validate(p); err != nil {
		return nil, err
	}
	now := domain.Now()
	if p.PracticedAt == "" {
		p.PracticedAt = now
	}
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO practices (client_key, deck_id, mode, score, total, duration_seconds,
			practiced_at, last_modified, sync_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, newClientKey(), p.DeckID, p.Mode, p.Score, p.Total, p.DurationSeconds, p.PracticedAt, now, domain.PendingCreate)
	if err != nil {
		return nil, fmt.Errorf("failed to insert practice for deck %d: %w", p.DeckID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert ID for practice: %w", err)
	}

	var out domain.Practice
	if err := db.conn.GetContext(ctx, &out, `SELECT * FROM practices WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to read practice %d: %w", id, err)
	}
	return &out, nil
}

// ListPractices returns a deck's live practice sessions, newest first.
func (db *DB) ListPractices(ctx context.Context, deckID int64) ([]domain.Practice, error) {
	var practices []domain.Practice
	err := db.conn.SelectContext(ctx, &practices, `
		SELECT * FROM practices WHERE deck_id = ? AND `+live+` ORDER BY practiced_at DESC, id
	`, deckID)
	if err != nil {
		return nil, fmt.Errorf("failed to list practices for deck %d: %w", deckID, err)
	}
	return practices, nil
}
