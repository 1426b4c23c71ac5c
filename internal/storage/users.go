package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/conorfennell/cardsync/internal/domain"
)

// EnsureUser returns the local row for the remote identity, creating it in
// synced state when absent. The identity's id doubles as the row's client
// key so every device derives the same one. A new row starts at the epoch so
// that the first pull still fetches the remote profile.
func (db *DB) EnsureUser(ctx context.Context, cloudID, email string) (*domain.User, error) {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO users (cloud_id, client_key, email, last_modified, sync_status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cloud_id) DO NOTHING
	`, cloudID, cloudID, email, domain.FormatTime(time.Unix(0, 0)), domain.Synced)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user %s: %w", cloudID, err)
	}
	user, err := db.FindUserByCloudID(ctx, cloudID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// Only possible if the row is mid-delete; report it rather than
		// handing out a nil parent.
		return nil, fmt.Errorf("user %s: %w", cloudID, ErrNotFound)
	}
	return user, nil
}

// FindUserByCloudID retrieves the user with the given remote id, nil if absent.
func (db *DB) FindUserByCloudID(ctx context.Context, cloudID string) (*domain.User, error) {
	var u domain.User
	err := db.conn.GetContext(ctx, &u, `SELECT * FROM users WHERE cloud_id = ?`, cloudID)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find user %s: %w", cloudID, err)
	}
	return &u, nil
}

// UpdateUserProfile changes the user's display name.
func (db *DB) UpdateUserProfile(ctx context.Context, id int64, displayName string) error {
	if err := domain.Validate(domain.User{DisplayName: displayName}); err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE users SET display_name = ?, `+touch+` WHERE id = ? AND `+live,
		displayName, domain.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update user %d: %w", id, err)
	}
	return requireAffected(res, "user", id)
}
