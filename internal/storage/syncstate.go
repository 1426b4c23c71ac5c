package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/conorfennell/cardsync/internal/domain"
)

func checkTable(table domain.Table) error {
	for _, t := range domain.Tables {
		if t == table {
			return nil
		}
	}
	return fmt.Errorf("unknown table %q", table)
}

// CountPending counts rows of table that still have a push obligation.
// A table that does not exist yet counts as zero.
func (db *DB) CountPending(ctx context.Context, table domain.Table) (int, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	var exists int
	if err := db.conn.GetContext(ctx, &exists,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, string(table)); err != nil {
		return 0, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	if exists == 0 {
		return 0, nil
	}
	var n int
	if err := db.conn.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM `+string(table)+` WHERE sync_status != ?`, domain.Synced); err != nil {
		return 0, fmt.Errorf("failed to count pending rows in %s: %w", table, err)
	}
	return n, nil
}

// owned is a condition matching the rows of table that belong to the local
// user bound to its single placeholder. Cards and practices belong to the
// owner of their deck.
func owned(table domain.Table) string {
	switch table {
	case domain.Users:
		return `id = ?`
	case domain.Cards, domain.Practices:
		return `deck_id IN (SELECT id FROM decks WHERE user_id = ?)`
	}
	return `user_id = ?`
}

// PendingRows returns the rows of table owned by userID whose sync_status
// is not synced, oldest first.
func (db *DB) PendingRows(ctx context.Context, table domain.Table, userID int64) ([]Row, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	return db.QueryAll(ctx, `SELECT * FROM `+string(table)+` WHERE sync_status != ? AND `+owned(table)+` ORDER BY id`,
		domain.Synced, userID)
}

// CloudIDOf returns the cloud_id of a local row, "" when the row is missing
// or has not been pushed yet.
func (db *DB) CloudIDOf(ctx context.Context, table domain.Table, id int64) (string, error) {
	if err := checkTable(table); err != nil {
		return "", err
	}
	row, err := db.QueryOne(ctx, `SELECT cloud_id FROM `+string(table)+` WHERE id = ?`, id)
	if err != nil {
		return "", fmt.Errorf("failed to resolve cloud_id of %s %d: %w", table, id, err)
	}
	if row == nil {
		return "", nil
	}
	return row.String("cloud_id"), nil
}

// LocalIDFor returns the local id of the row joined to cloudID.
func (db *DB) LocalIDFor(ctx context.Context, table domain.Table, cloudID string) (int64, bool, error) {
	if err := checkTable(table); err != nil {
		return 0, false, err
	}
	row, err := db.QueryOne(ctx, `SELECT id FROM `+string(table)+` WHERE cloud_id = ?`, cloudID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to resolve local id of %s %s: %w", table, cloudID, err)
	}
	if row == nil {
		return 0, false, nil
	}
	return row.Int64("id"), true, nil
}

// CompleteCreate records a successful remote insert stamped remoteModified
// by the remote store. The row becomes synced, taking that stamp as its
// last_modified, only if it was not touched since seenModified was read;
// otherwise it keeps its newer obligation (pending_update, or
// pending_delete) and its local time.
func (db *DB) CompleteCreate(ctx context.Context, table domain.Table, id int64, cloudID, seenModified, remoteModified string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	_, err := db.conn.ExecContext(ctx, `
		UPDATE `+string(table)+` SET cloud_id = ?,
			sync_status = CASE
				WHEN sync_status = 'pending_delete' THEN 'pending_delete'
				WHEN last_modified = ? THEN 'synced'
				ELSE 'pending_update'
			END,
			last_modified = CASE
				WHEN sync_status != 'pending_delete' AND last_modified = ? AND ? != '' THEN ?
				ELSE last_modified
			END
		WHERE id = ?
	`, cloudID, seenModified, seenModified, remoteModified, remoteModified, id)
	if err != nil {
		return fmt.Errorf("failed to complete create of %s %d: %w", table, id, err)
	}
	return nil
}

// CompleteUpdate marks a row synced after a successful remote upsert
// stamped remoteModified, unless it was modified again since seenModified
// was read.
func (db *DB) CompleteUpdate(ctx context.Context, table domain.Table, id int64, seenModified, remoteModified string) (bool, error) {
	if err := checkTable(table); err != nil {
		return false, err
	}
	if remoteModified == "" {
		remoteModified = seenModified
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE `+string(table)+` SET sync_status = ?, last_modified = ?
		WHERE id = ? AND last_modified = ? AND sync_status = ?
	`, domain.Synced, remoteModified, id, seenModified, domain.PendingUpdate)
	if err != nil {
		return false, fmt.Errorf("failed to complete update of %s %d: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows for %s %d: %w", table, id, err)
	}
	return n > 0, nil
}

// ReplaceCardImage swaps the image reference in column (front_image or
// back_image) from one value to another without touching the card's sync
// bookkeeping. Nothing changes if the column no longer holds from.
func (db *DB) ReplaceCardImage(ctx context.Context, id int64, column, from string, to *string) error {
	if column != "front_image" && column != "back_image" {
		return fmt.Errorf("unknown image column %q", column)
	}
	_, err := db.conn.ExecContext(ctx, `UPDATE cards SET `+column+` = ? WHERE id = ? AND `+column+` = ?`,
		to, id, from)
	if err != nil {
		return fmt.Errorf("failed to replace %s of card %d: %w", column, id, err)
	}
	return nil
}

// CardImagesForDeck returns every image reference held by the deck's cards,
// including soft-deleted ones.
func (db *DB) CardImagesForDeck(ctx context.Context, deckID int64) ([]string, error) {
	rows, err := db.QueryAll(ctx, `SELECT front_image, back_image FROM cards WHERE deck_id = ?`, deckID)
	if err != nil {
		return nil, fmt.Errorf("failed to list images of deck %d: %w", deckID, err)
	}
	var refs []string
	for _, r := range rows {
		for _, col := range []string{"front_image", "back_image"} {
			if ref := r.String(col); ref != "" {
				refs = append(refs, ref)
			}
		}
	}
	return refs, nil
}

// HardDelete removes a row from storage. Children go with it through the
// ON DELETE CASCADE foreign keys.
func (db *DB) HardDelete(ctx context.Context, table domain.Table, id int64) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM `+string(table)+` WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to hard-delete %s %d: %w", table, id, err)
	}
	return nil
}

// HardDeleteByCloudID removes the row joined to cloudID, reporting whether
// one existed.
func (db *DB) HardDeleteByCloudID(ctx context.Context, table domain.Table, cloudID string) (bool, error) {
	if err := checkTable(table); err != nil {
		return false, err
	}
	res, err := db.conn.ExecContext(ctx, `DELETE FROM `+string(table)+` WHERE cloud_id = ?`, cloudID)
	if err != nil {
		return false, fmt.Errorf("failed to hard-delete %s %s: %w", table, cloudID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows for %s %s: %w", table, cloudID, err)
	}
	return n > 0, nil
}

// Watermark returns the latest last_modified among the synced rows of table
// owned by userID, or "" when there are none.
func (db *DB) Watermark(ctx context.Context, table domain.Table, userID int64) (string, error) {
	if err := checkTable(table); err != nil {
		return "", err
	}
	row, err := db.QueryOne(ctx, `SELECT MAX(last_modified) AS watermark FROM `+string(table)+
		` WHERE sync_status = ? AND `+owned(table), domain.Synced, userID)
	if err != nil {
		return "", fmt.Errorf("failed to read watermark of %s: %w", table, err)
	}
	if row == nil {
		return "", nil
	}
	return row.String("watermark"), nil
}

// UpsertPulled merges a pulled remote row, already mapped to local columns
// and carrying cloud_id, into table. The statement inserts or updates on the
// cloud_id conflict and marks the row synced. A synced local row is
// overwritten unless it already holds the pulled version; a local row that
// is still pending only when the pulled copy is newer. It reports whether
// anything was written.
//
// A local row that was pushed but never learned its cloud_id (a crash
// between the remote insert and CompleteCreate) is adopted first through its
// client_key, so the pull never duplicates it.
func (db *DB) UpsertPulled(ctx context.Context, table domain.Table, cols Row) (bool, error) {
	if err := checkTable(table); err != nil {
		return false, err
	}
	cloudID := cols.String("cloud_id")
	if cloudID == "" {
		return false, fmt.Errorf("pulled %s row has no cloud_id", table)
	}

	if key := cols.String("client_key"); key != "" {
		if _, err := db.conn.ExecContext(ctx, `
			UPDATE `+string(table)+` SET cloud_id = ? WHERE client_key = ? AND cloud_id IS NULL
		`, cloudID, key); err != nil {
			return false, fmt.Errorf("failed to adopt %s %s: %w", table, cloudID, err)
		}
	}

	names := make([]string, 0, len(cols))
	for name := range cols {
		if name == "id" || name == "sync_status" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]any, 0, len(names)+1)
	sets := make([]string, 0, len(names)+1)
	for _, name := range names {
		args = append(args, cols[name])
		if name != "cloud_id" {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", name, name))
		}
	}
	args = append(args, domain.Synced)
	sets = append(sets, "sync_status = excluded.sync_status")

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)+1), ", ")
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, sync_status) VALUES (%[3]s)
		ON CONFLICT(cloud_id) DO UPDATE SET %[4]s
		WHERE (%[1]s.sync_status = 'synced' AND excluded.last_modified != %[1]s.last_modified)
			OR (%[1]s.sync_status != 'synced' AND excluded.last_modified > %[1]s.last_modified)
	`, table, strings.Join(names, ", "), placeholders, strings.Join(sets, ", "))

	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to upsert pulled %s %s: %w", table, cloudID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows for %s %s: %w", table, cloudID, err)
	}
	return n > 0, nil
}
