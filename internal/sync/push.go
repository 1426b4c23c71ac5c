package sync

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/cardsync/internal/domain"
	"github.com/conorfennell/cardsync/internal/mapping"
	"github.com/conorfennell/cardsync/internal/remote"
	"github.com/conorfennell/cardsync/internal/storage"
)

type outcome int

const (
	unchanged outcome = iota
	created
	updated
	deleted
	deferred
	failed
)

func (c *cycle) push(ctx context.Context) error {
	for _, table := range domain.Tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := c.local.PendingRows(ctx, table, c.user.ID)
		if err != nil {
			return fmt.Errorf("failed to select pending %s: %w", table, err)
		}
		if len(rows) == 0 {
			continue
		}
		c.logger.Debug("Pushing pending rows", "table", table, "count", len(rows))

		outcomes := make([]outcome, len(rows))
		if table == domain.Cards {
			c.pushBatched(ctx, rows, outcomes)
		} else {
			for i, row := range rows {
				outcomes[i] = c.pushRecord(ctx, table, row)
			}
		}
		c.tally(table, outcomes)
	}
	return nil
}

// pushBatched pushes cards batchSize at a time, every card of a batch
// concurrently.
func (c *cycle) pushBatched(ctx context.Context, rows []storage.Row, outcomes []outcome) {
	for start := 0; start < len(rows); start += c.batchSize {
		end := min(start+c.batchSize, len(rows))
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				outcomes[i] = c.pushRecord(ctx, domain.Cards, rows[i])
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (c *cycle) tally(table domain.Table, outcomes []outcome) {
	counts := c.report.Tables[table]
	for _, o := range outcomes {
		switch o {
		case created:
			counts.Created++
		case updated:
			counts.Updated++
		case deleted:
			counts.Deleted++
		case deferred:
			counts.Deferred++
		case failed:
			counts.Failed++
		}
	}
}

// pushRecord sends one pending row. Every step is safe to repeat: inserts
// are keyed by client_key, upserts and deletes by cloud_id, and image
// objects are named after the card's client_key.
func (c *cycle) pushRecord(ctx context.Context, table domain.Table, row storage.Row) outcome {
	id := row.Int64("id")
	status := domain.SyncStatus(row.String("sync_status"))
	log := c.logger.With("table", table, "id", id, "status", status)

	if status == domain.PendingDelete {
		if err := c.pushDelete(ctx, table, row); err != nil {
			log.Warn("Failed to push delete", "error", err)
			return failed
		}
		return deleted
	}

	entity := mapping.MustFor(table)
	var parentCloudID string
	if entity.HasParent() {
		var err error
		parentCloudID, err = c.local.CloudIDOf(ctx, entity.Parent, row.Int64(entity.ParentLocal))
		if err != nil {
			log.Warn("Failed to resolve parent", "error", err)
			return failed
		}
		if parentCloudID == "" {
			log.Debug("Parent not synced yet, deferring", "parent", entity.Parent)
			return deferred
		}
	}

	if table == domain.Cards {
		c.resolveImages(ctx, row)
	}
	payload := remote.Row(entity.ToRemote(row, parentCloudID, c.userCloudID))
	seen := row.String("last_modified")

	switch status {
	case domain.PendingCreate:
		cloudID, stamp, err := c.remote.Insert(ctx, entity.RemoteTable, payload)
		if err != nil {
			log.Warn("Failed to push create", "error", err)
			return failed
		}
		if err := c.local.CompleteCreate(ctx, table, id, cloudID, seen, stamp); err != nil {
			log.Warn("Failed to record create", "cloud_id", cloudID, "error", err)
			return failed
		}
		return created

	case domain.PendingUpdate:
		if row.String("cloud_id") == "" {
			log.Warn("Pending update without cloud_id, skipping")
			return failed
		}
		stamp, err := c.remote.Upsert(ctx, entity.RemoteTable, payload)
		if errors.Is(err, remote.ErrNotFound) {
			// Deleted on another device; the tombstone wins.
			log.Info("Row was deleted remotely, dropping local copy")
			if err := c.local.HardDelete(ctx, table, id); err != nil {
				log.Warn("Failed to drop remotely deleted row", "error", err)
				return failed
			}
			return deleted
		}
		if err != nil {
			log.Warn("Failed to push update", "error", err)
			return failed
		}
		if _, err := c.local.CompleteUpdate(ctx, table, id, seen, stamp); err != nil {
			log.Warn("Failed to record update", "error", err)
			return failed
		}
		return updated
	}

	log.Warn("Unexpected sync status, skipping")
	return unchanged
}

func (c *cycle) pushDelete(ctx context.Context, table domain.Table, row storage.Row) error {
	id := row.Int64("id")
	switch table {
	case domain.Cards:
		c.removeImages(ctx, []string{row.String("front_image"), row.String("back_image")})
	case domain.Decks:
		refs, err := c.local.CardImagesForDeck(ctx, id)
		if err != nil {
			c.logger.Warn("Failed to list deck images", "deck_id", id, "error", err)
		}
		c.removeImages(ctx, refs)
	}

	if cloudID := row.String("cloud_id"); cloudID != "" {
		entity := mapping.MustFor(table)
		if err := c.remote.Delete(ctx, entity.RemoteTable, cloudID); err != nil {
			return err
		}
	}
	return c.local.HardDelete(ctx, table, id)
}
