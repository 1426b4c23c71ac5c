package sync

import (
	"context"
	"fmt"

	"github.com/conorfennell/cardsync/internal/domain"
	"github.com/conorfennell/cardsync/internal/mapping"
	"github.com/conorfennell/cardsync/internal/remote"
	"github.com/conorfennell/cardsync/internal/storage"
)

// watermarks reads the latest synced last_modified of every table for the
// cycle's user.
func (c *cycle) watermarks(ctx context.Context) (map[domain.Table]string, error) {
	marks := make(map[domain.Table]string, len(domain.Tables))
	for _, table := range domain.Tables {
		since, err := c.local.Watermark(ctx, table, c.user.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s watermark: %w", table, err)
		}
		marks[table] = since
	}
	return marks, nil
}

// pull merges remote rows newer than each table's watermark. A table whose
// remote select fails is logged and skipped; children of its rows simply
// wait for a later pass.
func (c *cycle) pull(ctx context.Context) error {
	filter := remote.Filter{UserID: c.userCloudID}
	for _, table := range domain.Tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		entity := mapping.MustFor(table)
		since := c.since[table]
		rows, err := c.remote.Select(ctx, entity.RemoteTable, filter, since)
		if err != nil {
			c.logger.Warn("Failed to pull table", "table", table, "since", since, "error", err)
			c.report.fail("pull "+string(table), err)
			continue
		}
		if len(rows) > 0 {
			c.logger.Debug("Pulled remote rows", "table", table, "since", since, "count", len(rows))
		}

		counts := c.report.Tables[table]
		for _, row := range rows {
			switch c.pullRecord(ctx, entity, row) {
			case updated:
				counts.Pulled++
			case deleted:
				counts.Removed++
			case deferred:
				counts.Orphaned++
			case failed:
				counts.Failed++
			}
		}
	}
	return nil
}

func (c *cycle) pullRecord(ctx context.Context, entity mapping.Entity, row remote.Row) outcome {
	cloudID, _ := row[mapping.RemoteID].(string)
	log := c.logger.With("table", entity.Table, "cloud_id", cloudID)
	if cloudID == "" {
		log.Warn("Remote row without id, skipping")
		return failed
	}

	if mapping.IsDeleted(row) {
		found, err := c.local.HardDeleteByCloudID(ctx, entity.Table, cloudID)
		if err != nil {
			log.Warn("Failed to apply remote delete", "error", err)
			return failed
		}
		if !found {
			return unchanged
		}
		return deleted
	}

	var parentID int64
	if entity.HasParent() {
		parentCloudID := entity.ParentCloudID(row)
		id, ok, err := c.local.LocalIDFor(ctx, entity.Parent, parentCloudID)
		if err != nil {
			log.Warn("Failed to resolve parent", "error", err)
			return failed
		}
		if !ok {
			log.Debug("Parent not present locally, skipping", "parent", entity.Parent, "parent_cloud_id", parentCloudID)
			return deferred
		}
		parentID = id
	}

	changed, err := c.local.UpsertPulled(ctx, entity.Table, storage.Row(entity.FromRemote(row, parentID)))
	if err != nil {
		log.Warn("Failed to merge pulled row", "error", err)
		return failed
	}
	if !changed {
		return unchanged
	}
	return updated
}
