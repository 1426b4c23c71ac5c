package sync

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/conorfennell/cardsync/internal/storage"
)

var imageColumns = [...]struct{ column, side string }{
	{"front_image", "front"},
	{"back_image", "back"},
}

func isURL(ref string) bool {
	return strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://")
}

// resolveImages uploads every image of the card that is still a device file
// path and rewrites row to carry the public URL. The new reference is
// stored right away so a retried push does not upload again. A failed
// upload drops the image: the card's text is never held back by it.
func (c *cycle) resolveImages(ctx context.Context, row storage.Row) {
	id := row.Int64("id")
	for _, col := range imageColumns {
		ref := row.String(col.column)
		if ref == "" || isURL(ref) {
			continue
		}

		var resolved *string
		url, err := c.upload(ctx, ref, row.String("client_key"), col.side)
		if err != nil {
			c.logger.Warn("Image upload failed, pushing card without it",
				"card_id", id, "path", ref, "error", err)
		} else {
			resolved = &url
		}

		if err := c.local.ReplaceCardImage(ctx, id, col.column, ref, resolved); err != nil {
			c.logger.Warn("Failed to store resolved image", "card_id", id, "error", err)
		}
		if resolved == nil {
			row[col.column] = nil
		} else {
			row[col.column] = *resolved
		}
	}
}

func (c *cycle) upload(ctx context.Context, path, clientKey, side string) (string, error) {
	if c.blobs == nil {
		return "", fmt.Errorf("no blob store configured")
	}
	data, err := afero.ReadFile(c.files, path)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	contentType := http.DetectContentType(data)
	objectPath := fmt.Sprintf("%s/%s-%s%s", c.userCloudID, clientKey, side, strings.ToLower(filepath.Ext(path)))
	return c.blobs.Upload(ctx, objectPath, data, contentType)
}

// removeImages deletes the blob-store objects behind refs. Failures are
// logged and the objects left behind.
func (c *cycle) removeImages(ctx context.Context, refs []string) {
	if c.blobs == nil {
		return
	}
	var paths []string
	for _, ref := range refs {
		if p, ok := c.blobs.PathFromURL(ref); ok {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return
	}
	if err := c.blobs.Remove(ctx, paths); err != nil {
		c.logger.Warn("Failed to remove images, leaving them behind", "paths", paths, "error", err)
	}
}
