// Package importer turns markdown notes into decks. Each .md file becomes
// one deck named after the file; cards already present in the deck (by
// normalized content) are skipped, so importing the same notes twice is a
// no-op.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/conorfennell/cardsync/internal/domain"
	"github.com/conorfennell/cardsync/internal/gitsource"
	"github.com/conorfennell/cardsync/internal/knol"
	"github.com/conorfennell/cardsync/internal/parser"
)

// Store is the part of the local store the importer writes to.
type Store interface {
	FindDeckByName(ctx context.Context, userID int64, name string) (*domain.Deck, error)
	CreateDeck(ctx context.Context, userID int64, name, description string) (*domain.Deck, error)
	ListCards(ctx context.Context, deckID int64) ([]domain.Card, error)
	CreateCard(ctx context.Context, deckID int64, front, back string, frontImage, backImage *string) (*domain.Card, error)
}

// Result summarises an import.
type Result struct {
	Files   int
	Decks   int
	Cards   int
	Skipped int
	Errors  []error
}

// Importer reads notes from fs. Git sources are cloned under reposDir.
type Importer struct {
	store    Store
	fs       afero.Fs
	reposDir string
	logger   *slog.Logger
}

// New returns an importer. A nil logger uses slog.Default().
func New(store Store, fs afero.Fs, reposDir string, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: store, fs: fs, reposDir: reposDir, logger: logger}
}

// Import reads every note under source, a directory or a git URL, into the
// user's decks. Per-file problems are collected in the Result; the error is
// reserved for a source that cannot be read at all.
func (im *Importer) Import(ctx context.Context, userID int64, source string) (*Result, error) {
	root := source
	if gitsource.IsURL(source) {
		local, err := gitsource.LocalPath(im.reposDir, source)
		if err != nil {
			return nil, err
		}
		if err := gitsource.Sync(source, local, im.logger); err != nil {
			return nil, err
		}
		root = local
	}

	res := &Result{}
	err := afero.Walk(im.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		res.Files++
		if err := im.importFile(ctx, userID, path, res); err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("importing %s: %w", path, err))
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("error walking directory %s: %w", root, err)
	}

	im.logger.Info("Import complete",
		"source", source,
		"files", res.Files,
		"decks", res.Decks,
		"cards", res.Cards,
		"skipped", res.Skipped,
		"errors", len(res.Errors),
	)
	return res, nil
}

func (im *Importer) importFile(ctx context.Context, userID int64, path string, res *Result) error {
	entries, err := parser.ParseFile(im.fs, path)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	deck, err := im.store.FindDeckByName(ctx, userID, name)
	if err != nil {
		return err
	}
	if deck == nil {
		if deck, err = im.store.CreateDeck(ctx, userID, name, description(entries)); err != nil {
			return err
		}
		res.Decks++
	}

	existing, err := im.store.ListCards(ctx, deck.ID)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing)+len(entries))
	for _, c := range existing {
		seen[knol.Hash(c.Front, c.Back)] = true
	}

	for _, e := range entries {
		hash := knol.Hash(e.Front, e.Back)
		if seen[hash] {
			res.Skipped++
			continue
		}
		seen[hash] = true
		if _, err := im.store.CreateCard(ctx, deck.ID, e.Front, e.Back, nil, nil); err != nil {
			return err
		}
		res.Cards++
	}
	return nil
}

// description is the first context line found in the file.
func description(entries []parser.Entry) string {
	for _, e := range entries {
		if e.Context != "" {
			return e.Context
		}
	}
	return ""
}
