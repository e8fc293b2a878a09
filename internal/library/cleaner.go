package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shelfgrab/shelfgrab/internal/history"
	"github.com/shelfgrab/shelfgrab/internal/models"
	"github.com/shelfgrab/shelfgrab/internal/store"
)

// Cleaner is the cleaner pipeline body. It removes the library files of
// items that were replaced by a better copy.
type Cleaner struct {
	roots   []string
	store   *store.Store
	history *history.Service
	files   fileOps
	logger  zerolog.Logger
}

// NewCleaner creates a cleaner. Empty folders left behind are removed up
// to the enclosing library root.
func NewCleaner(roots []string, st *store.Store, hist *history.Service, logger zerolog.Logger) *Cleaner {
	logger = logger.With().Str("component", "cleaner").Logger()
	return &Cleaner{
		roots:   roots,
		store:   st,
		history: hist,
		files:   fileOps{logger: logger},
		logger:  logger,
	}
}

// Run cleans every replaced item that still has files. An item whose
// files cannot be removed is left for the next run.
func (c *Cleaner) Run(ctx context.Context) error {
	items, err := c.store.ListReplacedLibraryItems(ctx)
	if err != nil {
		return err
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.clean(ctx, item); err != nil {
			c.logger.Warn().Err(err).Str("id", item.ID).Msg("Failed to clean replaced item")
		}
	}
	return nil
}

func (c *Cleaner) clean(ctx context.Context, item *models.LibraryItem) error {
	dir := item.LibraryPath
	files := item.LibraryFiles

	for _, f := range files {
		path := filepath.Join(dir, filepath.FromSlash(f))
		if err := c.files.deleteFile(path); err != nil {
			return err
		}
		c.files.cleanEmptyFolders(filepath.Dir(path), dir)
	}
	if dir != "" {
		// The sidecar goes only when nothing else shares the folder.
		if entries, err := os.ReadDir(dir); err == nil && len(entries) == 1 && entries[0].Name() == SidecarName {
			if err := c.files.deleteFile(filepath.Join(dir, SidecarName)); err != nil {
				return err
			}
		}
		c.files.cleanEmptyFolders(dir, c.rootOf(dir))
	}

	err := c.store.Update(ctx, func(q *store.Queries) error {
		cur, err := q.GetLibraryItem(ctx, item.ID)
		if err != nil {
			return err
		}
		cur.LibraryFiles = nil
		cur.LibraryPath = ""
		return q.UpsertLibraryItem(ctx, cur)
	})
	if err != nil {
		return fmt.Errorf("failed to record cleaned item: %w", err)
	}

	if err := c.history.LogCleaned(ctx, item, dir, files); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to record cleaned event")
	}

	c.logger.Info().
		Str("id", item.ID).
		Str("title", item.Meta.Title).
		Str("path", dir).
		Int("files", len(files)).
		Msg("Removed replaced item")
	return nil
}

// rootOf returns the library root containing dir. Outside every root only
// dir itself may be removed.
func (c *Cleaner) rootOf(dir string) string {
	dir = filepath.Clean(dir)
	for _, root := range c.roots {
		root = filepath.Clean(root)
		if strings.HasPrefix(dir, root+string(filepath.Separator)) {
			return root
		}
	}
	return filepath.Dir(dir)
}
