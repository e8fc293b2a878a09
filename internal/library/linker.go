// Package library places completed downloads into library folders and
// removes files of items that were superseded by better copies.
package library

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/shelfgrab/shelfgrab/internal/config"
	"github.com/shelfgrab/shelfgrab/internal/decisioning"
	"github.com/shelfgrab/shelfgrab/internal/downloader"
	"github.com/shelfgrab/shelfgrab/internal/history"
	"github.com/shelfgrab/shelfgrab/internal/models"
	"github.com/shelfgrab/shelfgrab/internal/normalize"
	"github.com/shelfgrab/shelfgrab/internal/store"
)

// Firer wakes another pipeline.
type Firer interface {
	Fire()
}

// Linker is a linker pipeline body. Each run links every completed
// download of its category into the library.
type Linker struct {
	cfg       config.LinkerConfig
	store     *store.Store
	history   *history.Service
	client    downloader.Client
	preferred map[models.MediaType][]string
	sidecar   *Sidecar
	cleaner   Firer
	files     fileOps
	logger    zerolog.Logger
}

// NewLinker creates a linker. cleaner may be nil.
func NewLinker(
	cfg config.LinkerConfig,
	st *store.Store,
	hist *history.Service,
	client downloader.Client,
	preferred map[models.MediaType][]string,
	cleaner Firer,
	logger zerolog.Logger,
) *Linker {
	logger = logger.With().Str("component", "linker").Str("linker", cfg.Name).Logger()
	l := &Linker{
		cfg:       cfg,
		store:     st,
		history:   hist,
		client:    client,
		preferred: preferred,
		cleaner:   cleaner,
		files:     fileOps{logger: logger},
		logger:    logger,
	}
	if cfg.WriteSidecar {
		l.sidecar = NewSidecar(logger, cfg.Name)
	}
	return l
}

// Run links completed downloads. A failure of the download client aborts
// the run; a failure placing one item's files skips that item.
func (l *Linker) Run(ctx context.Context) error {
	started, err := l.store.ListStartedSelected(ctx)
	if err != nil {
		return err
	}

	linked := 0
	for _, sel := range started {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.cfg.Category != "" && sel.Category != l.cfg.Category {
			continue
		}
		if sel.Hash == nil {
			continue
		}

		ok, err := l.link(ctx, sel)
		if err != nil {
			return fmt.Errorf("torrent %d: %w", sel.MamID, err)
		}
		if ok {
			linked++
		}
	}

	if linked > 0 {
		l.logger.Info().Int("linked", linked).Msg("Linked completed downloads")
		if l.cleaner != nil {
			l.cleaner.Fire()
		}
	}
	return l.refreshClientStatus(ctx)
}

// refreshClientStatus records whether the torrents behind this linker's
// items are still in the download client.
func (l *Linker) refreshClientStatus(ctx context.Context) error {
	items, err := l.store.ListLibraryItems(ctx)
	if err != nil {
		return err
	}

	for _, item := range items {
		if item.Linker != l.cfg.Name || !item.Linked() || item.ReplacedWith != nil {
			continue
		}

		status := models.ClientStatusOK
		_, err := l.client.Get(ctx, item.ID)
		if errors.Is(err, downloader.ErrNotFound) {
			status = models.ClientStatusNotInClient
		} else if err != nil {
			return fmt.Errorf("library item %s: %w", item.ID, err)
		}
		if item.ClientStatus == status {
			continue
		}

		l.logger.Info().Str("id", item.ID).Str("clientStatus", string(status)).Msg("Client status changed")
		updated := *item
		updated.ClientStatus = status
		if err := l.store.Update(ctx, func(q *store.Queries) error {
			return q.UpsertLibraryItem(ctx, &updated)
		}); err != nil {
			return fmt.Errorf("failed to update client status: %w", err)
		}
	}
	return nil
}

func (l *Linker) link(ctx context.Context, sel *models.SelectedTorrent) (bool, error) {
	hash := *sel.Hash
	logger := l.logger.With().Int64("mamId", sel.MamID).Str("hash", hash).Logger()

	dl, err := l.client.Get(ctx, hash)
	if errors.Is(err, downloader.ErrNotFound) {
		logger.Debug().Msg("Torrent not in download client")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !dl.Complete() {
		return false, nil
	}

	clientFiles, err := l.client.Files(ctx, hash)
	if err != nil {
		return false, err
	}
	paths := make([]string, 0, len(clientFiles))
	for _, f := range clientFiles {
		paths = append(paths, f.Path)
	}

	format := chooseFormat(paths, l.preferred[sel.Meta.MediaType])
	selected := selectFiles(paths, format)
	rel := relativePaths(selected)

	srcDir := l.cfg.DownloadDir
	if srcDir == "" {
		srcDir = dl.DownloadDir
	}
	dir := ItemDir(l.cfg.LibraryDir, sel.Meta)

	libraryFiles := make([]string, 0, len(selected))
	for _, f := range selected {
		src := filepath.Join(srcDir, filepath.FromSlash(f))
		dest := filepath.Join(dir, filepath.FromSlash(rel[f]))
		if _, err := l.files.linkOrCopy(src, dest); err != nil {
			logger.Warn().Err(err).Str("file", f).Msg("Failed to place file, will retry")
			return false, nil
		}
		libraryFiles = append(libraryFiles, rel[f])
	}

	mamID := sel.MamID
	item := &models.LibraryItem{
		ID:           hash,
		MamID:        &mamID,
		Meta:         sel.Meta.Clone(),
		LibraryPath:  dir,
		LibraryFiles: libraryFiles,
		Linker:       l.cfg.Name,
		ClientStatus: models.ClientStatusOK,
	}
	switch sel.Meta.MediaType {
	case models.MediaTypeAudiobook:
		item.SelectedAudioFormat = format
	case models.MediaTypeEbook:
		item.SelectedEbookFormat = format
	}

	if l.sidecar != nil {
		if err := l.sidecar.Apply(ctx, item); err != nil {
			logger.Warn().Err(err).Msg("Failed to write sidecar")
		}
	}

	var replaced []*models.LibraryItem
	err = l.store.Update(ctx, func(q *store.Queries) error {
		existing, err := q.GetLibraryItemByMamID(ctx, mamID)
		switch {
		case err == nil:
			item.ID = existing.ID
			item.CreatedAt = existing.CreatedAt
			item.OwnerName = existing.OwnerName
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		if err := q.UpsertLibraryItem(ctx, item); err != nil {
			return err
		}
		if err := q.DeleteSelected(ctx, mamID); err != nil {
			return err
		}

		replaced, err = l.supersede(ctx, q, item)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to record linked item: %w", err)
	}

	if err := l.history.LogLinked(ctx, item); err != nil {
		logger.Warn().Err(err).Msg("Failed to record linked event")
	}
	for _, old := range replaced {
		logger.Info().Str("replaced", old.ID).Str("title", old.Meta.Title).Msg("Library item replaced")
	}

	logger.Info().
		Str("title", item.Meta.Title).
		Str("path", dir).
		Str("format", format).
		Int("files", len(libraryFiles)).
		Msg("Linked download")
	return true, nil
}

// supersede marks linked items of the same title that the new item
// replaces.
func (l *Linker) supersede(ctx context.Context, q *store.Queries, item *models.LibraryItem) ([]*models.LibraryItem, error) {
	candidates, err := q.ListLibraryItemsByTitle(ctx, normalize.Title(item.Meta.Title))
	if err != nil {
		return nil, err
	}

	rank := decisioning.Rank(item.Meta, l.preferred)
	now := time.Now().UTC()
	var replaced []*models.LibraryItem
	for _, old := range candidates {
		if old.ID == item.ID || !old.Linked() || old.ReplacedWith != nil {
			continue
		}
		if !decisioning.Matches(old.Meta, item.Meta) {
			continue
		}
		if decisioning.Rank(old.Meta, l.preferred) <= rank {
			continue
		}
		old.ReplacedWith = &models.ReplacedWith{ID: item.ID, At: now}
		if err := q.UpsertLibraryItem(ctx, old); err != nil {
			return nil, err
		}
		replaced = append(replaced, old)
	}
	return replaced, nil
}
