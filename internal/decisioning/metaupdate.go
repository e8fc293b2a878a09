package decisioning

import (
	"context"
	"fmt"

	"github.com/shelfgrab/shelfgrab/internal/models"
	"github.com/shelfgrab/shelfgrab/internal/store"
)

// UpdateOptions controls a metadata update.
type UpdateOptions struct {
	// AllowNonTracker lets tracker metadata overwrite records that came
	// from another source.
	AllowNonTracker bool
	DryRun          bool
}

// UpdateSelectedMeta applies freshly observed metadata to a selection.
func (e *Engine) UpdateSelectedMeta(ctx context.Context, mamID int64, meta models.ItemMeta, opts UpdateOptions) error {
	selected, err := e.store.GetSelected(ctx, mamID)
	if err != nil {
		return fmt.Errorf("failed to get selected torrent %d: %w", mamID, err)
	}
	return e.updateSelected(ctx, selected, meta, opts)
}

// UpdateLibraryMeta applies freshly observed metadata to a library item.
func (e *Engine) UpdateLibraryMeta(ctx context.Context, id string, meta models.ItemMeta, opts UpdateOptions) error {
	item, err := e.store.GetLibraryItem(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get library item %s: %w", id, err)
	}
	return e.updateLibrary(ctx, item, meta, opts)
}

func (e *Engine) updateSelected(ctx context.Context, stored *models.SelectedTorrent, fresh models.ItemMeta, opts UpdateOptions) error {
	updated, diffs, announce := planUpdate(stored.Meta, fresh, opts)
	if len(diffs) == 0 {
		return nil
	}

	log := e.logger.With().Int64("mamId", stored.MamID).Str("title", updated.Title).Logger()
	log.Info().Interface("fields", diffs).Bool("silent", !announce).Msg("Updating selected torrent metadata")
	if opts.DryRun {
		return nil
	}

	next := *stored
	next.Meta = updated
	if err := e.store.Update(ctx, func(q *store.Queries) error {
		return q.UpsertSelected(ctx, &next)
	}); err != nil {
		return fmt.Errorf("failed to update selected torrent metadata: %w", err)
	}

	if announce {
		mamID := stored.MamID
		if err := e.history.LogUpdated(ctx, stored.Hash, &mamID, diffs, updated.Source); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) updateLibrary(ctx context.Context, stored *models.LibraryItem, fresh models.ItemMeta, opts UpdateOptions) error {
	updated, diffs, announce := planUpdate(stored.Meta, fresh, opts)
	if len(diffs) == 0 {
		return nil
	}

	log := e.logger.With().Str("libraryItemId", stored.ID).Str("title", updated.Title).Logger()
	log.Info().Interface("fields", diffs).Bool("silent", !announce).Msg("Updating library item metadata")
	if opts.DryRun {
		return nil
	}

	next := *stored
	next.Meta = updated
	if err := e.store.Update(ctx, func(q *store.Queries) error {
		return q.UpsertLibraryItem(ctx, &next)
	}); err != nil {
		return fmt.Errorf("failed to update library item metadata: %w", err)
	}

	if announce {
		id := stored.ID
		if err := e.history.LogUpdated(ctx, &id, stored.MamID, diffs, updated.Source); err != nil {
			return err
		}
	}

	if next.LibraryPath != "" {
		for _, sink := range e.sinks {
			if err := sink.Apply(ctx, &next); err != nil {
				log.Warn().Err(err).Msg("Failed to apply metadata to library")
			}
		}
	}
	return nil
}

// planUpdate merges fresh metadata into stored metadata. It returns the
// merged record, the changed fields and whether the change deserves an
// Updated event.
func planUpdate(stored, fresh models.ItemMeta, opts UpdateOptions) (models.ItemMeta, []models.FieldDiff, bool) {
	if stored.Source != models.SourceTracker && !opts.AllowNonTracker {
		updated := stored.Clone()
		updated.Vip = fresh.Clone().Vip
		updated.UploadedAt = fresh.UploadedAt
		return updated, DiffMeta(stored, updated), false
	}

	updated := mergeMeta(stored, fresh)
	diffs := DiffMeta(stored, updated)
	if len(diffs) == 0 {
		return updated, nil, false
	}

	if onlyFields(diffs, models.FieldVip) && stored.Vip.Expiring() && !updated.Vip.Vip {
		return updated, diffs, false
	}
	if onlyFields(diffs, models.FieldUploadedAt, models.FieldNumFiles) {
		return updated, diffs, false
	}
	return updated, diffs, true
}

// mergeMeta takes fresh metadata as the base. Stored ids win on conflict,
// curated tags are kept and an empty fresh description keeps the stored one.
func mergeMeta(stored, fresh models.ItemMeta) models.ItemMeta {
	merged := fresh.Clone()

	merged.IDs = make(map[models.IDNamespace]string, len(fresh.IDs)+len(stored.IDs))
	for ns, id := range fresh.IDs {
		merged.IDs[ns] = id
	}
	for ns, id := range stored.IDs {
		merged.IDs[ns] = id
	}

	if len(stored.Tags) > 0 {
		merged.Tags = append([]string(nil), stored.Tags...)
	}
	if merged.Description == "" {
		merged.Description = stored.Description
	}
	return merged
}

