package decisioning

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shelfgrab/shelfgrab/internal/history"
	"github.com/shelfgrab/shelfgrab/internal/models"
	"github.com/shelfgrab/shelfgrab/internal/normalize"
	"github.com/shelfgrab/shelfgrab/internal/store"
	"github.com/shelfgrab/shelfgrab/internal/tracker"
)

// MetadataSink mirrors updated metadata of a linked library item somewhere
// outside the store, such as a sidecar file or a library host.
type MetadataSink interface {
	Apply(ctx context.Context, item *models.LibraryItem) error
}

// Engine reconciles tracker candidates against the store.
type Engine struct {
	store   *store.Store
	history *history.Service
	sinks   []MetadataSink
	cfg     Config
	logger  zerolog.Logger
}

// NewEngine creates a new selection engine.
func NewEngine(st *store.Store, hist *history.Service, sinks []MetadataSink, cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{
		store:   st,
		history: hist,
		sinks:   sinks,
		cfg:     cfg,
		logger:  logger.With().Str("component", "decisioning").Logger(),
	}
}

// SelectTorrents processes candidates strictly in order and returns how many
// were accepted. Each decision is committed on its own, so an error leaves
// earlier decisions in place. The run stops before the next candidate once
// MaxAccept candidates have been accepted.
func (e *Engine) SelectTorrents(ctx context.Context, candidates iter.Seq2[tracker.CandidateItem, error], req Request) (int, error) {
	if req.Lock != nil {
		req.Lock.Lock()
		defer req.Lock.Unlock()
	}

	logger := e.logger.With().
		Str("grabber", req.Grabber).
		Str("cost", string(req.Cost)).
		Bool("dryRun", req.DryRun).
		Logger()

	accepted := 0
	if limitReached(req.MaxAccept, accepted) {
		logger.Info().Msg("Accept limit is zero, nothing to select")
		return 0, nil
	}
	for item, err := range candidates {
		if err != nil {
			return accepted, fmt.Errorf("failed to fetch candidates: %w", err)
		}

		ok, err := e.processCandidate(ctx, item, req, logger)
		if err != nil {
			return accepted, fmt.Errorf("torrent %d: %w", item.ID, err)
		}
		if !ok {
			continue
		}

		accepted++
		if limitReached(req.MaxAccept, accepted) {
			logger.Info().Int("accepted", accepted).Msg("Reached max accepted torrents, stopping")
			break
		}
	}

	logger.Info().Int("accepted", accepted).Msg("Selection run finished")
	return accepted, nil
}

func limitReached(limit *int, accepted int) bool {
	return limit != nil && accepted >= *limit
}

func (e *Engine) processCandidate(ctx context.Context, item tracker.CandidateItem, req Request, logger zerolog.Logger) (bool, error) {
	if _, ignored := e.cfg.Ignore[item.ID]; ignored {
		return false, nil
	}

	log := logger.With().Int64("mamId", item.ID).Str("title", item.Title).Logger()

	meta, err := tracker.ToMeta(item)
	if err != nil {
		if errors.Is(err, tracker.ErrUnknownMediaType) {
			log.Warn().Int("mainCat", item.MainCat).Msg("Skipping torrent with unknown media type")
			return false, nil
		}
		return false, err
	}

	if req.Cost.MetadataOnly() {
		return false, e.catalog(ctx, item, meta, req, log)
	}

	selected, err := e.store.GetSelected(ctx, item.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("failed to get selected torrent: %w", err)
	}
	if selected != nil {
		return false, e.reconcileSelected(ctx, selected, meta, req, log)
	}

	owned, err := e.store.GetLibraryItemByMamID(ctx, item.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("failed to get library item: %w", err)
	}
	if owned != nil {
		return false, e.updateLibrary(ctx, owned, meta, UpdateOptions{DryRun: req.DryRun})
	}

	if req.Cost == CostFree && !isFreeCandidate(item) {
		log.Debug().Msg("Skipping torrent that is not free")
		return false, nil
	}

	rank, ok := PreferenceRank(meta, e.cfg.Preferred)
	if !ok {
		log.Debug().Strs("filetypes", meta.Filetypes).Msg("Skipping torrent without a preferred filetype")
		return false, nil
	}

	titleSearch := normalize.Title(meta.Title)

	others, err := e.store.ListSelectedByTitle(ctx, titleSearch)
	if err != nil {
		return false, fmt.Errorf("failed to list selected torrents by title: %w", err)
	}
	for _, other := range others {
		if other.MamID == item.ID {
			return false, e.reconcileSelected(ctx, other, meta, req, log)
		}
		if other.RemovedAt != nil || !Matches(meta, other.Meta) {
			continue
		}

		if Rank(other.Meta, e.cfg.Preferred) <= rank {
			log.Info().Int64("existingMamId", other.MamID).Msg("Duplicate of a better or equal selected torrent")
			return false, e.recordDuplicate(ctx, &models.DuplicateRecord{
				MamID:  item.ID,
				Meta:   meta,
				DlLink: item.DlLink,
				Cost:   CostClass(item, req.Cost),
			}, req.DryRun)
		}

		log.Info().Int64("replacedMamId", other.MamID).Msg("Replacing worse selected torrent")
		if err := e.replaceSelected(ctx, other, req.DryRun); err != nil {
			return false, err
		}
	}

	owners, err := e.store.ListLibraryItemsByTitle(ctx, titleSearch)
	if err != nil {
		return false, fmt.Errorf("failed to list library items by title: %w", err)
	}
	for _, other := range owners {
		if other.ReplacedWith != nil || !Matches(meta, other.Meta) {
			continue
		}

		if Rank(other.Meta, e.cfg.Preferred) <= rank {
			log.Info().Str("libraryItemId", other.ID).Msg("Duplicate of a better or equal library item")
			id := other.ID
			return false, e.recordDuplicate(ctx, &models.DuplicateRecord{
				MamID:       item.ID,
				Meta:        meta,
				DlLink:      item.DlLink,
				Cost:        CostClass(item, req.Cost),
				DuplicateOf: &id,
			}, req.DryRun)
		}

		log.Info().
			Str("libraryItemId", other.ID).
			Strs("ownedFiletypes", other.Meta.Filetypes).
			Strs("filetypes", meta.Filetypes).
			Msg("Found a better replacement for a library item")
	}

	return true, e.accept(ctx, item, meta, req, log)
}

// catalog handles the metadata-only policies: known items get their metadata
// refreshed, unknown ones become library items without files.
func (e *Engine) catalog(ctx context.Context, item tracker.CandidateItem, meta models.ItemMeta, req Request, log zerolog.Logger) error {
	owned, err := e.store.GetLibraryItemByMamID(ctx, item.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to get library item: %w", err)
	}

	if owned != nil {
		if req.Cost == CostMetadataOnlyAdd && !owned.Linked() && owned.OwnerName == "" && item.OwnerName != "" {
			log.Info().Str("owner", item.OwnerName).Msg("Recording owner of catalog item")
			if !req.DryRun {
				withOwner := *owned
				withOwner.OwnerName = item.OwnerName
				if err := e.store.Update(ctx, func(q *store.Queries) error {
					return q.UpsertLibraryItem(ctx, &withOwner)
				}); err != nil {
					return fmt.Errorf("failed to update library item owner: %w", err)
				}
				owned = &withOwner
			}
		}
		return e.updateLibrary(ctx, owned, meta, UpdateOptions{DryRun: req.DryRun})
	}

	mamID := item.ID
	lib := &models.LibraryItem{
		ID:           uuid.NewString(),
		MamID:        &mamID,
		Meta:         meta,
		ClientStatus: models.ClientStatusOK,
	}
	if req.Cost == CostMetadataOnlyAdd {
		lib.OwnerName = item.OwnerName
	}

	log.Info().Str("libraryItemId", lib.ID).Msg("Adding catalog item")
	if req.DryRun {
		return nil
	}

	err = e.store.Update(ctx, func(q *store.Queries) error {
		return q.InsertLibraryItem(ctx, lib)
	})
	if errors.Is(err, store.ErrDuplicateKey) {
		log.Warn().Err(err).Msg("Catalog item was added concurrently")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to insert catalog item: %w", err)
	}
	return nil
}

// reconcileSelected tightens the unsat buffer of an existing selection and
// replays metadata changes onto it.
func (e *Engine) reconcileSelected(ctx context.Context, selected *models.SelectedTorrent, meta models.ItemMeta, req Request, log zerolog.Logger) error {
	if req.UnsatBuffer != nil && (selected.UnsatBuffer == nil || *req.UnsatBuffer < *selected.UnsatBuffer) {
		log.Info().Int("unsatBuffer", *req.UnsatBuffer).Msg("Tightening unsat buffer of selected torrent")
		tightened := *selected
		buffer := *req.UnsatBuffer
		tightened.UnsatBuffer = &buffer
		if !req.DryRun {
			if err := e.store.Update(ctx, func(q *store.Queries) error {
				return q.UpsertSelected(ctx, &tightened)
			}); err != nil {
				return fmt.Errorf("failed to update unsat buffer: %w", err)
			}
			selected = &tightened
		}
	}

	return e.updateSelected(ctx, selected, meta, UpdateOptions{DryRun: req.DryRun})
}

// replaceSelected drops a worse pending selection, or retires a started
// one, and remembers it as a duplicate.
func (e *Engine) replaceSelected(ctx context.Context, worse *models.SelectedTorrent, dryRun bool) error {
	if dryRun {
		return nil
	}
	rec := &models.DuplicateRecord{
		MamID:  worse.MamID,
		Meta:   worse.Meta,
		DlLink: worse.DlLink,
		Cost:   worse.Cost,
	}
	if err := e.store.Update(ctx, func(q *store.Queries) error {
		if err := q.UpsertDuplicate(ctx, rec); err != nil {
			return err
		}
		if worse.StartedAt == nil {
			return q.DeleteSelected(ctx, worse.MamID)
		}
		// A started row still tracks a torrent in the client.
		cur, err := q.GetSelected(ctx, worse.MamID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		cur.RemovedAt = &now
		return q.UpsertSelected(ctx, cur)
	}); err != nil {
		return fmt.Errorf("failed to replace selected torrent %d: %w", worse.MamID, err)
	}
	return nil
}

// recordDuplicate writes a duplicate record unless an identical one exists.
func (e *Engine) recordDuplicate(ctx context.Context, rec *models.DuplicateRecord, dryRun bool) error {
	if dryRun {
		return nil
	}

	existing, err := e.store.GetDuplicate(ctx, rec.MamID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to get duplicate record: %w", err)
	}
	if existing != nil && sameDuplicate(existing, rec) {
		return nil
	}

	if err := e.store.Update(ctx, func(q *store.Queries) error {
		return q.UpsertDuplicate(ctx, rec)
	}); err != nil {
		return fmt.Errorf("failed to record duplicate: %w", err)
	}
	return nil
}

func sameDuplicate(a, b *models.DuplicateRecord) bool {
	if (a.DuplicateOf == nil) != (b.DuplicateOf == nil) {
		return false
	}
	if a.DuplicateOf != nil && *a.DuplicateOf != *b.DuplicateOf {
		return false
	}
	return a.DlLink == b.DlLink && a.Cost == b.Cost && len(DiffMeta(a.Meta, b.Meta)) == 0
}

func (e *Engine) accept(ctx context.Context, item tracker.CandidateItem, meta models.ItemMeta, req Request, log zerolog.Logger) error {
	if item.DlLink == "" {
		return ErrMissingDownloadLink
	}

	category, tags := ApplyTagRules(e.cfg.TagRules, meta)
	if req.Category != "" {
		category = req.Category
	}

	st := &models.SelectedTorrent{
		MamID:       item.ID,
		DlLink:      item.DlLink,
		UnsatBuffer: req.UnsatBuffer,
		WedgeBuffer: req.WedgeBuffer,
		Cost:        CostClass(item, req.Cost),
		Category:    category,
		Tags:        tags,
		Meta:        meta,
		Grabber:     req.Grabber,
		CreatedAt:   time.Now().UTC(),
	}

	log.Info().
		Str("cost", string(st.Cost)).
		Str("category", category).
		Strs("filetypes", meta.Filetypes).
		Msg("Selected torrent")
	if req.DryRun {
		return nil
	}

	if err := e.store.Update(ctx, func(q *store.Queries) error {
		return q.InsertSelected(ctx, st)
	}); err != nil {
		return fmt.Errorf("failed to insert selected torrent: %w", err)
	}
	return nil
}
