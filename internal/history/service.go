// Package history is the append-only audit log of grabs, links, cleanups,
// metadata updates and tracker removals.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shelfgrab/shelfgrab/internal/models"
	"github.com/shelfgrab/shelfgrab/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// Service provides history management functionality.
type Service struct {
	store     *store.Store
	retention RetentionSettings
	logger    zerolog.Logger
}

// NewService creates a new history service.
func NewService(st *store.Store, logger zerolog.Logger) *Service {
	return &Service{
		store:     st,
		retention: DefaultRetentionSettings(),
		logger:    logger.With().Str("component", "history").Logger(),
	}
}

// Append stores an event in its own transaction. A missing id or
// timestamp is filled in.
func (s *Service) Append(ctx context.Context, ev *models.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	if err := s.store.Update(ctx, func(q *store.Queries) error {
		return q.InsertEvent(ctx, ev)
	}); err != nil {
		return fmt.Errorf("failed to append %s event: %w", ev.Kind, err)
	}

	s.logger.Debug().
		Str("kind", string(ev.Kind)).
		Str("eventId", ev.ID).
		Msg("Event appended")
	return nil
}

// LogGrabbed records a selection handed to the download client.
func (s *Service) LogGrabbed(ctx context.Context, st *models.SelectedTorrent, wedgeUsed bool) error {
	mamID := st.MamID
	return s.Append(ctx, &models.Event{
		LibraryItemID: st.Hash,
		MamID:         &mamID,
		Kind:          models.EventGrabbed,
		Grabber:       st.Grabber,
		Cost:          st.Cost,
		WedgeUsed:     wedgeUsed,
	})
}

// LogLinked records a library item whose files were linked into a library.
func (s *Service) LogLinked(ctx context.Context, item *models.LibraryItem) error {
	id := item.ID
	return s.Append(ctx, &models.Event{
		LibraryItemID: &id,
		MamID:         item.MamID,
		Kind:          models.EventLinked,
		Linker:        item.Linker,
		LibraryPath:   item.LibraryPath,
	})
}

// LogCleaned records files removed from a library.
func (s *Service) LogCleaned(ctx context.Context, item *models.LibraryItem, libraryPath string, files []string) error {
	id := item.ID
	return s.Append(ctx, &models.Event{
		LibraryItemID: &id,
		MamID:         item.MamID,
		Kind:          models.EventCleaned,
		LibraryPath:   libraryPath,
		Files:         files,
	})
}

// LogUpdated records a metadata change.
func (s *Service) LogUpdated(ctx context.Context, libraryItemID *string, mamID *int64, fields []models.FieldDiff, source models.MetadataSource) error {
	return s.Append(ctx, &models.Event{
		LibraryItemID: libraryItemID,
		MamID:         mamID,
		Kind:          models.EventUpdated,
		Fields:        fields,
		Source:        source,
	})
}

// LogRemovedFromTracker records a torrent that disappeared from the tracker.
func (s *Service) LogRemovedFromTracker(ctx context.Context, mamID int64, libraryItemID *string) error {
	return s.Append(ctx, &models.Event{
		LibraryItemID: libraryItemID,
		MamID:         &mamID,
		Kind:          models.EventRemovedFromTracker,
	})
}

// List lists events with pagination and filtering, newest first.
func (s *Service) List(ctx context.Context, opts ListOptions) (*ListResponse, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = defaultPageSize
	}
	if opts.PageSize > maxPageSize {
		opts.PageSize = maxPageSize
	}

	filter := store.EventFilter{
		Kind:          opts.Kind,
		MamID:         opts.MamID,
		LibraryItemID: opts.LibraryItemID,
		Limit:         opts.PageSize,
		Offset:        (opts.Page - 1) * opts.PageSize,
	}

	events, err := s.store.ListEvents(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountEvents(ctx, filter)
	if err != nil {
		return nil, err
	}

	totalPages := total / opts.PageSize
	if total%opts.PageSize > 0 {
		totalPages++
	}
	if events == nil {
		events = []*models.Event{}
	}

	return &ListResponse{
		Items:      events,
		Page:       opts.Page,
		PageSize:   opts.PageSize,
		TotalCount: total,
		TotalPages: totalPages,
	}, nil
}

// ListByLibraryItem returns every event of a library item, newest first.
func (s *Service) ListByLibraryItem(ctx context.Context, id string) ([]*models.Event, error) {
	return s.store.ListEvents(ctx, store.EventFilter{LibraryItemID: &id})
}

// ListByMamID returns every event of a tracker id, newest first.
func (s *Service) ListByMamID(ctx context.Context, mamID int64) ([]*models.Event, error) {
	return s.store.ListEvents(ctx, store.EventFilter{MamID: &mamID})
}
