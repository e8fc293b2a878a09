package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/shelfgrab/shelfgrab/internal/config"
	"github.com/shelfgrab/shelfgrab/internal/history"
	"github.com/shelfgrab/shelfgrab/internal/models"
	"github.com/shelfgrab/shelfgrab/internal/store"
	"github.com/shelfgrab/shelfgrab/internal/tracker"
)

// Service is the downloader pipeline body. Each run hands pending
// selections to the download client while the account quota allows.
type Service struct {
	store   *store.Store
	history *history.Service
	tracker tracker.API
	client  Client
	cfg     config.DownloaderConfig
	logger  zerolog.Logger
}

// NewService creates a new downloader.
func NewService(st *store.Store, hist *history.Service, api tracker.API, client Client, cfg config.DownloaderConfig, logger zerolog.Logger) *Service {
	return &Service{
		store:   st,
		history: hist,
		tracker: api,
		client:  client,
		cfg:     cfg,
		logger:  logger.With().Str("component", "downloader").Logger(),
	}
}

// quota is the account state tracked across one run.
type quota struct {
	unsat      int
	unsatLimit int
	wedges     int
	active     int
}

// Run starts pending selections, oldest first.
func (s *Service) Run(ctx context.Context) error {
	status, err := s.tracker.UserStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read user status: %w", err)
	}

	pending, err := s.store.ListPendingSelected(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		s.logger.Debug().Msg("No pending selections")
		return nil
	}

	active, err := s.store.CountActiveSelected(ctx)
	if err != nil {
		return err
	}

	q := &quota{
		unsat:      status.UnsatCount,
		unsatLimit: status.UnsatLimit,
		wedges:     status.Wedges,
		active:     active,
	}

	s.logger.Info().
		Int("pending", len(pending)).
		Int("active", q.active).
		Int("unsat", q.unsat).
		Int("unsatLimit", q.unsatLimit).
		Int("wedges", q.wedges).
		Msg("Starting downloads")

	started := 0
	for _, sel := range pending {
		if s.cfg.MaxActiveDownloads > 0 && q.active >= s.cfg.MaxActiveDownloads {
			s.logger.Info().Int("active", q.active).Msg("Active download limit reached")
			break
		}

		ok, err := s.start(ctx, sel, q)
		if err != nil {
			return fmt.Errorf("torrent %d: %w", sel.MamID, err)
		}
		if ok {
			started++
		}
	}

	s.logger.Info().Int("started", started).Msg("Downloads started")
	return nil
}

// start hands one selection to the client. It reports false when the
// selection was skipped or retired.
func (s *Service) start(ctx context.Context, sel *models.SelectedTorrent, q *quota) (bool, error) {
	logger := s.logger.With().Int64("mamId", sel.MamID).Str("title", sel.Meta.Title).Logger()

	unsatBuffer := s.cfg.UnsatBuffer
	if sel.UnsatBuffer != nil {
		unsatBuffer = *sel.UnsatBuffer
	}
	if q.unsat+unsatBuffer >= q.unsatLimit {
		logger.Debug().
			Int("unsat", q.unsat).
			Int("unsatBuffer", unsatBuffer).
			Msg("Skipping: unsatisfied limit reached")
		return false, nil
	}

	wedgeBuffer := s.cfg.WedgeBuffer
	if sel.WedgeBuffer != nil {
		wedgeBuffer = *sel.WedgeBuffer
	}
	wantWedge := sel.Cost == models.CostUseWedge || sel.Cost == models.CostTryWedge
	if sel.Cost == models.CostUseWedge && q.wedges <= wedgeBuffer {
		logger.Debug().Int("wedges", q.wedges).Msg("Skipping: no wedge to spend")
		return false, nil
	}

	data, err := s.tracker.DownloadTorrent(ctx, sel.DlLink)
	if errors.Is(err, tracker.ErrTorrentNotFound) {
		return false, s.markRemoved(ctx, sel)
	}
	if err != nil {
		return false, fmt.Errorf("failed to download torrent file: %w", err)
	}

	tf, err := ParseTorrent(data)
	if err != nil {
		logger.Warn().Err(err).Msg("Skipping: invalid torrent file")
		return false, nil
	}

	wedgeUsed := false
	if wantWedge && q.wedges > wedgeBuffer {
		if err := s.tracker.UseWedge(ctx, sel.MamID); err != nil {
			if sel.Cost == models.CostUseWedge {
				logger.Warn().Err(err).Msg("Skipping: failed to use wedge")
				return false, nil
			}
			logger.Warn().Err(err).Msg("Failed to use wedge, downloading on ratio")
		} else {
			wedgeUsed = true
			q.wedges--
		}
	}

	err = s.client.Add(ctx, AddOptions{
		FileContent: data,
		Hash:        tf.Hash,
		Category:    sel.Category,
		Tags:        sel.Tags,
	})
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	var updated *models.SelectedTorrent
	err = s.store.Update(ctx, func(qs *store.Queries) error {
		cur, err := qs.GetSelected(ctx, sel.MamID)
		if err != nil {
			return err
		}
		cur.Hash = &tf.Hash
		cur.StartedAt = &now
		updated = cur
		return qs.UpsertSelected(ctx, cur)
	})
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn().Str("hash", tf.Hash).Msg("Selection was replaced while starting, torrent left in client")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record started download: %w", err)
	}

	q.active++
	q.unsat++

	if err := s.history.LogGrabbed(ctx, updated, wedgeUsed); err != nil {
		logger.Warn().Err(err).Msg("Failed to record grabbed event")
	}

	logger.Info().
		Str("hash", tf.Hash).
		Str("cost", string(sel.Cost)).
		Bool("wedgeUsed", wedgeUsed).
		Int64("size", tf.Size).
		Msg("Started download")
	return true, nil
}

// markRemoved retires a selection whose torrent is gone from the tracker.
func (s *Service) markRemoved(ctx context.Context, sel *models.SelectedTorrent) error {
	now := time.Now().UTC()
	err := s.store.Update(ctx, func(q *store.Queries) error {
		cur, err := q.GetSelected(ctx, sel.MamID)
		if err != nil {
			return err
		}
		cur.RemovedAt = &now
		return q.UpsertSelected(ctx, cur)
	})
	if err != nil {
		return fmt.Errorf("failed to retire removed torrent: %w", err)
	}

	s.logger.Warn().Int64("mamId", sel.MamID).Str("title", sel.Meta.Title).Msg("Torrent removed from tracker")
	if err := s.history.LogRemovedFromTracker(ctx, sel.MamID, nil); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to record removed event")
	}
	return nil
}
