// Package listimport imports reading lists published as RSS shelves. Each
// shelf entry is searched on the tracker and the results go through the
// selection engine like any other search.
package listimport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shelfgrab/shelfgrab/internal/config"
	"github.com/shelfgrab/shelfgrab/internal/decisioning"
	"github.com/shelfgrab/shelfgrab/internal/tracker"
)

const maxFeedSize = 5 << 20

// Importer is one list import pipeline body.
type Importer struct {
	cfg        config.ListImportConfig
	client     tracker.SearchClient
	engine     *decisioning.Engine
	lock       sync.Locker
	httpClient *http.Client
	pageDelay  time.Duration
	logger     zerolog.Logger
}

// NewImporter creates a list importer. lock is the class lock shared by
// all list imports; it is held for the whole run.
func NewImporter(cfg config.ListImportConfig, client tracker.SearchClient, engine *decisioning.Engine, lock sync.Locker, httpClient *http.Client, pageDelay time.Duration, logger zerolog.Logger) *Importer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Importer{
		cfg:        cfg,
		client:     client,
		engine:     engine,
		lock:       lock,
		httpClient: httpClient,
		pageDelay:  pageDelay,
		logger: logger.With().
			Str("component", "listimport").
			Str("list", cfg.Name).
			Logger(),
	}
}

// Name returns the configured name.
func (i *Importer) Name() string {
	return i.cfg.Name
}

// Run fetches the shelf and searches every entry.
func (i *Importer) Run(ctx context.Context) error {
	if i.lock != nil {
		i.lock.Lock()
		defer i.lock.Unlock()
	}

	entries, err := i.fetch(ctx)
	if err != nil {
		return fmt.Errorf("list %s: %w", i.cfg.Name, err)
	}
	i.logger.Info().Int("entries", len(entries)).Msg("Fetched shelf")

	limit := i.cfg.MaxAccept
	accepted := 0
	for n, entry := range entries {
		if limit != nil && accepted >= *limit {
			i.logger.Info().Int("accepted", accepted).Msg("Accept limit reached")
			break
		}
		if n > 0 && i.pageDelay > 0 {
			if err := sleep(ctx, i.pageDelay); err != nil {
				return err
			}
		}

		req := i.Request()
		if limit != nil {
			remaining := *limit - accepted
			req.MaxAccept = &remaining
		}

		query := tracker.Query{Text: entry.SearchText(), Categories: i.cfg.Categories}
		candidates := tracker.Paginate(ctx, i.client, query, 1, 0)
		count, err := i.engine.SelectTorrents(ctx, candidates, req)
		if err != nil {
			return fmt.Errorf("list %s: entry %q: %w", i.cfg.Name, entry.Title, err)
		}
		accepted += count

		i.logger.Debug().
			Str("title", entry.Title).
			Str("author", entry.Author).
			Int("accepted", count).
			Msg("Searched shelf entry")
	}

	i.logger.Info().Int("accepted", accepted).Msg("List import finished")
	return nil
}

// Request builds the engine request of this list. The class lock is held
// by Run, so the request carries none.
func (i *Importer) Request() decisioning.Request {
	return decisioning.Request{
		Cost:        decisioning.CostPolicy(i.cfg.Cost),
		UnsatBuffer: i.cfg.UnsatBuffer,
		WedgeBuffer: i.cfg.WedgeBuffer,
		Category:    i.cfg.Category,
		DryRun:      i.cfg.DryRun,
		MaxAccept:   i.cfg.MaxAccept,
		Grabber:     i.cfg.Name,
	}
}

func (i *Importer) fetch(ctx context.Context) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch shelf: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch shelf: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read shelf: %w", err)
	}
	return ParseFeed(data)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
