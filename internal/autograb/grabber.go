// Package autograb runs configured tracker searches through the selection
// engine. Autograbbers search the catalog; snatchlists walk the user's own
// snatched list to keep the library catalog current.
package autograb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shelfgrab/shelfgrab/internal/config"
	"github.com/shelfgrab/shelfgrab/internal/decisioning"
	"github.com/shelfgrab/shelfgrab/internal/tracker"
)

// Grabber is one autograbber or snatchlist pipeline body.
type Grabber struct {
	cfg       config.GrabberConfig
	query     tracker.Query
	client    tracker.SearchClient
	engine    *decisioning.Engine
	lock      sync.Locker
	pageDelay time.Duration
	logger    zerolog.Logger
}

// NewGrabber creates an autograbber. lock is the class lock shared by all
// autograbbers.
func NewGrabber(cfg config.GrabberConfig, client tracker.SearchClient, engine *decisioning.Engine, lock sync.Locker, pageDelay time.Duration, logger zerolog.Logger) *Grabber {
	return &Grabber{
		cfg:       cfg,
		query:     QueryFromConfig(cfg.Query),
		client:    client,
		engine:    engine,
		lock:      lock,
		pageDelay: pageDelay,
		logger: logger.With().
			Str("component", "autograbber").
			Str("grabber", cfg.Name).
			Logger(),
	}
}

// NewSnatchlist creates a grabber over the user's snatched list. The cost
// defaults to cataloging without downloads.
func NewSnatchlist(cfg config.GrabberConfig, client tracker.SearchClient, engine *decisioning.Engine, lock sync.Locker, pageDelay time.Duration, logger zerolog.Logger) *Grabber {
	if cfg.Cost == "" {
		cfg.Cost = config.CostMetadataOnlyAdd
	}
	g := NewGrabber(cfg, client, engine, lock, pageDelay, logger)
	g.query.Kind = tracker.KindSnatched
	g.logger = logger.With().
		Str("component", "snatchlist").
		Str("grabber", cfg.Name).
		Logger()
	return g
}

// Name returns the configured name.
func (g *Grabber) Name() string {
	return g.cfg.Name
}

// Run searches the tracker and feeds every result page to the engine.
func (g *Grabber) Run(ctx context.Context) error {
	g.logger.Info().
		Str("query", g.query.Text).
		Str("kind", g.query.Kind).
		Int("maxPages", g.cfg.MaxPages).
		Msg("Starting search")

	candidates := tracker.Paginate(ctx, g.client, g.query, g.cfg.MaxPages, g.pageDelay)
	accepted, err := g.engine.SelectTorrents(ctx, candidates, g.Request())
	if err != nil {
		return fmt.Errorf("grabber %s: %w", g.cfg.Name, err)
	}

	g.logger.Info().Int("accepted", accepted).Msg("Search finished")
	return nil
}

// Request builds the engine request of this grabber.
func (g *Grabber) Request() decisioning.Request {
	return decisioning.Request{
		Cost:        decisioning.CostPolicy(g.cfg.Cost),
		UnsatBuffer: g.cfg.UnsatBuffer,
		WedgeBuffer: g.cfg.WedgeBuffer,
		Category:    g.cfg.Category,
		DryRun:      g.cfg.DryRun,
		MaxAccept:   g.cfg.MaxAccept,
		Grabber:     g.cfg.Name,
		Lock:        g.lock,
	}
}

// QueryFromConfig converts a configured filter into a tracker query.
func QueryFromConfig(qc config.QueryConfig) tracker.Query {
	return tracker.Query{
		Kind:       qc.Kind,
		Text:       qc.Text,
		SearchIn:   qc.SearchIn,
		Categories: qc.Categories,
		Languages:  qc.Languages,
		Flags:      qc.Flags,
		MinSize:    qc.MinSize,
		MaxSize:    qc.MaxSize,
	}
}
