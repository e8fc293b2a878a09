// Package tasks wires pipeline bodies and maintenance jobs into the
// scheduler.
package tasks

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shelfgrab/shelfgrab/internal/autograb"
	"github.com/shelfgrab/shelfgrab/internal/config"
	"github.com/shelfgrab/shelfgrab/internal/decisioning"
	"github.com/shelfgrab/shelfgrab/internal/downloader"
	"github.com/shelfgrab/shelfgrab/internal/history"
	"github.com/shelfgrab/shelfgrab/internal/library"
	"github.com/shelfgrab/shelfgrab/internal/listimport"
	"github.com/shelfgrab/shelfgrab/internal/models"
	"github.com/shelfgrab/shelfgrab/internal/scheduler"
	"github.com/shelfgrab/shelfgrab/internal/store"
	"github.com/shelfgrab/shelfgrab/internal/tracker"
)

// Pipeline ids of the singleton pipelines.
const (
	DownloaderPipelineID = "downloader"
	CleanerPipelineID    = "cleaner"
)

// Deps are the services the pipelines are built from.
type Deps struct {
	Store      *store.Store
	History    *history.Service
	Engine     *decisioning.Engine
	Tracker    tracker.API
	Client     downloader.Client
	HTTPClient *http.Client
	Preferred  map[models.MediaType][]string
	Logger     zerolog.Logger
}

// PipelineID returns the id of a configured pipeline.
func PipelineID(kind scheduler.Kind, name string) string {
	return string(kind) + ":" + name
}

// RegisterPipelines adds every configured pipeline to the scheduler.
// Search pipelines wake the downloader after each run and linkers wake
// the cleaner after linking.
func RegisterPipelines(sched *scheduler.Scheduler, cfg *config.Config, deps Deps) error {
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	pageDelay := cfg.Tracker.PageDelay
	locks := sched.Locks()

	dl := downloader.NewService(deps.Store, deps.History, deps.Tracker, deps.Client, cfg.Downloader, deps.Logger)
	downloadTrigger, err := sched.AddPipeline(scheduler.Pipeline{
		ID:         DownloaderPipelineID,
		Name:       "Downloader",
		Kind:       scheduler.KindDownloader,
		Interval:   cfg.Downloader.Interval,
		RunOnStart: true,
		Run:        withLock(locks.For(scheduler.KindDownloader), dl.Run),
	})
	if err != nil {
		return err
	}

	roots := make([]string, 0, len(cfg.Library.Linkers))
	for _, lc := range cfg.Library.Linkers {
		roots = append(roots, lc.LibraryDir)
	}
	cleaner := library.NewCleaner(roots, deps.Store, deps.History, deps.Logger)
	cleanerTrigger, err := sched.AddPipeline(scheduler.Pipeline{
		ID:         CleanerPipelineID,
		Name:       "Cleaner",
		Kind:       scheduler.KindCleaner,
		Interval:   cfg.Cleaner.Interval,
		RunOnStart: true,
		Run:        withLock(locks.For(scheduler.KindCleaner), cleaner.Run),
	})
	if err != nil {
		return err
	}

	for _, gc := range cfg.Autograbbers {
		g := autograb.NewGrabber(gc, deps.Tracker, deps.Engine, locks.For(scheduler.KindAutograbber), pageDelay, deps.Logger)
		if _, err := sched.AddPipeline(scheduler.Pipeline{
			ID:         PipelineID(scheduler.KindAutograbber, gc.Name),
			Name:       gc.Name,
			Kind:       scheduler.KindAutograbber,
			Interval:   gc.Interval,
			RunOnStart: gc.RunOnStart,
			Run:        g.Run,
			Downstream: []*scheduler.Trigger{downloadTrigger},
		}); err != nil {
			return err
		}
	}

	for _, gc := range cfg.Snatchlists {
		g := autograb.NewSnatchlist(gc, deps.Tracker, deps.Engine, locks.For(scheduler.KindSnatchlist), pageDelay, deps.Logger)
		if _, err := sched.AddPipeline(scheduler.Pipeline{
			ID:         PipelineID(scheduler.KindSnatchlist, gc.Name),
			Name:       gc.Name,
			Kind:       scheduler.KindSnatchlist,
			Interval:   gc.Interval,
			RunOnStart: gc.RunOnStart,
			Run:        g.Run,
			Downstream: []*scheduler.Trigger{downloadTrigger},
		}); err != nil {
			return err
		}
	}

	for _, lc := range cfg.ListImports {
		imp := listimport.NewImporter(lc, deps.Tracker, deps.Engine, locks.For(scheduler.KindListImport), httpClient, pageDelay, deps.Logger)
		if _, err := sched.AddPipeline(scheduler.Pipeline{
			ID:         PipelineID(scheduler.KindListImport, lc.Name),
			Name:       lc.Name,
			Kind:       scheduler.KindListImport,
			Interval:   lc.Interval,
			RunOnStart: lc.RunOnStart,
			Run:        imp.Run,
			Downstream: []*scheduler.Trigger{downloadTrigger},
		}); err != nil {
			return err
		}
	}

	for _, lc := range cfg.Library.Linkers {
		linker := library.NewLinker(lc, deps.Store, deps.History, deps.Client, deps.Preferred, cleanerTrigger, deps.Logger)
		if _, err := sched.AddPipeline(scheduler.Pipeline{
			ID:         PipelineID(scheduler.KindLinker, lc.Name),
			Name:       lc.Name,
			Kind:       scheduler.KindLinker,
			Interval:   cfg.Library.LinkInterval,
			RunOnStart: true,
			Run:        withLock(locks.For(scheduler.KindLinker), linker.Run),
		}); err != nil {
			return fmt.Errorf("linker %s: %w", lc.Name, err)
		}
	}

	return nil
}

// withLock serializes a body with the other pipelines of its class.
func withLock(lock sync.Locker, fn scheduler.TaskFunc) scheduler.TaskFunc {
	return func(ctx context.Context) error {
		lock.Lock()
		defer lock.Unlock()
		return fn(ctx)
	}
}
