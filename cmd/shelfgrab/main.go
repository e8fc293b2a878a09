package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shelfgrab/shelfgrab/internal/api"
	"github.com/shelfgrab/shelfgrab/internal/api/handlers"
	"github.com/shelfgrab/shelfgrab/internal/config"
	"github.com/shelfgrab/shelfgrab/internal/database"
	"github.com/shelfgrab/shelfgrab/internal/decisioning"
	"github.com/shelfgrab/shelfgrab/internal/downloader"
	"github.com/shelfgrab/shelfgrab/internal/history"
	"github.com/shelfgrab/shelfgrab/internal/library"
	"github.com/shelfgrab/shelfgrab/internal/logger"
	"github.com/shelfgrab/shelfgrab/internal/scheduler"
	"github.com/shelfgrab/shelfgrab/internal/scheduler/tasks"
	"github.com/shelfgrab/shelfgrab/internal/startup"
	"github.com/shelfgrab/shelfgrab/internal/store"
	"github.com/shelfgrab/shelfgrab/internal/tracker"
	"github.com/shelfgrab/shelfgrab/internal/websocket"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *printConfig {
		out, err := cfg.YAML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to render config: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
		Streaming:  true,
		BufferSize: 1000,
	})
	defer log.Close()

	log.Info().
		Str("version", config.Version).
		Str("logLevel", cfg.Logging.Level).
		Msg("starting shelfgrab")

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	log.Info().Msg("running database migrations")
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	st := store.NewStore(db.Conn())

	hist := history.NewService(st, log.Logger)
	hist.SetRetentionDays(cfg.History.RetentionDays)

	rules, err := decisioning.ConfigFromSearch(cfg.Search)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid search rules")
	}

	var sidecarLinkers []string
	for _, lc := range cfg.Library.Linkers {
		if lc.WriteSidecar {
			sidecarLinkers = append(sidecarLinkers, lc.Name)
		}
	}
	var sinks []decisioning.MetadataSink
	if len(sidecarLinkers) > 0 {
		sinks = append(sinks, library.NewSidecar(log.Logger, sidecarLinkers...))
	}
	engine := decisioning.NewEngine(st, hist, sinks, rules, log.Logger)

	client, err := downloader.NewClient(cfg.QBittorrent)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create download client")
	}

	sched, err := scheduler.New(log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}

	hub := websocket.NewHub(log.Logger)
	hub.SetSnapshot(func() any { return handlers.SortedStatus(sched) })
	sched.SetBroadcaster(hub)
	log.SetBroadcastHub(hub)

	err = tasks.RegisterPipelines(sched, cfg, tasks.Deps{
		Store:      st,
		History:    hist,
		Engine:     engine,
		Tracker:    tracker.NewClient(cfg.Tracker, log.Logger),
		Client:     client,
		HTTPClient: &http.Client{Timeout: cfg.Tracker.Timeout},
		Preferred:  rules.Preferred,
		Logger:     log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register pipelines")
	}
	if err := tasks.RegisterHistoryCleanupTask(sched, hist, cfg.History.CleanupCron); err != nil {
		log.Fatal().Err(err).Msg("failed to register history cleanup task")
	}
	if err := tasks.RegisterSelectionSweepTask(sched, st, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("failed to register selection sweep task")
	}
	if err := tasks.RegisterDownloadClientHealthTask(sched, client, 0, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("failed to register download client health task")
	}

	server := api.NewServer(api.Deps{
		Scheduler: sched,
		Store:     st,
		History:   hist,
		Hub:       hub,
		Logs:      log,
		Logger:    log.Logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := startup.WaitFor(gctx, "download client", startup.DefaultBackoff(), client.Test, log.Logger); err != nil {
			log.Warn().Err(err).Msg("download client unavailable, starting pipelines anyway")
		}
		if err := sched.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return sched.Stop()
	})
	g.Go(func() error {
		if err := server.Start(cfg.Server.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("shutdown with error")
	}
	log.Info().Msg("server stopped")
}
