// Package api serves the status and trigger JSON API.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/shelfgrab/shelfgrab/internal/api/handlers"
	"github.com/shelfgrab/shelfgrab/internal/config"
	"github.com/shelfgrab/shelfgrab/internal/history"
	"github.com/shelfgrab/shelfgrab/internal/scheduler"
	"github.com/shelfgrab/shelfgrab/internal/store"
	"github.com/shelfgrab/shelfgrab/internal/websocket"
)

// Deps are the services served by the API. Hub and Logs may be nil.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Store     *store.Store
	History   *history.Service
	Hub       *websocket.Hub
	Logs      LogsProvider
	Logger    zerolog.Logger
}

// Server handles HTTP requests for the shelfgrab API.
type Server struct {
	echo      *echo.Echo
	scheduler *scheduler.Scheduler
	store     *store.Store
	history   *history.Service
	hub       *websocket.Hub
	logs      LogsProvider
	logger    zerolog.Logger
	startedAt time.Time
}

// NewServer creates a new API server instance.
func NewServer(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		scheduler: deps.Scheduler,
		store:     deps.Store,
		history:   deps.History,
		hub:       deps.Hub,
		logs:      deps.Logs,
		logger:    deps.Logger.With().Str("component", "api").Logger(),
		startedAt: time.Now().UTC(),
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Debug().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))

	s.echo.Use(noStore)

	s.echo.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			// Skip compression for WebSocket
			return c.Request().Header.Get("Upgrade") == "websocket"
		},
	}))
}

// noStore disables caching of API responses.
func noStore(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if strings.HasPrefix(c.Request().URL.Path, "/api") {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		}
		return next(c)
	}
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	if s.hub != nil {
		s.echo.GET("/ws", s.hub.HandleWebSocket)
	}

	api := s.echo.Group("/api/v1")
	api.GET("/status", s.getStatus)

	sched := handlers.NewSchedulerHandler(s.scheduler)
	api.GET("/pipelines", sched.ListPipelines)
	api.POST("/pipelines/:id/run", sched.RunPipeline)
	api.GET("/tasks", sched.ListTasks)
	api.GET("/tasks/:id", sched.GetTask)
	api.POST("/tasks/:id/run", sched.RunTask)

	api.GET("/selected", s.listSelected)
	api.GET("/duplicates", s.listDuplicates)
	api.GET("/library", s.listLibrary)
	api.GET("/library/:id", s.getLibraryItem)

	history.NewHandlers(s.history).RegisterRoutes(api.Group("/history"))

	if s.logs != nil {
		api.GET("/logs", s.recentLogs)
		api.GET("/logs/download", s.downloadLog)
	}
}

// Start starts the HTTP server.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Version   string                `json:"version"`
	StartedAt time.Time             `json:"startedAt"`
	Pipelines []scheduler.RunStatus `json:"pipelines"`
	Counts    map[string]int        `json:"counts"`
}

func (s *Server) getStatus(c echo.Context) error {
	ctx := c.Request().Context()

	counts, err := s.counts(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, StatusResponse{
		Version:   config.Version,
		StartedAt: s.startedAt,
		Pipelines: handlers.SortedStatus(s.scheduler),
		Counts:    counts,
	})
}

func (s *Server) counts(ctx context.Context) (map[string]int, error) {
	pending, err := s.store.ListPendingSelected(ctx)
	if err != nil {
		return nil, err
	}
	active, err := s.store.CountActiveSelected(ctx)
	if err != nil {
		return nil, err
	}
	duplicates, err := s.store.CountDuplicates(ctx)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListLibraryItems(ctx)
	if err != nil {
		return nil, err
	}
	linked := 0
	for _, item := range items {
		if item.Linked() {
			linked++
		}
	}

	return map[string]int{
		"pending":    len(pending),
		"active":     active,
		"duplicates": duplicates,
		"library":    len(items),
		"linked":     linked,
	}, nil
}
