// Package scheduler runs the configured pipelines and the cron maintenance
// tasks. Each pipeline is a loop that sleeps until its interval elapses or
// its trigger fires, runs its body and records the outcome.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// TaskFunc is the function signature for pipeline bodies and scheduled tasks.
type TaskFunc func(ctx context.Context) error

// Broadcaster receives pipeline lifecycle events.
type Broadcaster interface {
	Broadcast(msgType string, payload any) error
}

// TaskConfig contains configuration for a scheduled task.
type TaskConfig struct {
	ID          string
	Name        string
	Description string
	Cron        string // Cron expression: "0 0 * * *" for midnight daily
	Func        TaskFunc
	RunOnStart  bool // Execute immediately on startup
}

// TaskInfo contains information about a scheduled task for API responses.
type TaskInfo struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Cron        string     `json:"cron"`
	LastRun     *time.Time `json:"lastRun,omitempty"`
	NextRun     *time.Time `json:"nextRun,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	Running     bool       `json:"running"`
}

// taskEntry holds internal task state.
type taskEntry struct {
	config    TaskConfig
	job       gocron.Job
	lastRun   *time.Time
	lastError string
	running   bool
}

// Scheduler manages pipelines and background scheduled tasks.
type Scheduler struct {
	gocron      gocron.Scheduler
	logger      zerolog.Logger
	locks       *ClassLocks
	broadcaster Broadcaster

	mu        sync.Mutex
	tasks     map[string]*taskEntry
	pipelines map[string]*pipelineEntry
	order     []string
	status    map[string]*RunStatus
	started   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	taskWg sync.WaitGroup
}

// New creates a new scheduler.
func New(logger zerolog.Logger) (*Scheduler, error) {
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		gocron:    gs,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		locks:     NewClassLocks(),
		tasks:     make(map[string]*taskEntry),
		pipelines: make(map[string]*pipelineEntry),
		status:    make(map[string]*RunStatus),
	}, nil
}

// SetBroadcaster sets the receiver of pipeline events.
func (s *Scheduler) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// Locks returns the class locks handed to engine-bearing pipeline bodies.
func (s *Scheduler) Locks() *ClassLocks {
	return s.locks
}

// RegisterTask registers a new scheduled task.
func (s *Scheduler) RegisterTask(config TaskConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[config.ID]; exists {
		return fmt.Errorf("task with ID %q already registered", config.ID)
	}

	taskFunc := func() {
		s.executeTask(config.ID)
	}

	job, err := s.gocron.NewJob(
		gocron.CronJob(config.Cron, false),
		gocron.NewTask(taskFunc),
		gocron.WithName(config.Name),
		gocron.WithTags(config.ID),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create job for task %q: %w", config.ID, err)
	}

	s.tasks[config.ID] = &taskEntry{
		config: config,
		job:    job,
	}

	s.logger.Info().
		Str("id", config.ID).
		Str("name", config.Name).
		Str("cron", config.Cron).
		Bool("runOnStart", config.RunOnStart).
		Msg("Registered task")

	return nil
}

// executeTask runs a task and updates its state.
func (s *Scheduler) executeTask(taskID string) {
	s.mu.Lock()
	entry, exists := s.tasks[taskID]
	if !exists {
		s.mu.Unlock()
		return
	}
	entry.running = true
	s.mu.Unlock()

	startTime := time.Now()
	s.logger.Info().
		Str("id", taskID).
		Str("name", entry.config.Name).
		Msg("Starting task")

	err := runBody(context.Background(), entry.config.Func)

	s.mu.Lock()
	entry.running = false
	entry.lastRun = &startTime
	entry.lastError = ""
	if err != nil {
		entry.lastError = err.Error()
	}
	s.mu.Unlock()

	duration := time.Since(startTime)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("id", taskID).
			Str("name", entry.config.Name).
			Dur("duration", duration).
			Msg("Task failed")
	} else {
		s.logger.Info().
			Str("id", taskID).
			Str("name", entry.config.Name).
			Dur("duration", duration).
			Msg("Task completed")
	}
}

// Start starts the cron scheduler, runs tasks configured with RunOnStart
// and launches one loop per pipeline. Cancelling ctx stops the loops from
// waiting for further runs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	tasksToRun := make([]string, 0)
	for id, entry := range s.tasks {
		if entry.config.RunOnStart {
			tasksToRun = append(tasksToRun, id)
		}
	}
	entries := make([]*pipelineEntry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, s.pipelines[id])
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info().
		Int("pipelines", len(entries)).
		Int("tasks", len(s.tasks)).
		Msg("Starting scheduler")

	s.gocron.Start()

	for _, taskID := range tasksToRun {
		s.taskWg.Add(1)
		go func() {
			defer s.taskWg.Done()
			s.executeTask(taskID)
		}()
	}

	for _, entry := range entries {
		s.wg.Add(1)
		go s.loop(loopCtx, entry)
	}

	return nil
}

// Stop stops waiting for new runs and blocks until in-flight pipeline runs
// and tasks have finished.
func (s *Scheduler) Stop() error {
	s.logger.Info().Msg("Stopping scheduler")

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	s.wg.Wait()
	s.taskWg.Wait()
	return s.gocron.Shutdown()
}

// RunNow manually triggers a task to run immediately.
func (s *Scheduler) RunNow(taskID string) error {
	s.mu.Lock()
	entry, exists := s.tasks[taskID]
	running := exists && entry.running
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}

	if running {
		return fmt.Errorf("task %q is already running", taskID)
	}

	s.taskWg.Add(1)
	go func() {
		defer s.taskWg.Done()
		s.executeTask(taskID)
	}()
	return nil
}

// ListTasks returns information about all registered tasks, ordered by id.
func (s *Scheduler) ListTasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]TaskInfo, 0, len(s.tasks))
	for _, entry := range s.tasks {
		tasks = append(tasks, entry.info())
	}
	slices.SortFunc(tasks, func(a, b TaskInfo) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	return tasks
}

// GetTask returns information about a specific task.
func (s *Scheduler) GetTask(taskID string) (*TaskInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("task %q not found", taskID)
	}

	info := entry.info()
	return &info, nil
}

func (e *taskEntry) info() TaskInfo {
	info := TaskInfo{
		ID:          e.config.ID,
		Name:        e.config.Name,
		Description: e.config.Description,
		Cron:        e.config.Cron,
		LastRun:     e.lastRun,
		LastError:   e.lastError,
		Running:     e.running,
	}

	if nextRun, err := e.job.NextRun(); err == nil {
		info.NextRun = &nextRun
	}
	return info
}
