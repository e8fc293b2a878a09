package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

// ErrPipelineNotFound is returned for an unknown pipeline id.
var ErrPipelineNotFound = errors.New("pipeline not found")

// Kind is a pipeline class.
type Kind string

const (
	KindAutograbber Kind = "autograbber"
	KindSnatchlist  Kind = "snatchlist"
	KindListImport  Kind = "list_import"
	KindDownloader  Kind = "downloader"
	KindLinker      Kind = "linker"
	KindCleaner     Kind = "cleaner"
)

// Pipeline is a recurring body woken by its interval or its trigger.
type Pipeline struct {
	ID   string
	Name string
	Kind Kind
	// Interval 0 means the pipeline only runs when triggered.
	Interval   time.Duration
	RunOnStart bool
	Run        TaskFunc
	// Downstream triggers are fired after a successful run.
	Downstream []*Trigger
}

// RunResult is the outcome of a finished run.
type RunResult struct {
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	FinishedAt time.Time     `json:"finishedAt"`
	Duration   time.Duration `json:"duration"`

	err error
}

// Err returns the error of a failed run.
func (r *RunResult) Err() error {
	return r.err
}

// RunStatus is the status snapshot of one pipeline. Result is nil while a
// run is in progress and before the first run.
type RunStatus struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Kind      Kind          `json:"kind"`
	Interval  time.Duration `json:"interval"`
	Running   bool          `json:"running"`
	Runs      int           `json:"runs"`
	StartedAt *time.Time    `json:"startedAt,omitempty"`
	Result    *RunResult    `json:"result,omitempty"`
}

type pipelineEntry struct {
	Pipeline
	trigger *Trigger
}

// AddPipeline registers a pipeline and returns its trigger. Pipelines must
// be added before Start.
func (s *Scheduler) AddPipeline(p Pipeline) (*Trigger, error) {
	if p.ID == "" {
		return nil, errors.New("pipeline id is required")
	}
	if p.Run == nil {
		return nil, fmt.Errorf("pipeline %q has no body", p.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil, fmt.Errorf("cannot add pipeline %q after start", p.ID)
	}
	if _, exists := s.pipelines[p.ID]; exists {
		return nil, fmt.Errorf("pipeline with ID %q already registered", p.ID)
	}
	if p.Name == "" {
		p.Name = p.ID
	}

	entry := &pipelineEntry{Pipeline: p, trigger: NewTrigger()}
	s.pipelines[p.ID] = entry
	s.order = append(s.order, p.ID)
	s.status[p.ID] = &RunStatus{ID: p.ID, Name: p.Name, Kind: p.Kind, Interval: p.Interval}

	s.logger.Info().
		Str("pipeline", p.ID).
		Str("kind", string(p.Kind)).
		Dur("interval", p.Interval).
		Bool("runOnStart", p.RunOnStart).
		Msg("Registered pipeline")

	return entry.trigger, nil
}

// Trigger requests a run of a pipeline. Repeated calls while a run is
// pending coalesce into one run.
func (s *Scheduler) Trigger(id string) error {
	s.mu.Lock()
	entry, ok := s.pipelines[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPipelineNotFound, id)
	}
	entry.trigger.Fire()
	return nil
}

// TriggerFor returns the trigger of a pipeline.
func (s *Scheduler) TriggerFor(id string) (*Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pipelines[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, id)
	}
	return entry.trigger, nil
}

// Status returns a snapshot of every pipeline's status.
func (s *Scheduler) Status() map[string]RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]RunStatus, len(s.status))
	for id, st := range s.status {
		snapshot := *st
		if st.Result != nil {
			r := *st.Result
			snapshot.Result = &r
		}
		out[id] = snapshot
	}
	return out
}

// loop waits for the interval or the trigger and runs the body. Cancelling
// ctx interrupts the wait but never a running body.
func (s *Scheduler) loop(ctx context.Context, p *pipelineEntry) {
	defer s.wg.Done()

	if p.RunOnStart {
		p.trigger.Fire()
	}

	for {
		var timer *time.Timer
		var timeout <-chan time.Time
		if p.Interval > 0 {
			timer = time.NewTimer(p.Interval)
			timeout = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-timeout:
		case <-p.trigger.C():
		}
		if timer != nil {
			timer.Stop()
		}

		s.runPipeline(context.WithoutCancel(ctx), p)
	}
}

func (s *Scheduler) runPipeline(ctx context.Context, p *pipelineEntry) {
	startTime := time.Now()
	s.mu.Lock()
	st := s.status[p.ID]
	st.Running = true
	st.StartedAt = &startTime
	st.Result = nil
	s.mu.Unlock()

	logger := s.logger.With().Str("pipeline", p.ID).Logger()
	logger.Debug().Msg("Starting pipeline run")
	s.broadcast("pipeline:started", map[string]any{"id": p.ID, "kind": p.Kind})

	err := runBody(ctx, p.Run)

	duration := time.Since(startTime)
	result := &RunResult{
		Success:    err == nil,
		FinishedAt: time.Now(),
		Duration:   duration,
		err:        err,
	}
	if err != nil {
		result.Error = err.Error()
	}

	s.mu.Lock()
	st.Running = false
	st.Runs++
	st.Result = result
	s.mu.Unlock()

	if err != nil {
		logger.Error().Err(err).Dur("duration", duration).Msg("Pipeline run failed")
	} else {
		logger.Info().Dur("duration", duration).Msg("Pipeline run completed")
		for _, t := range p.Downstream {
			t.Fire()
		}
	}
	s.broadcast("pipeline:completed", map[string]any{
		"id":      p.ID,
		"kind":    p.Kind,
		"success": result.Success,
		"error":   result.Error,
	})
}

// runBody turns a panicking body into a failed run.
func runBody(ctx context.Context, fn TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

func (s *Scheduler) broadcast(msgType string, payload any) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Broadcast(msgType, payload); err != nil {
		s.logger.Warn().Err(err).Str("type", msgType).Msg("Failed to broadcast pipeline event")
	}
}
