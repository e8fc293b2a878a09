package tasks

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/shelfgrab/shelfgrab/internal/scheduler"
	"github.com/shelfgrab/shelfgrab/internal/store"
)

const SelectionSweepTaskID = "selection-sweep"

// removedSelectionTTL is how long a selection retired as removed from the
// tracker stays visible before it is deleted.
const removedSelectionTTL = 24 * time.Hour

// SelectionSweepTask deletes selections retired because their torrent
// disappeared from the tracker.
type SelectionSweepTask struct {
	store  *store.Store
	logger zerolog.Logger
}

// NewSelectionSweepTask creates a new sweep task.
func NewSelectionSweepTask(st *store.Store, logger zerolog.Logger) *SelectionSweepTask {
	return &SelectionSweepTask{
		store:  st,
		logger: logger.With().Str("task", SelectionSweepTaskID).Logger(),
	}
}

// Run deletes retired selections older than a day.
func (t *SelectionSweepTask) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-removedSelectionTTL)

	var deleted int64
	err := t.store.Update(ctx, func(q *store.Queries) error {
		var err error
		deleted, err = q.DeleteRemovedSelectedBefore(ctx, cutoff)
		return err
	})
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to sweep removed selections")
		return err
	}

	if deleted > 0 {
		t.logger.Info().Int64("deleted", deleted).Msg("Swept removed selections")
	}
	return nil
}

// RegisterSelectionSweepTask registers the sweep with the scheduler.
func RegisterSelectionSweepTask(sched *scheduler.Scheduler, st *store.Store, logger zerolog.Logger) error {
	task := NewSelectionSweepTask(st, logger)
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          SelectionSweepTaskID,
		Name:        "Removed Selection Sweep",
		Description: "Deletes selections whose torrent was removed from the tracker",
		Cron:        "0 * * * *",
		RunOnStart:  true,
		Func:        task.Run,
	})
}
