package tasks

import (
	"github.com/shelfgrab/shelfgrab/internal/history"
	"github.com/shelfgrab/shelfgrab/internal/scheduler"
)

const HistoryCleanupTaskID = "history-cleanup"

// RegisterHistoryCleanupTask registers the history cleanup task with the scheduler.
// It deletes events older than the configured retention period.
func RegisterHistoryCleanupTask(sched *scheduler.Scheduler, historyService *history.Service, cron string) error {
	if cron == "" {
		cron = "30 3 * * *"
	}
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          HistoryCleanupTaskID,
		Name:        "History Cleanup",
		Description: "Deletes history events older than the configured retention period",
		Cron:        cron,
		RunOnStart:  false,
		Func:        historyService.CleanupOldEntries,
	})
}
