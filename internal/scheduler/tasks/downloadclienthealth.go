package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/shelfgrab/shelfgrab/internal/downloader"
	"github.com/shelfgrab/shelfgrab/internal/scheduler"
)

const DownloadClientHealthTaskID = "download-client-health"

// DownloadClientHealthTask checks that the download client is reachable.
type DownloadClientHealthTask struct {
	client downloader.Client
	logger zerolog.Logger

	lastErr error
}

// NewDownloadClientHealthTask creates a new download client health check task.
func NewDownloadClientHealthTask(client downloader.Client, logger zerolog.Logger) *DownloadClientHealthTask {
	return &DownloadClientHealthTask{
		client: client,
		logger: logger.With().Str("task", DownloadClientHealthTaskID).Logger(),
	}
}

// Run executes the download client health check. Only changes are logged
// above debug.
func (t *DownloadClientHealthTask) Run(ctx context.Context) error {
	err := t.client.Test(ctx)
	switch {
	case err != nil && t.lastErr == nil:
		t.logger.Warn().Err(err).Str("client", string(t.client.Type())).Msg("Download client health check failed")
	case err == nil && t.lastErr != nil:
		t.logger.Info().Str("client", string(t.client.Type())).Msg("Download client reachable again")
	default:
		t.logger.Debug().Err(err).Msg("Download client health check completed")
	}
	t.lastErr = err
	return err
}

// RegisterDownloadClientHealthTask registers the download client health check task with the scheduler.
func RegisterDownloadClientHealthTask(sched *scheduler.Scheduler, client downloader.Client, interval time.Duration, logger zerolog.Logger) error {
	task := NewDownloadClientHealthTask(client, logger)

	if interval == 0 {
		interval = 6 * time.Hour
	}

	// Convert interval to cron expression using @every directive
	cronExpr := fmt.Sprintf("@every %s", interval.String())

	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          DownloadClientHealthTaskID,
		Name:        "Download Client Health Check",
		Description: "Tests connectivity to the download client",
		Cron:        cronExpr,
		RunOnStart:  true,
		Func:        task.Run,
	})
}
