package history

import (
	"context"
	"time"

	"github.com/shelfgrab/shelfgrab/internal/store"
)

// RetentionSettings contains history retention configuration.
type RetentionSettings struct {
	Enabled       bool `json:"enabled"`
	RetentionDays int  `json:"retentionDays"`
}

// DefaultRetentionSettings returns default retention settings.
func DefaultRetentionSettings() RetentionSettings {
	return RetentionSettings{
		Enabled:       true,
		RetentionDays: 365,
	}
}

// SetRetentionDays configures retention; 0 keeps events forever.
func (s *Service) SetRetentionDays(days int) {
	s.retention = RetentionSettings{Enabled: days > 0, RetentionDays: days}
}

// RetentionSettings returns the active retention settings.
func (s *Service) RetentionSettings() RetentionSettings {
	return s.retention
}

// CleanupOldEntries deletes events older than the retention period.
func (s *Service) CleanupOldEntries(ctx context.Context) error {
	if !s.retention.Enabled || s.retention.RetentionDays <= 0 {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -s.retention.RetentionDays)

	var deleted int64
	err := s.store.Update(ctx, func(q *store.Queries) error {
		var err error
		deleted, err = q.DeleteEventsBefore(ctx, cutoff)
		return err
	})
	if err != nil {
		return err
	}

	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Int("retentionDays", s.retention.RetentionDays).Msg("Old events removed")
	}
	return nil
}
