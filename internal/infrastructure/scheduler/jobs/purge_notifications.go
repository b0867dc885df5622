package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PURGE NOTIFICATIONS JOB
// ══════════════════════════════════════════════════════════════════════════════

// PurgeNotificationsJob deletes notifications that left PENDING and have not
// changed for the retention period. Unread SENT notifications age out too.
type PurgeNotificationsJob struct {
	repo      notification.NotificationRepository
	clock     timeutil.Clock
	logger    *zap.Logger
	retention time.Duration
}

// NewPurgeNotificationsJob creates the job. retentionDays <= 0 falls back to
// notification.DefaultAutoArchiveDays.
func NewPurgeNotificationsJob(
	repo notification.NotificationRepository,
	clock timeutil.Clock,
	log *zap.Logger,
	retentionDays int,
) *PurgeNotificationsJob {
	if retentionDays <= 0 {
		retentionDays = notification.DefaultAutoArchiveDays
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PurgeNotificationsJob{
		repo:      repo,
		clock:     clock,
		logger:    log.With(zap.String("job", "purge_notifications")),
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Name returns the job name.
func (j *PurgeNotificationsJob) Name() string { return "purge_notifications" }

// Description returns a human-readable description.
func (j *PurgeNotificationsJob) Description() string {
	return "Deletes finalized notifications older than the retention period"
}

// Cutoff returns the update time before which finalized notifications are purged.
func (j *PurgeNotificationsJob) Cutoff() time.Time {
	return j.clock.Now().Add(-j.retention)
}

// Run executes the job.
func (j *PurgeNotificationsJob) Run(ctx context.Context) error {
	cutoff := j.Cutoff()
	deleted, err := j.repo.DeleteFinalizedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge_notifications: %w", err)
	}
	j.logger.Info("finalized notifications purged",
		zap.Int64("deleted", deleted),
		zap.Time("cutoff", cutoff),
	)
	return nil
}
