package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
	"github.com/alem-hub/notification-engine/pkg/logger"
	"github.com/alem-hub/notification-engine/pkg/retry"
	"github.com/alem-hub/notification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPIRE NOTIFICATIONS JOB
// ══════════════════════════════════════════════════════════════════════════════

// ExpireNotificationsJob moves pending notifications past their expiry to
// EXPIRED and publishes NotificationExpired for each.
type ExpireNotificationsJob struct {
	repo      notification.NotificationRepository
	publisher shared.EventPublisher
	clock     timeutil.Clock
	logger    *zap.Logger
	batchSize int

	lastExpired atomic.Int64
}

// NewExpireNotificationsJob creates the job. batchSize <= 0 means 500.
func NewExpireNotificationsJob(
	repo notification.NotificationRepository,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *zap.Logger,
	batchSize int,
) *ExpireNotificationsJob {
	if batchSize <= 0 {
		batchSize = 500
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ExpireNotificationsJob{
		repo:      repo,
		publisher: publisher,
		clock:     clock,
		logger:    log.With(zap.String("job", "expire_notifications")),
		batchSize: batchSize,
	}
}

// Name returns the job name.
func (j *ExpireNotificationsJob) Name() string { return "expire_notifications" }

// Description returns a human-readable description.
func (j *ExpireNotificationsJob) Description() string {
	return "Marks pending notifications past their expiry as expired"
}

// Run executes the job. Individual failures are logged and counted; the run
// fails only when the lookup fails.
func (j *ExpireNotificationsJob) Run(ctx context.Context) error {
	now := j.clock.Now()
	expired, err := j.repo.FindExpired(ctx, now, j.batchSize)
	if err != nil {
		return fmt.Errorf("expire_notifications: find expired: %w", err)
	}

	var done, failed int
	for _, n := range expired {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := j.expire(ctx, n, now); err != nil {
			failed++
			j.logger.Warn("cannot expire notification", logger.NotificationID(n.ID().String()), zap.Error(err))
			continue
		}
		done++
	}
	j.lastExpired.Store(int64(done))

	if len(expired) > 0 {
		j.logger.Info("notifications expired", zap.Int("expired", done), zap.Int("failed", failed))
	}
	return nil
}

// expire applies MarkAsExpired, reloading on version conflicts. A notification
// that left PENDING in the meantime is skipped.
func (j *ExpireNotificationsJob) expire(ctx context.Context, n *notification.Notification, now time.Time) error {
	current := n
	return retry.ConflictRetrier(shared.IsOptimisticLock).Do(ctx, func(ctx context.Context) error {
		if current == nil {
			fresh, err := j.repo.FindByID(ctx, n.ID())
			if err != nil {
				return retry.Permanent(err)
			}
			current = fresh
		}
		if current.Status() != notification.StatusPending {
			return nil
		}
		if err := current.MarkAsExpired(now); err != nil {
			return retry.Permanent(err)
		}
		if err := j.repo.Save(ctx, current); err != nil {
			current = nil
			return err
		}
		for _, e := range current.PullEvents() {
			if j.publisher == nil {
				break
			}
			if err := j.publisher.Publish(e); err != nil {
				j.logger.Warn("event publish failed", zap.String("event_type", string(e.EventType())), zap.Error(err))
			}
		}
		return nil
	})
}

// LastExpired returns how many notifications the last run expired.
func (j *ExpireNotificationsJob) LastExpired() int64 {
	return j.lastExpired.Load()
}
