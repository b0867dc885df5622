// Package jobs contains the scheduled jobs of the notification engine.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/infrastructure/messaging"
	"github.com/alem-hub/notification-engine/pkg/logger"
	"github.com/alem-hub/notification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCH PENDING JOB
// ══════════════════════════════════════════════════════════════════════════════

// Dispatcher delivers a notification to its channels and persists the outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *notification.Notification) (notification.DispatchOutcome, error)
}

// DispatchPendingJob picks up pending notifications that are due: scheduled
// ones whose time has come, and immediate ones whose background dispatch
// never completed (process restart, enqueue failure).
type DispatchPendingJob struct {
	repo       notification.NotificationRepository
	dispatcher Dispatcher
	clock      timeutil.Clock
	logger     *zap.Logger
	config     DispatchPendingConfig

	lastRunStats atomic.Value // *DispatchPendingStats
}

// DispatchPendingConfig contains configuration for the job.
type DispatchPendingConfig struct {
	// BatchSize limits how many notifications one run loads.
	BatchSize int

	// Concurrency is the number of notifications dispatched in parallel.
	Concurrency int

	// MinAge skips unscheduled notifications created less than MinAge ago;
	// those are normally still being dispatched by the instance that created them.
	MinAge time.Duration

	// Timeout is the maximum duration of one run.
	Timeout time.Duration
}

// DefaultDispatchPendingConfig returns sensible defaults.
func DefaultDispatchPendingConfig() DispatchPendingConfig {
	return DispatchPendingConfig{
		BatchSize:   200,
		Concurrency: 8,
		MinAge:      time.Minute,
		Timeout:     2 * time.Minute,
	}
}

// DispatchPendingStats contains statistics from one run.
type DispatchPendingStats struct {
	StartedAt  time.Time
	Duration   time.Duration
	Found      int
	Skipped    int
	Dispatched int
	Sent       int
	Failed     int
	Errors     int
}

// NewDispatchPendingJob creates the job.
func NewDispatchPendingJob(
	repo notification.NotificationRepository,
	dispatcher Dispatcher,
	clock timeutil.Clock,
	log *zap.Logger,
	config DispatchPendingConfig,
) *DispatchPendingJob {
	def := DefaultDispatchPendingConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DispatchPendingJob{
		repo:       repo,
		dispatcher: dispatcher,
		clock:      clock,
		logger:     log.With(zap.String("job", "dispatch_pending")),
		config:     config,
	}
}

// Name returns the job name.
func (j *DispatchPendingJob) Name() string { return "dispatch_pending" }

// Description returns a human-readable description.
func (j *DispatchPendingJob) Description() string {
	return "Dispatches scheduled and stalled pending notifications"
}

// Run executes the job.
func (j *DispatchPendingJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	now := j.clock.Now()
	stats := &DispatchPendingStats{StartedAt: now}
	defer func() {
		stats.Duration = j.clock.Now().Sub(now)
		j.lastRunStats.Store(stats)
	}()

	pending, err := j.repo.FindPending(ctx, now, j.config.BatchSize)
	if err != nil {
		return fmt.Errorf("dispatch_pending: find pending: %w", err)
	}
	stats.Found = len(pending)
	if len(pending) == 0 {
		return nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, j.config.Concurrency)
	)
	for _, n := range pending {
		if !n.ShouldSend(now) || j.tooFresh(n, now) {
			mu.Lock()
			stats.Skipped++
			mu.Unlock()
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}
		wg.Add(1)
		go func(n *notification.Notification) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, err := j.dispatcher.Dispatch(ctx, n)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, messaging.ErrDispatchInProgress):
				stats.Skipped++
			case err != nil:
				stats.Errors++
				j.logger.Warn("dispatch failed", logger.NotificationID(n.ID().String()), zap.Error(err))
			default:
				stats.Dispatched++
				switch outcome.Status {
				case notification.StatusSent:
					stats.Sent++
				case notification.StatusFailed:
					stats.Failed++
				}
			}
		}(n)
	}
	wg.Wait()

	j.logger.Info("pending notifications dispatched",
		zap.Int("found", stats.Found),
		zap.Int("dispatched", stats.Dispatched),
		zap.Int("sent", stats.Sent),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", stats.Errors),
	)
	return nil
}

func (j *DispatchPendingJob) tooFresh(n *notification.Notification, now time.Time) bool {
	return n.Window().ScheduledAt() == nil && now.Sub(n.CreatedAt()) < j.config.MinAge
}

// LastRunStats returns statistics from the last run, or nil.
func (j *DispatchPendingJob) LastRunStats() *DispatchPendingStats {
	if v := j.lastRunStats.Load(); v != nil {
		return v.(*DispatchPendingStats)
	}
	return nil
}
