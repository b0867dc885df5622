package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
	"github.com/alem-hub/notification-engine/internal/infrastructure/messaging"
	"github.com/alem-hub/notification-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/notification-engine/pkg/timeutil"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func seed(t *testing.T, repo *memory.NotificationRepository, id string, createdAt time.Time, scheduledAt, expiresAt *time.Time) *notification.Notification {
	t.Helper()
	content, err := notification.NewContent("Reminder", "Standup in 10 minutes", "", "")
	require.NoError(t, err)
	set, err := notification.NewChannelSet([]notification.Channel{notification.ChannelInApp}, notification.PriorityNormal)
	require.NoError(t, err)
	window, err := notification.NewScheduleWindow(scheduledAt, expiresAt, createdAt)
	require.NoError(t, err)
	n, err := notification.NewNotification(notification.NewNotificationParams{
		ID:        notification.NotificationID(id),
		AccountID: "acc-1",
		Type:      notification.TypeTaskReminder,
		Content:   content,
		Channels:  set,
		Window:    window,
		Now:       createdAt,
	})
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), n))
	return n
}

type fakeDispatcher struct {
	mu     sync.Mutex
	seen   []notification.NotificationID
	status notification.Status
	busy   map[notification.NotificationID]bool
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, n *notification.Notification) (notification.DispatchOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy[n.ID()] {
		return notification.DispatchOutcome{}, messaging.ErrDispatchInProgress
	}
	d.seen = append(d.seen, n.ID())
	return notification.DispatchOutcome{NotificationID: n.ID(), Status: d.status}, nil
}

func (d *fakeDispatcher) ids() []notification.NotificationID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notification.NotificationID(nil), d.seen...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func TestDispatchPendingJob_PicksDueNotifications(t *testing.T) {
	repo := memory.NewNotificationRepository()
	now := t0.Add(time.Hour)

	seed(t, repo, "stalled", t0, nil, nil)
	seed(t, repo, "fresh", now.Add(-10*time.Second), nil, nil)
	seed(t, repo, "scheduled-due", t0, ptr(now.Add(-time.Minute)), nil)
	seed(t, repo, "scheduled-later", t0, ptr(now.Add(time.Hour)), nil)
	seed(t, repo, "busy", t0, nil, nil)

	dispatcher := &fakeDispatcher{
		status: notification.StatusSent,
		busy:   map[notification.NotificationID]bool{"busy": true},
	}
	job := NewDispatchPendingJob(repo, dispatcher, timeutil.NewManualClock(now), nil, DispatchPendingConfig{MinAge: time.Minute})

	require.NoError(t, job.Run(context.Background()))

	assert.ElementsMatch(t, []notification.NotificationID{"stalled", "scheduled-due"}, dispatcher.ids())
	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 4, stats.Found)
	assert.Equal(t, 2, stats.Dispatched)
	assert.Equal(t, 2, stats.Sent)
	assert.Equal(t, 2, stats.Skipped)
	assert.Zero(t, stats.Errors)
	assert.Equal(t, "dispatch_pending", job.Name())
}

func TestDispatchPendingJob_Empty(t *testing.T) {
	job := NewDispatchPendingJob(memory.NewNotificationRepository(), &fakeDispatcher{}, timeutil.NewManualClock(t0), nil, DispatchPendingConfig{})
	require.NoError(t, job.Run(context.Background()))
	assert.Zero(t, job.LastRunStats().Found)
}

func TestExpireNotificationsJob(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewNotificationRepository()
	seed(t, repo, "lapsed", t0, nil, ptr(t0.Add(time.Hour)))
	seed(t, repo, "valid", t0, nil, ptr(t0.Add(48*time.Hour)))
	seed(t, repo, "open", t0, nil, nil)

	pub := &recordingPublisher{}
	job := NewExpireNotificationsJob(repo, pub, timeutil.NewManualClock(t0.Add(2*time.Hour)), nil, 0)
	require.NoError(t, job.Run(ctx))

	lapsed, err := repo.FindByID(ctx, "lapsed")
	require.NoError(t, err)
	assert.Equal(t, notification.StatusExpired, lapsed.Status())

	valid, err := repo.FindByID(ctx, "valid")
	require.NoError(t, err)
	assert.Equal(t, notification.StatusPending, valid.Status())

	assert.EqualValues(t, 1, job.LastExpired())
	require.Len(t, pub.events, 1)
	assert.Equal(t, shared.EventNotificationExpired, pub.events[0].EventType())

	// second run finds nothing
	require.NoError(t, job.Run(ctx))
	assert.Zero(t, job.LastExpired())
}

func TestPurgeNotificationsJob(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewNotificationRepository()

	old := seed(t, repo, "old", t0, nil, nil)
	require.NoError(t, old.MarkAsFailed(t0))
	require.NoError(t, repo.Save(ctx, old))

	recent := seed(t, repo, "recent", t0, nil, nil)
	require.NoError(t, recent.MarkAsFailed(t0.Add(20*24*time.Hour)))
	require.NoError(t, repo.Save(ctx, recent))

	seed(t, repo, "pending", t0, nil, nil)

	clock := timeutil.NewManualClock(t0.Add(31 * 24 * time.Hour))
	job := NewPurgeNotificationsJob(repo, clock, nil, 0)
	assert.Equal(t, t0.Add(24*time.Hour), job.Cutoff())

	require.NoError(t, job.Run(ctx))

	_, err := repo.FindByID(ctx, "old")
	assert.ErrorIs(t, err, shared.ErrNotificationNotFound)
	_, err = repo.FindByID(ctx, "recent")
	assert.NoError(t, err)
	_, err = repo.FindByID(ctx, "pending")
	assert.NoError(t, err)
}
