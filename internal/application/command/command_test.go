package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
	"github.com/alem-hub/notification-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/notification-engine/pkg/timeutil"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeEnqueuer struct {
	mu    sync.Mutex
	items []*notification.Notification
	err   error
}

func (f *fakeEnqueuer) Enqueue(n *notification.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.items = append(f.items, n)
	return nil
}

type fakeCounter struct {
	counts notification.DeliveryCounts
	err    error
}

func (f *fakeCounter) Counts(ctx context.Context, accountID shared.AccountID, limits map[notification.Channel]notification.RateLimit, now time.Time) (notification.DeliveryCounts, error) {
	return f.counts, f.err
}

type eventRecorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *eventRecorder) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) types() []shared.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shared.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

type createFixture struct {
	handler   *CreateAndSendNotificationHandler
	repo      *memory.NotificationRepository
	prefs     *memory.PreferenceRepository
	enqueuer  *fakeEnqueuer
	publisher *eventRecorder
	clock     *timeutil.ManualClock
}

func newCreateFixture(counter RecentDeliveries) *createFixture {
	clock := timeutil.NewManualClock(t0)
	f := &createFixture{
		repo:      memory.NewNotificationRepository(),
		prefs:     memory.NewPreferenceRepository(clock),
		enqueuer:  &fakeEnqueuer{},
		publisher: &eventRecorder{},
		clock:     clock,
	}
	f.handler = NewCreateAndSendNotificationHandler(CreateAndSendDeps{
		Notifications: f.repo,
		Preferences:   f.prefs,
		Dispatcher:    f.enqueuer,
		Counter:       counter,
		Publisher:     f.publisher,
		Clock:         clock,
	})
	return f
}

type gateFunc func(accountID string, ch notification.Channel) bool

func (g gateFunc) ChannelEnabled(accountID string, ch notification.Channel) bool { return g(accountID, ch) }

// ══════════════════════════════════════════════════════════════════════════════
// CREATE AND SEND
// ══════════════════════════════════════════════════════════════════════════════

func TestCreateAndSend_RendersTemplateAndEnqueues(t *testing.T) {
	f := newCreateFixture(nil)
	ctx := context.Background()

	res, err := f.handler.Handle(ctx, CreateAndSendNotificationCommand{
		AccountID:     "acc-1",
		Type:          notification.TypeTaskReminder,
		TemplateData:  map[string]interface{}{"task_title": "Write report", "due_at": "tomorrow"},
		CorrelationID: "corr-1",
	})
	require.NoError(t, err)

	assert.True(t, res.Enqueued)
	assert.Equal(t, notification.PriorityNormal, res.Priority)
	assert.Equal(t, []notification.Channel{notification.ChannelInApp, notification.ChannelSSE}, res.Channels)
	assert.Equal(t, notification.StatusPending, res.Status)

	stored, err := f.repo.FindByID(ctx, res.NotificationID)
	require.NoError(t, err)
	assert.Equal(t, "Reminder: Write report", stored.Content().Title())
	assert.Equal(t, `Your task "Write report" is due tomorrow.`, stored.Content().Body())
	assert.Equal(t, "corr-1", stored.Metadata()["correlation_id"])

	require.Len(t, f.enqueuer.items, 1)
	assert.Equal(t, res.NotificationID, f.enqueuer.items[0].ID())
	assert.Equal(t, []shared.EventType{shared.EventNotificationCreated}, f.publisher.types())
}

func TestCreateAndSend_ExplicitContentAndChannels(t *testing.T) {
	f := newCreateFixture(nil)

	res, err := f.handler.Handle(context.Background(), CreateAndSendNotificationCommand{
		AccountID: "acc-1",
		Type:      notification.TypeSystemAnnouncement,
		Title:     "Maintenance",
		Body:      "Back at 10:00",
		Channels:  []notification.Channel{notification.ChannelEmail, notification.ChannelSMS},
	})
	require.NoError(t, err)

	// SMS is off by default, so only email survives the intersection.
	assert.Equal(t, []notification.Channel{notification.ChannelEmail}, res.Channels)
	assert.Equal(t, notification.PriorityLow, res.Priority)
}

func TestCreateAndSend_BlockedByPreferences(t *testing.T) {
	f := newCreateFixture(nil)
	ctx := context.Background()

	pref, err := f.prefs.GetOrCreateDefault(ctx, "acc-1")
	require.NoError(t, err)
	require.NoError(t, pref.SetCategoryEnabled(notification.CategoryGoal, false, t0))
	require.NoError(t, f.prefs.Save(ctx, pref))

	_, err = f.handler.Handle(ctx, CreateAndSendNotificationCommand{
		AccountID:    "acc-1",
		Type:         notification.TypeGoalMilestone,
		TemplateData: map[string]interface{}{"goal_title": "Run 100km", "percent": 50},
	})
	assert.ErrorIs(t, err, notification.ErrPreferenceBlocked)
	assert.Empty(t, f.enqueuer.items)
	assert.Zero(t, f.repo.Saves())
}

func TestCreateAndSend_NoChannelLeftIsBlocked(t *testing.T) {
	f := newCreateFixture(nil)
	ctx := context.Background()

	pref, err := f.prefs.GetOrCreateDefault(ctx, "acc-1")
	require.NoError(t, err)
	for _, ch := range notification.AllChannels() {
		require.NoError(t, pref.SetChannel(ch, notification.ChannelPreference{Enabled: false}, t0))
	}
	require.NoError(t, f.prefs.Save(ctx, pref))

	_, err = f.handler.Handle(ctx, CreateAndSendNotificationCommand{
		AccountID: "acc-1",
		Type:      notification.TypeSystemAlert,
		Title:     "Disk full",
		Body:      "Free some space",
	})
	assert.ErrorIs(t, err, notification.ErrPreferenceBlocked)
}

func TestCreateAndSend_RateLimitedChannelIsSkipped(t *testing.T) {
	counter := &fakeCounter{counts: notification.DeliveryCounts{notification.ChannelEmail: 1}}
	f := newCreateFixture(counter)
	ctx := context.Background()

	pref, err := f.prefs.GetOrCreateDefault(ctx, "acc-1")
	require.NoError(t, err)
	require.NoError(t, pref.SetChannel(notification.ChannelEmail, notification.ChannelPreference{
		Enabled:   true,
		RateLimit: &notification.RateLimit{MaxCount: 1, Period: time.Hour},
	}, t0))
	require.NoError(t, f.prefs.Save(ctx, pref))

	cmd := CreateAndSendNotificationCommand{
		AccountID: "acc-1",
		Type:      notification.TypeSystemAlert,
		Title:     "Disk full",
		Body:      "Free some space",
	}
	res, err := f.handler.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, []notification.Channel{
		notification.ChannelInApp, notification.ChannelSSE, notification.ChannelDesktop, notification.ChannelSystem,
	}, res.Channels)

	counter.counts, counter.err = nil, errors.New("redis down")
	res, err = f.handler.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.Contains(t, res.Channels, notification.ChannelEmail)
}

func TestCreateAndSend_ScheduledIsNotEnqueued(t *testing.T) {
	f := newCreateFixture(nil)
	later := t0.Add(time.Hour)

	res, err := f.handler.Handle(context.Background(), CreateAndSendNotificationCommand{
		AccountID:   "acc-1",
		Type:        notification.TypeTaskReminder,
		Title:       "Standup",
		Body:        "In one hour",
		ScheduledAt: &later,
	})
	require.NoError(t, err)
	assert.False(t, res.Enqueued)
	assert.Empty(t, f.enqueuer.items)
}

func TestCreateAndSend_EnqueueFailureKeepsNotification(t *testing.T) {
	f := newCreateFixture(nil)
	f.enqueuer.err = errors.New("stopped")

	res, err := f.handler.Handle(context.Background(), CreateAndSendNotificationCommand{
		AccountID: "acc-1",
		Type:      notification.TypeTaskReminder,
		Title:     "Standup",
		Body:      "Now",
	})
	require.NoError(t, err)
	assert.False(t, res.Enqueued)

	_, err = f.repo.FindByID(context.Background(), res.NotificationID)
	assert.NoError(t, err)
}

func TestCreateAndSend_Validation(t *testing.T) {
	f := newCreateFixture(nil)
	ctx := context.Background()

	tests := []struct {
		name string
		cmd  CreateAndSendNotificationCommand
	}{
		{"missing account", CreateAndSendNotificationCommand{Type: notification.TypeTaskReminder}},
		{"unknown type", CreateAndSendNotificationCommand{AccountID: "acc-1", Type: "birthday"}},
		{"bad priority", CreateAndSendNotificationCommand{AccountID: "acc-1", Type: notification.TypeTaskReminder, Priority: 9}},
		{"bad channel", CreateAndSendNotificationCommand{AccountID: "acc-1", Type: notification.TypeTaskReminder, Channels: []notification.Channel{"pager"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.handler.Handle(ctx, tt.cmd)
			assert.True(t, shared.IsValidation(err), "got %v", err)
		})
	}

	past := t0.Add(-time.Minute)
	_, err := f.handler.Handle(ctx, CreateAndSendNotificationCommand{
		AccountID: "acc-1",
		Type:      notification.TypeTaskReminder,
		Title:     "Late",
		Body:      "Already expired",
		ExpiresAt: &past,
	})
	assert.True(t, shared.IsValidation(err), "got %v", err)
	assert.Zero(t, f.repo.Saves())
}

// ══════════════════════════════════════════════════════════════════════════════
// READ / DISMISS
// ══════════════════════════════════════════════════════════════════════════════

func seedSent(t *testing.T, repo notification.NotificationRepository, id notification.NotificationID, account shared.AccountID) {
	t.Helper()
	content, err := notification.NewContent("Reminder", "Standup", "", "")
	require.NoError(t, err)
	set, err := notification.NewChannelSet([]notification.Channel{notification.ChannelInApp}, notification.PriorityNormal)
	require.NoError(t, err)
	n, err := notification.NewNotification(notification.NewNotificationParams{
		ID:        id,
		AccountID: account,
		Type:      notification.TypeTaskReminder,
		Content:   content,
		Channels:  set,
		Now:       t0,
	})
	require.NoError(t, err)
	require.NoError(t, n.MarkAsSent(t0.Add(time.Minute)))
	require.NoError(t, repo.Save(context.Background(), n))
}

// staleOnce fails the first save with a version conflict.
type staleOnce struct {
	*memory.NotificationRepository
	failures int
}

func (r *staleOnce) Save(ctx context.Context, n *notification.Notification) error {
	if r.failures > 0 {
		r.failures--
		return shared.ErrStaleAggregate
	}
	return r.NotificationRepository.Save(ctx, n)
}

func TestMarkNotificationRead(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewNotificationRepository()
	seedSent(t, repo, "n-1", "acc-1")
	events := &eventRecorder{}
	clock := timeutil.NewManualClock(t0.Add(5 * time.Minute))
	h := NewMarkNotificationReadHandler(repo, events, clock, nil)

	res, err := h.Handle(ctx, MarkNotificationReadCommand{NotificationID: "n-1", AccountID: "acc-1"})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, notification.StatusRead, res.Status)
	assert.Equal(t, []shared.EventType{shared.EventNotificationRead}, events.types())

	stored, err := repo.FindByID(ctx, "n-1")
	require.NoError(t, err)
	require.NotNil(t, stored.ReadAt())
	assert.Equal(t, clock.Now(), *stored.ReadAt())

	again, err := h.Handle(ctx, MarkNotificationReadCommand{NotificationID: "n-1", AccountID: "acc-1"})
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Len(t, events.types(), 1)
}

func TestMarkNotificationRead_Errors(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewNotificationRepository()
	seedSent(t, repo, "n-1", "acc-1")
	h := NewMarkNotificationReadHandler(repo, nil, timeutil.NewManualClock(t0.Add(time.Hour)), nil)

	_, err := h.Handle(ctx, MarkNotificationReadCommand{NotificationID: "n-1", AccountID: "acc-2"})
	assert.True(t, shared.IsNotFound(err))

	_, err = h.Handle(ctx, MarkNotificationReadCommand{NotificationID: "missing", AccountID: "acc-1"})
	assert.True(t, shared.IsNotFound(err))

	_, err = h.Handle(ctx, MarkNotificationReadCommand{AccountID: "acc-1"})
	assert.True(t, shared.IsValidation(err))
}

func TestMarkNotificationRead_RetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	repo := &staleOnce{NotificationRepository: memory.NewNotificationRepository()}
	seedSent(t, repo.NotificationRepository, "n-1", "acc-1")
	repo.failures = 2
	h := NewMarkNotificationReadHandler(repo, nil, timeutil.NewManualClock(t0.Add(time.Hour)), nil)

	res, err := h.Handle(ctx, MarkNotificationReadCommand{NotificationID: "n-1", AccountID: "acc-1"})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Zero(t, repo.failures)

	stored, err := repo.FindByID(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, notification.StatusRead, stored.Status())
}

func TestDismissNotification(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewNotificationRepository()
	seedSent(t, repo, "n-1", "acc-1")
	events := &eventRecorder{}
	h := NewDismissNotificationHandler(repo, events, timeutil.NewManualClock(t0.Add(time.Hour)), nil)

	res, err := h.Handle(ctx, DismissNotificationCommand{NotificationID: "n-1", AccountID: "acc-1"})
	require.NoError(t, err)
	assert.Equal(t, notification.StatusDismissed, res.Status)
	assert.Equal(t, []shared.EventType{shared.EventNotificationDismissed}, events.types())

	// Read after dismiss is a state conflict.
	read := NewMarkNotificationReadHandler(repo, nil, timeutil.NewManualClock(t0.Add(2*time.Hour)), nil)
	_, err = read.Handle(ctx, MarkNotificationReadCommand{NotificationID: "n-1", AccountID: "acc-1"})
	assert.True(t, shared.IsStateConflict(err), "got %v", err)
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE PREFERENCES
// ══════════════════════════════════════════════════════════════════════════════

func boolPtr(b bool) *bool    { return &b }
func intPtr(n int) *int       { return &n }
func strPtr(s string) *string { return &s }

func TestUpdatePreferences(t *testing.T) {
	ctx := context.Background()
	clock := timeutil.NewManualClock(t0)
	repo := memory.NewPreferenceRepository(clock)
	h := NewUpdatePreferencesHandler(repo, clock, nil)

	allowed := []notification.NotificationType{notification.TypeSystemAlert}
	res, err := h.Handle(ctx, UpdatePreferencesCommand{
		AccountID: "acc-1",
		Preferences: PreferenceUpdates{
			Types: map[notification.NotificationType]bool{notification.TypeGoalMilestone: false},
			Channels: map[notification.Channel]ChannelUpdate{
				notification.ChannelSMS: {
					Enabled:      boolPtr(true),
					AllowedTypes: &allowed,
					QuietHours:   &QuietHoursUpdate{Enabled: true, Start: "22:00", End: "07:00"},
					RateLimit:    &RateLimitUpdate{MaxCount: 3, Period: time.Hour},
				},
			},
			MaxNotifications: intPtr(50),
			Timezone:         strPtr("Asia/Almaty"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"types.goal_milestone", "channels.sms", "retention", "timezone"}, res.ChangedFields)

	stored, err := repo.GetOrCreateDefault(ctx, "acc-1")
	require.NoError(t, err)
	assert.False(t, stored.IsTypeEnabled(notification.TypeGoalMilestone))
	sms := stored.Channel(notification.ChannelSMS)
	assert.True(t, sms.Enabled)
	assert.True(t, sms.QuietHours.Enabled)
	require.NotNil(t, sms.RateLimit)
	assert.Equal(t, 3, sms.RateLimit.MaxCount)
	assert.Equal(t, 50, stored.MaxNotifications())
	assert.Equal(t, "Asia/Almaty", stored.Location().String())
	assert.Equal(t, res.Preferences.Version, stored.Version())
}

func TestUpdatePreferences_NoopDoesNotSave(t *testing.T) {
	ctx := context.Background()
	clock := timeutil.NewManualClock(t0)
	repo := memory.NewPreferenceRepository(clock)
	h := NewUpdatePreferencesHandler(repo, clock, nil)

	res, err := h.Handle(ctx, UpdatePreferencesCommand{
		AccountID:   "acc-1",
		Preferences: PreferenceUpdates{Enabled: boolPtr(true)},
	})
	require.NoError(t, err)
	assert.Empty(t, res.ChangedFields)
	assert.Equal(t, int64(1), res.Preferences.Version)
}

func TestUpdatePreferences_Errors(t *testing.T) {
	ctx := context.Background()
	clock := timeutil.NewManualClock(t0)
	repo := memory.NewPreferenceRepository(clock)
	h := NewUpdatePreferencesHandler(repo, clock, nil)

	_, err := h.Handle(ctx, UpdatePreferencesCommand{
		AccountID:       "acc-1",
		ExpectedVersion: 7,
		Preferences:     PreferenceUpdates{Enabled: boolPtr(false)},
	})
	assert.True(t, shared.IsOptimisticLock(err), "got %v", err)

	_, err = h.Handle(ctx, UpdatePreferencesCommand{
		AccountID: "acc-1",
		Preferences: PreferenceUpdates{Channels: map[notification.Channel]ChannelUpdate{
			"pager": {Enabled: boolPtr(true)},
		}},
	})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(ctx, UpdatePreferencesCommand{
		AccountID: "acc-1",
		Preferences: PreferenceUpdates{Channels: map[notification.Channel]ChannelUpdate{
			notification.ChannelEmail: {QuietHours: &QuietHoursUpdate{Enabled: true, Start: "25:00", End: "07:00"}},
		}},
	})
	assert.Error(t, err)

	_, err = h.Handle(ctx, UpdatePreferencesCommand{
		AccountID:   "acc-1",
		Preferences: PreferenceUpdates{Timezone: strPtr("Mars/Olympus")},
	})
	assert.Error(t, err)

	stored, err := repo.GetOrCreateDefault(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, stored.Enabled())
	assert.Equal(t, "UTC", stored.Location().String())
}

func TestCreateAndSend_ChannelGate(t *testing.T) {
	f := newCreateFixture(nil)
	f.handler.gate = gateFunc(func(accountID string, ch notification.Channel) bool {
		return ch != notification.ChannelSSE
	})

	res, err := f.handler.Handle(context.Background(), CreateAndSendNotificationCommand{
		AccountID: "acc-1",
		Type:      notification.TypeTaskReminder,
	})
	require.NoError(t, err)
	assert.Equal(t, []notification.Channel{notification.ChannelInApp}, res.Channels)

	f.handler.gate = gateFunc(func(string, notification.Channel) bool { return false })
	_, err = f.handler.Handle(context.Background(), CreateAndSendNotificationCommand{
		AccountID: "acc-1",
		Type:      notification.TypeTaskReminder,
	})
	assert.ErrorIs(t, err, notification.ErrPreferenceBlocked)
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(shared.Event) error {
	p.calls++
	return errors.New("bus closed")
}

func TestPublishAll_LogsFailuresAndContinues(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	pub := &failingPublisher{}
	events := []shared.Event{
		shared.NewSystemAlertRaisedEvent("acc-1", "critical", "Disk", "Disk full"),
		shared.NewGoalMilestoneReachedEvent("acc-1", "goal-1", "Ship", 50),
	}

	publishAll(pub, events, zap.New(core))

	assert.Equal(t, 2, pub.calls)
	failed := logs.FilterMessage("event publish failed").All()
	require.Len(t, failed, 2)
	assert.Equal(t, string(shared.EventGoalMilestoneReached), failed[1].ContextMap()["event_type"])

	assert.NotPanics(t, func() { publishAll(nil, events, zap.NewNop()) })
}
