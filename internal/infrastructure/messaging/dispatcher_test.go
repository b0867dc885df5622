package messaging

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

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeSender struct {
	channel notification.Channel
	send    func(attempt int) error

	mu    sync.Mutex
	calls int
}

func (s *fakeSender) Channel() notification.Channel { return s.channel }

func (s *fakeSender) Send(ctx context.Context, n *notification.Notification, _ notification.RecipientContext) (notification.DeliveryResult, error) {
	s.mu.Lock()
	s.calls++
	attempt := s.calls
	s.mu.Unlock()

	if s.send != nil {
		if err := s.send(attempt); err != nil {
			return notification.DeliveryResult{}, err
		}
	}
	return notification.NewDeliveryResult(s.channel, n.ID().String()+"-"+s.channel.String(), time.Time{}), nil
}

func (s *fakeSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func okSender(ch notification.Channel) *fakeSender { return &fakeSender{channel: ch} }

func failingSender(ch notification.Channel, retryable bool) *fakeSender {
	return &fakeSender{channel: ch, send: func(int) error {
		return notification.NewSendError(ch, errors.New("provider unavailable"), retryable)
	}}
}

type recordingSink struct {
	mu      sync.Mutex
	entries []notification.DeadLetter
}

func (s *recordingSink) Record(_ context.Context, entry notification.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.EventType
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e.EventType())
	return nil
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

type countingCounter struct {
	mu    sync.Mutex
	count map[notification.Channel]int
}

func (c *countingCounter) Increment(_ context.Context, _ shared.AccountID, ch notification.Channel, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == nil {
		c.count = make(map[notification.Channel]int)
	}
	c.count[ch]++
	return nil
}

// staleOnceRepository loses the first save to a concurrent writer.
type staleOnceRepository struct {
	*memory.NotificationRepository
	mu     sync.Mutex
	failed bool
}

func (r *staleOnceRepository) Save(ctx context.Context, n *notification.Notification) error {
	r.mu.Lock()
	if !r.failed {
		r.failed = true
		r.mu.Unlock()
		return shared.ErrStaleAggregate
	}
	r.mu.Unlock()
	return r.NotificationRepository.Save(ctx, n)
}

type harness struct {
	repo      *memory.NotificationRepository
	sink      *recordingSink
	publisher *recordingPublisher
	sleeper   *recordingSleeper
	counter   *countingCounter
	clock     *timeutil.ManualClock
}

func newHarness() *harness {
	return &harness{
		repo:      memory.NewNotificationRepository(),
		sink:      &recordingSink{},
		publisher: &recordingPublisher{},
		sleeper:   &recordingSleeper{},
		counter:   &countingCounter{},
		clock:     timeutil.NewManualClock(baseTime),
	}
}

func (h *harness) dispatcher(cfg DispatcherConfig, senders ...*fakeSender) *DeliveryDispatcher {
	m := SenderMap{}
	for _, s := range senders {
		m[s.channel] = s
	}
	return NewDeliveryDispatcher(cfg, DispatcherDeps{
		Repository: h.repo,
		Senders:    m,
		DeadLetter: h.sink,
		Publisher:  h.publisher,
		Counter:    h.counter,
		Clock:      h.clock,
		Sleep:      h.sleeper.Sleep,
	})
}

func newPendingNotification(t *testing.T, repo notification.NotificationRepository, window notification.ScheduleWindow, channels ...notification.Channel) *notification.Notification {
	t.Helper()

	content, err := notification.NewContent("Task due", "Finish the report", "", "")
	require.NoError(t, err)
	set, err := notification.NewChannelSet(channels, notification.PriorityHigh)
	require.NoError(t, err)

	n, err := notification.NewNotification(notification.NewNotificationParams{
		ID:        "n-1",
		AccountID: "acc-1",
		Type:      notification.TypeTaskReminder,
		Content:   content,
		Channels:  set,
		Window:    window,
		Now:       baseTime,
	})
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), n))
	return n
}

func receiptOf(t *testing.T, n *notification.Notification, ch notification.Channel) notification.DeliveryReceipt {
	t.Helper()
	r, ok := n.Receipt(ch)
	require.True(t, ok)
	return r
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestDispatch_AllChannelsDelivered(t *testing.T) {
	h := newHarness()
	desktop, email := okSender(notification.ChannelDesktop), okSender(notification.ChannelEmail)
	d := h.dispatcher(DefaultDispatcherConfig(), desktop, email)
	n := newPendingNotification(t, h.repo, notification.ScheduleWindow{}, notification.ChannelDesktop, notification.ChannelEmail)

	outcome, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)

	assert.Equal(t, notification.StatusSent, outcome.Status)
	assert.Equal(t, []notification.Channel{notification.ChannelDesktop, notification.ChannelEmail}, outcome.Delivered)
	assert.Empty(t, outcome.DeadLettered)

	stored, err := h.repo.FindByID(context.Background(), n.ID())
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, stored.Status())
	require.NotNil(t, stored.SentAt())
	assert.Equal(t, baseTime, *stored.SentAt())
	for _, ch := range stored.Channels() {
		r := receiptOf(t, stored, ch)
		assert.Equal(t, notification.ReceiptDelivered, r.Status())
		assert.False(t, r.DeliveredAt().Before(*r.SentAt()))
		assert.NotEmpty(t, r.Metadata()["message_id"])
	}

	assert.Equal(t, 1, desktop.Calls())
	assert.Equal(t, 1, email.Calls())
	assert.Empty(t, h.sleeper.delays)
	assert.Contains(t, h.publisher.events, shared.EventNotificationSent)
	assert.Equal(t, 1, h.counter.count[notification.ChannelEmail])
}

func TestDispatch_RetriesAreBoundedAndDeadLettered(t *testing.T) {
	h := newHarness()
	email := failingSender(notification.ChannelEmail, true)
	d := h.dispatcher(DefaultDispatcherConfig(), email)
	n := newPendingNotification(t, h.repo, notification.ScheduleWindow{}, notification.ChannelEmail)

	outcome, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)

	assert.Equal(t, notification.DefaultMaxRetries, email.Calls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.sleeper.delays)

	r := receiptOf(t, n, notification.ChannelEmail)
	assert.Equal(t, notification.ReceiptFailed, r.Status())
	assert.Equal(t, notification.DefaultMaxRetries, r.RetryCount())
	assert.Contains(t, r.FailureReason(), "provider unavailable")

	require.Len(t, h.sink.entries, 1)
	entry := h.sink.entries[0]
	assert.Equal(t, n.ID(), entry.NotificationID)
	assert.Equal(t, notification.ChannelEmail, entry.Channel)
	assert.Equal(t, notification.DefaultMaxRetries, entry.RetryCount)

	assert.Equal(t, notification.StatusFailed, outcome.Status)
	assert.Equal(t, []notification.Channel{notification.ChannelEmail}, outcome.DeadLettered)
	assert.Contains(t, h.publisher.events, shared.EventDeliveryDeadLettered)
	assert.Contains(t, h.publisher.events, shared.EventNotificationFailed)
}

func TestDispatch_BackoffDoublesPerAttempt(t *testing.T) {
	h := newHarness()
	cfg := DefaultDispatcherConfig()
	cfg.MaxRetries = 5
	cfg.RetryDelayBase = 100 * time.Millisecond
	cfg.MaxRetryDelay = 0
	sms := failingSender(notification.ChannelSMS, true)
	d := h.dispatcher(cfg, sms)
	n := newPendingNotification(t, h.repo, notification.ScheduleWindow{}, notification.ChannelSMS)

	_, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)

	assert.Equal(t, 5, sms.Calls())
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}, h.sleeper.delays)
}

func TestDispatch_SucceedsAfterTransientFailure(t *testing.T) {
	h := newHarness()
	email := &fakeSender{channel: notification.ChannelEmail, send: func(attempt int) error {
		if attempt == 1 {
			return errors.New("connection reset")
		}
		return nil
	}}
	d := h.dispatcher(DefaultDispatcherConfig(), email)
	n := newPendingNotification(t, h.repo, notification.ScheduleWindow{}, notification.ChannelEmail)

	outcome, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)

	assert.Equal(t, notification.StatusSent, outcome.Status)
	assert.Equal(t, 2, email.Calls())
	r := receiptOf(t, n, notification.ChannelEmail)
	assert.Equal(t, notification.ReceiptDelivered, r.Status())
	assert.Equal(t, 1, r.RetryCount())
	assert.Empty(t, h.sink.entries)
}

func TestDispatch_PartialFailureStillSent(t *testing.T) {
	h := newHarness()
	desktop := okSender(notification.ChannelDesktop)
	email := failingSender(notification.ChannelEmail, false)
	d := h.dispatcher(DefaultDispatcherConfig(), desktop, email)
	n := newPendingNotification(t, h.repo, notification.ScheduleWindow{}, notification.ChannelDesktop, notification.ChannelEmail)

	outcome, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)

	assert.Equal(t, notification.StatusSent, outcome.Status)
	assert.Equal(t, []notification.Channel{notification.ChannelDesktop}, outcome.Delivered)
	assert.Equal(t, []notification.Channel{notification.ChannelEmail}, outcome.Failed)
	assert.Equal(t, 1, email.Calls())
	assert.Empty(t, h.sleeper.delays)
	require.Len(t, h.sink.entries, 1)
	assert.Equal(t, 0, h.sink.entries[0].RetryCount)
	assert.InDelta(t, 50.0, n.DeliverySuccessRate(), 0.0001)
}

func TestDispatch_ZeroMaxRetriesMakesOneAttempt(t *testing.T) {
	h := newHarness()
	cfg := DefaultDispatcherConfig()
	cfg.MaxRetries = 0
	email := failingSender(notification.ChannelEmail, true)
	d := h.dispatcher(cfg, email)
	n := newPendingNotification(t, h.repo, notification.ScheduleWindow{}, notification.ChannelEmail)

	_, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)

	assert.Equal(t, 1, email.Calls())
	assert.Empty(t, h.sleeper.delays)
	assert.Equal(t, notification.ReceiptFailed, receiptOf(t, n, notification.ChannelEmail).Status())
	require.Len(t, h.sink.entries, 1)
}

func TestDispatch_KeepsPendingWhenAutoFailDisabled(t *testing.T) {
	h := newHarness()
	cfg := DefaultDispatcherConfig()
	cfg.FailWhenAllExhausted = false
	d := h.dispatcher(cfg, failingSender(notification.ChannelEmail, false))
	n := newPendingNotification(t, h.repo, notification.ScheduleWindow{}, notification.ChannelEmail)

	outcome, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusPending, outcome.Status)
	assert.True(t, n.AllChannelsSettled())
}

func TestDispatch_ExpiredBeforeSend(t *testing.T) {
	h := newHarness()
	expires := baseTime.Add(time.Hour)
	window, err := notification.NewScheduleWindow(nil, &expires, baseTime)
	require.NoError(t, err)
	email := okSender(notification.ChannelEmail)
	d := h.dispatcher(DefaultDispatcherConfig(), email)
	n := newPendingNotification(t, h.repo, window, notification.ChannelEmail)

	h.clock.Advance(2 * time.Hour)
	outcome, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)

	assert.Equal(t, notification.StatusExpired, outcome.Status)
	assert.Equal(t, 0, email.Calls())
	assert.Nil(t, n.SentAt())
	assert.Contains(t, h.publisher.events, shared.EventNotificationExpired)
}

func TestDispatch_SkipsNotYetDue(t *testing.T) {
	h := newHarness()
	at := baseTime.Add(time.Hour)
	window, err := notification.NewScheduleWindow(&at, nil, baseTime)
	require.NoError(t, err)
	email := okSender(notification.ChannelEmail)
	d := h.dispatcher(DefaultDispatcherConfig(), email)
	n := newPendingNotification(t, h.repo, window, notification.ChannelEmail)

	outcome, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, outcome.Skipped)
	assert.Equal(t, 0, email.Calls())
	assert.Equal(t, 1, h.repo.Saves())
}

func TestDispatch_MissingSenderIsPermanentFailure(t *testing.T) {
	h := newHarness()
	d := h.dispatcher(DefaultDispatcherConfig(), okSender(notification.ChannelDesktop))
	n := newPendingNotification(t, h.repo, notification.ScheduleWindow{}, notification.ChannelDesktop, notification.ChannelSMS)

	outcome, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)

	assert.Equal(t, notification.StatusSent, outcome.Status)
	r := receiptOf(t, n, notification.ChannelSMS)
	assert.Equal(t, notification.ReceiptFailed, r.Status())
	assert.Contains(t, r.FailureReason(), "no sender registered")
	assert.Empty(t, h.sleeper.delays)
}

func TestDispatch_ReappliesOutcomesAfterVersionConflict(t *testing.T) {
	h := newHarness()
	repo := &staleOnceRepository{NotificationRepository: h.repo}
	n := newPendingNotification(t, h.repo, notification.ScheduleWindow{}, notification.ChannelDesktop, notification.ChannelEmail)

	d := NewDeliveryDispatcher(DefaultDispatcherConfig(), DispatcherDeps{
		Repository: repo,
		Senders: SenderMap{
			notification.ChannelDesktop: okSender(notification.ChannelDesktop),
			notification.ChannelEmail:   failingSender(notification.ChannelEmail, false),
		},
		Clock: h.clock,
		Sleep: h.sleeper.Sleep,
	})

	outcome, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, outcome.Status)

	stored, err := h.repo.FindByID(context.Background(), n.ID())
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, stored.Status())
	assert.Equal(t, notification.ReceiptDelivered, receiptOf(t, stored, notification.ChannelDesktop).Status())
	assert.Equal(t, notification.ReceiptFailed, receiptOf(t, stored, notification.ChannelEmail).Status())
	assert.Equal(t, 2, h.repo.Saves())
}

func TestDispatch_CancelledDuringBackoffLeavesReceiptPending(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDeliveryDispatcher(DefaultDispatcherConfig(), DispatcherDeps{
		Repository: h.repo,
		Senders:    SenderMap{notification.ChannelEmail: failingSender(notification.ChannelEmail, true)},
		DeadLetter: h.sink,
		Clock:      h.clock,
		Sleep: func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		},
	})
	n := newPendingNotification(t, h.repo, notification.ScheduleWindow{}, notification.ChannelEmail)

	outcome, err := d.Dispatch(ctx, n)
	require.NoError(t, err)

	assert.Equal(t, notification.StatusPending, outcome.Status)
	r := receiptOf(t, n, notification.ChannelEmail)
	assert.Equal(t, notification.ReceiptPending, r.Status())
	assert.Equal(t, 1, r.RetryCount())
	assert.Empty(t, h.sink.entries)
}

func TestDispatch_RejectsConcurrentDispatchOfSameNotification(t *testing.T) {
	h := newHarness()
	started, release := make(chan struct{}), make(chan struct{})
	blocking := &fakeSender{channel: notification.ChannelEmail, send: func(int) error {
		close(started)
		<-release
		return nil
	}}
	d := h.dispatcher(DefaultDispatcherConfig(), blocking)
	n := newPendingNotification(t, h.repo, notification.ScheduleWindow{}, notification.ChannelEmail)

	done := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(context.Background(), n)
		done <- err
	}()
	<-started

	_, err := d.Dispatch(context.Background(), n)
	assert.ErrorIs(t, err, ErrDispatchInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, blocking.Calls())
}

func TestDispatch_SkipsAlreadySent(t *testing.T) {
	h := newHarness()
	email := okSender(notification.ChannelEmail)
	d := h.dispatcher(DefaultDispatcherConfig(), email)
	n := newPendingNotification(t, h.repo, notification.ScheduleWindow{}, notification.ChannelEmail)

	_, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	outcome, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)

	assert.True(t, outcome.Skipped)
	assert.Equal(t, 1, email.Calls())
}

func TestEnqueue_RunsInBackgroundUntilStopped(t *testing.T) {
	h := newHarness()
	d := h.dispatcher(DefaultDispatcherConfig(), okSender(notification.ChannelInApp))
	n := newPendingNotification(t, h.repo, notification.ScheduleWindow{}, notification.ChannelInApp)

	require.NoError(t, d.Enqueue(n))
	require.Eventually(t, func() bool { return h.repo.Saves() == 2 }, time.Second, 5*time.Millisecond)

	d.Stop()
	assert.ErrorIs(t, d.Enqueue(n), ErrDispatcherStopped)
}

func TestEnqueue_ConcurrentWithStop(t *testing.T) {
	h := newHarness()
	d := h.dispatcher(DefaultDispatcherConfig(), okSender(notification.ChannelInApp))
	n := newPendingNotification(t, h.repo, notification.ScheduleWindow{}, notification.ChannelInApp)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Enqueue(n); err != nil {
				assert.ErrorIs(t, err, ErrDispatcherStopped)
			}
		}()
	}
	d.Stop()
	wg.Wait()

	assert.ErrorIs(t, d.Enqueue(n), ErrDispatcherStopped)
}

func TestDispatch_PanickingSenderDoesNotBlockSiblings(t *testing.T) {
	h := newHarness()
	broken := &fakeSender{channel: notification.ChannelEmail, send: func(int) error { panic("sdk bug") }}
	desktop := okSender(notification.ChannelDesktop)
	d := h.dispatcher(DefaultDispatcherConfig(), broken, desktop)
	n := newPendingNotification(t, h.repo, notification.ScheduleWindow{}, notification.ChannelDesktop, notification.ChannelEmail)

	done := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(context.Background(), n)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not return after a sender panic")
	}
	assert.Equal(t, notification.ReceiptDelivered, receiptOf(t, n, notification.ChannelDesktop).Status())
}

func TestDispatch_DeliveryLogCarriesAttempt(t *testing.T) {
	h := newHarness()
	core, logs := observer.New(zapcore.DebugLevel)
	flaky := &fakeSender{channel: notification.ChannelEmail, send: func(attempt int) error {
		if attempt == 1 {
			return notification.NewSendError(notification.ChannelEmail, errors.New("timeout"), true)
		}
		return nil
	}}
	d := NewDeliveryDispatcher(DefaultDispatcherConfig(), DispatcherDeps{
		Repository: h.repo,
		Senders:    SenderMap{notification.ChannelEmail: flaky},
		Clock:      h.clock,
		Sleep:      h.sleeper.Sleep,
		Logger:     zap.New(core),
	})
	n := newPendingNotification(t, h.repo, notification.ScheduleWindow{}, notification.ChannelEmail)

	_, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)

	delivered := logs.FilterMessage("channel delivered").All()
	require.Len(t, delivered, 1)
	assert.EqualValues(t, 2, delivered[0].ContextMap()["attempt"])
}

func TestDispatchRun_RejectedTransitionIsLogged(t *testing.T) {
	h := newHarness()
	core, logs := observer.New(zapcore.WarnLevel)
	d := h.dispatcher(DefaultDispatcherConfig())
	n := newPendingNotification(t, h.repo, notification.ScheduleWindow{}, notification.ChannelEmail)
	run := d.newRun(n, notification.RecipientContext{}, zap.New(core))

	run.mu.Lock()
	ok := run.applyLogged(receiptOp{kind: opDelivered, channel: notification.ChannelEmail, at: baseTime}, run.log)
	run.mu.Unlock()

	assert.False(t, ok)
	assert.Empty(t, run.ops)
	assert.Equal(t, notification.ReceiptPending, receiptOf(t, n, notification.ChannelEmail).Status())

	rejected := logs.FilterMessage("receipt transition rejected").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, "delivered", rejected[0].ContextMap()["op"])
}

func TestDispatch_SavesOnceAfterAllChannelsSettle(t *testing.T) {
	h := newHarness()
	desktop := okSender(notification.ChannelDesktop)
	email := &fakeSender{channel: notification.ChannelEmail, send: func(attempt int) error {
		if attempt == 1 {
			return notification.NewSendError(notification.ChannelEmail, errors.New("throttled"), true)
		}
		return nil
	}}

	waiting := make(chan struct{})
	release := make(chan struct{})
	d := NewDeliveryDispatcher(DefaultDispatcherConfig(), DispatcherDeps{
		Repository: h.repo,
		Senders:    SenderMap{notification.ChannelDesktop: desktop, notification.ChannelEmail: email},
		Clock:      h.clock,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			close(waiting)
			<-release
			return nil
		},
	})
	n := newPendingNotification(t, h.repo, notification.ScheduleWindow{}, notification.ChannelDesktop, notification.ChannelEmail)

	done := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(context.Background(), n)
		done <- err
	}()

	<-waiting
	require.Eventually(t, func() bool { return desktop.Calls() == 1 }, time.Second, time.Millisecond)
	stored, err := h.repo.FindByID(context.Background(), n.ID())
	require.NoError(t, err)
	assert.Equal(t, notification.StatusPending, stored.Status())
	assert.Equal(t, notification.ReceiptPending, receiptOf(t, stored, notification.ChannelDesktop).Status())

	close(release)
	require.NoError(t, <-done)

	stored, err = h.repo.FindByID(context.Background(), n.ID())
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, stored.Status())
	assert.Equal(t, notification.ReceiptDelivered, receiptOf(t, stored, notification.ChannelEmail).Status())
}
