// Package messaging fans notifications out to channel senders and moves
// domain events and dead letters between processes.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
	"github.com/alem-hub/notification-engine/internal/infrastructure/metrics"
	"github.com/alem-hub/notification-engine/pkg/logger"
	"github.com/alem-hub/notification-engine/pkg/retry"
	"github.com/alem-hub/notification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DELIVERY DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// ErrDispatchInProgress is returned when the same notification is already being dispatched.
var ErrDispatchInProgress = errors.New("dispatch already in progress for notification")

// ErrDispatcherStopped is returned by Enqueue after Stop.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

const reasonNotDispatchable = "notification no longer dispatchable"

// Senders resolves the sender for a channel.
type Senders interface {
	Sender(ch notification.Channel) (notification.ChannelSender, bool)
}

// SenderMap is the simplest Senders implementation.
type SenderMap map[notification.Channel]notification.ChannelSender

// Sender implements Senders.
func (m SenderMap) Sender(ch notification.Channel) (notification.ChannelSender, bool) {
	s, ok := m[ch]
	return s, ok
}

// DeliveryCounter records successful deliveries for per-channel rate limits.
type DeliveryCounter interface {
	Increment(ctx context.Context, accountID shared.AccountID, ch notification.Channel, at time.Time) error
}

// DispatcherConfig contains configuration for the DeliveryDispatcher.
type DispatcherConfig struct {
	// MaxRetries is the number of send attempts per channel. Zero still makes one attempt.
	MaxRetries int

	// RetryDelayBase is the backoff base: the wait after attempt k (zero-based) is base * 2^k.
	RetryDelayBase time.Duration

	// MaxRetryDelay caps a single backoff wait. Zero means no cap.
	MaxRetryDelay time.Duration

	// ChannelTimeout bounds a single sender call.
	ChannelTimeout time.Duration

	// FailWhenAllExhausted marks the notification failed when no channel delivered
	// and every channel is exhausted.
	FailWhenAllExhausted bool

	// WorkerPoolSize bounds concurrent dispatches (not channels).
	WorkerPoolSize int
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxRetries:           notification.DefaultMaxRetries,
		RetryDelayBase:       time.Second,
		MaxRetryDelay:        time.Minute,
		ChannelTimeout:       10 * time.Second,
		FailWhenAllExhausted: true,
		WorkerPoolSize:       32,
	}
}

// DispatcherDeps groups the collaborators of the dispatcher.
type DispatcherDeps struct {
	Repository notification.NotificationRepository
	Senders    Senders
	Recipients notification.RecipientResolver
	DeadLetter notification.DeadLetterSink
	Publisher  shared.EventPublisher
	Counter    DeliveryCounter
	Metrics    *metrics.DeliveryMetrics
	Logger     *zap.Logger
	Clock      timeutil.Clock

	// Sleep waits between attempts. Defaults to retry.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DeliveryDispatcher delivers a notification to each of its channels concurrently,
// retries failed channels with exponential backoff and dead-letters exhausted ones.
// Per-channel outcomes are written to the aggregate and saved once, after all
// channel tasks have finished.
type DeliveryDispatcher struct {
	cfg  DispatcherConfig
	deps DispatcherDeps

	inflight   sync.Map
	workerPool chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stateMu sync.Mutex
	stopped bool
}

// NewDeliveryDispatcher creates a dispatcher.
func NewDeliveryDispatcher(cfg DispatcherConfig, deps DispatcherDeps) *DeliveryDispatcher {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = 10 * time.Second
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 32
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock{}
	}
	if deps.Sleep == nil {
		deps.Sleep = retry.Sleep
	}
	if deps.Senders == nil {
		deps.Senders = SenderMap{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &DeliveryDispatcher{
		cfg:        cfg,
		deps:       deps,
		workerPool: make(chan struct{}, cfg.WorkerPoolSize),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Enqueue dispatches n in the background. The dispatcher owns n afterwards.
func (d *DeliveryDispatcher) Enqueue(n *notification.Notification) error {
	d.stateMu.Lock()
	if d.stopped || d.ctx.Err() != nil {
		d.stateMu.Unlock()
		return ErrDispatcherStopped
	}
	d.wg.Add(1)
	d.stateMu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.deps.Logger.Error("dispatch panic recovered",
					logger.NotificationID(n.ID().String()),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())),
				)
			}
		}()
		if _, err := d.Dispatch(d.ctx, n); err != nil && !errors.Is(err, context.Canceled) {
			d.deps.Logger.Warn("background dispatch failed",
				logger.NotificationID(n.ID().String()),
				zap.Error(err),
			)
		}
	}()
	return nil
}

// Stop cancels background dispatches and waits for them to return.
func (d *DeliveryDispatcher) Stop() {
	d.stateMu.Lock()
	d.stopped = true
	d.stateMu.Unlock()

	d.cancel()
	d.wg.Wait()
	d.deps.Logger.Info("delivery dispatcher stopped")
}

// Dispatch delivers n to every channel whose receipt is not yet settled and
// persists the result. Channel failures are recorded on receipts and never
// returned; the error covers recipient resolution, persistence and cancellation.
func (d *DeliveryDispatcher) Dispatch(ctx context.Context, n *notification.Notification) (notification.DispatchOutcome, error) {
	outcome := notification.DispatchOutcome{NotificationID: n.ID()}

	if _, busy := d.inflight.LoadOrStore(n.ID(), struct{}{}); busy {
		return outcome, ErrDispatchInProgress
	}
	defer d.inflight.Delete(n.ID())
	outcome.Status = n.Status()

	select {
	case d.workerPool <- struct{}{}:
		defer func() { <-d.workerPool }()
	case <-ctx.Done():
		return outcome, ctx.Err()
	}

	log := d.deps.Logger.With(
		logger.NotificationID(n.ID().String()),
		logger.AccountID(n.AccountID().String()),
	)

	now := d.deps.Clock.Now()
	if n.Status() != notification.StatusPending {
		outcome.Skipped = true
		return outcome, nil
	}
	if !n.ShouldSend(now) {
		if !n.IsExpired(now) {
			outcome.Skipped = true
			return outcome, nil
		}
		run := d.newRun(n, notification.RecipientContext{}, log)
		run.finalize(now)
		return run.persist(ctx, outcome)
	}

	recipient, err := d.resolveRecipient(ctx, n)
	if err != nil {
		return outcome, err
	}

	done := d.deps.Metrics.DispatchStarted()
	run := d.newRun(n, recipient, log)

	var wg sync.WaitGroup
	for _, ch := range n.Channels() {
		wg.Add(1)
		go func(ch notification.Channel) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error("channel task panic recovered",
						logger.Channel(ch.String()),
						zap.Any("panic", r),
						zap.String("stack", string(debug.Stack())),
					)
				}
			}()
			run.deliver(ctx, ch)
		}(ch)
	}
	wg.Wait()

	run.finalize(d.deps.Clock.Now())
	outcome, err = run.persist(ctx, outcome)
	done(string(outcome.Status))
	return outcome, err
}

func (d *DeliveryDispatcher) resolveRecipient(ctx context.Context, n *notification.Notification) (notification.RecipientContext, error) {
	if d.deps.Recipients == nil {
		return notification.RecipientContext{AccountID: n.AccountID()}, nil
	}
	recipient, err := d.deps.Recipients.Resolve(ctx, n.AccountID())
	if err != nil {
		return notification.RecipientContext{}, fmt.Errorf("resolve recipient %s: %w", n.AccountID(), err)
	}
	if !recipient.AccountID.IsValid() {
		recipient.AccountID = n.AccountID()
	}
	return recipient, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCH RUN
// ══════════════════════════════════════════════════════════════════════════════

type opKind int

const (
	opSent opKind = iota
	opDelivered
	opFailed
	opRetry
)

func (k opKind) String() string {
	switch k {
	case opSent:
		return "sent"
	case opDelivered:
		return "delivered"
	case opFailed:
		return "failed"
	case opRetry:
		return "retry"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

// receiptOp is one receipt mutation. The log of ops is replayed onto a freshly
// loaded aggregate when the save loses an optimistic-lock race.
type receiptOp struct {
	kind       opKind
	channel    notification.Channel
	at         time.Time
	reason     string
	retryable  bool
	maxRetries int
	metadata   map[string]string
}

func (op receiptOp) apply(n *notification.Notification) error {
	switch op.kind {
	case opSent:
		return n.MarkChannelSent(op.channel, op.at)
	case opDelivered:
		return n.MarkChannelDelivered(op.channel, op.at, op.metadata)
	case opFailed:
		return n.MarkChannelFailed(op.channel, op.reason, op.retryable, op.maxRetries, op.at)
	case opRetry:
		return n.RetryChannel(op.channel, op.at)
	default:
		return fmt.Errorf("unknown receipt op %d", op.kind)
	}
}

type dispatchRun struct {
	d   *DeliveryDispatcher
	log *zap.Logger

	// mu guards n and the collected results; never held across I/O or backoff.
	mu          sync.Mutex
	n           *notification.Notification
	ops         []receiptOp
	deadLetters []notification.DeadLetter

	// view is a private copy handed to senders so they never read the aggregate
	// while sibling channel tasks mutate it.
	view      *notification.Notification
	recipient notification.RecipientContext
}

func (d *DeliveryDispatcher) newRun(n *notification.Notification, recipient notification.RecipientContext, log *zap.Logger) *dispatchRun {
	view, err := notification.Reconstitute(n.Snapshot())
	if err != nil {
		view = n
	}
	return &dispatchRun{d: d, log: log, n: n, view: view, recipient: recipient}
}

// apply must be called with r.mu held.
func (r *dispatchRun) apply(op receiptOp) error {
	if err := op.apply(r.n); err != nil {
		return err
	}
	r.ops = append(r.ops, op)
	return nil
}

func (r *dispatchRun) receipt(ch notification.Channel) notification.DeliveryReceipt {
	rec, _ := r.n.Receipt(ch)
	return rec
}

func (r *dispatchRun) deliver(ctx context.Context, ch notification.Channel) {
	cfg := r.d.cfg
	log := r.log.With(logger.Channel(ch.String()))

	sender, ok := r.d.deps.Senders.Sender(ch)

	for {
		now := r.d.deps.Clock.Now()
		attempt, proceed := r.prepareAttempt(ch, now, log)
		if !proceed {
			return
		}

		var (
			result notification.DeliveryResult
			err    error
		)
		if !ok {
			err = notification.NewSendError(ch, fmt.Errorf("no sender registered for channel %s", ch), false)
		} else {
			result, err = r.send(ctx, sender)
		}
		took := r.d.deps.Clock.Now().Sub(now)

		if err == nil {
			r.recordSuccess(ctx, ch, now, attempt+1, result, took, log)
			return
		}

		if ctx.Err() != nil {
			// shutting down: leave the receipt pending for the next dispatch
			log.Info("dispatch cancelled", logger.Attempt(attempt+1))
			return
		}

		retryable := isRetryable(err)
		r.d.deps.Metrics.Failed(ch.String(), retryable, took)
		log.Warn("channel send failed",
			logger.Attempt(attempt+1),
			zap.Bool("retryable", retryable),
			zap.Error(err),
		)

		retryCount, entry, again := r.recordFailure(ch, err.Error(), retryable, log)
		if entry != nil {
			r.recordDeadLetter(ctx, *entry, log)
		}
		if !again {
			return
		}

		r.d.deps.Metrics.Retry(ch.String())
		delay := retry.Backoff(cfg.RetryDelayBase, retryCount-1, cfg.MaxRetryDelay)
		log.Debug("retrying channel", logger.Attempt(retryCount+1), zap.Duration("backoff", delay))
		if err := r.d.deps.Sleep(ctx, delay); err != nil {
			return
		}
	}
}

// prepareAttempt re-checks the aggregate and re-arms a retrying receipt. It
// returns the zero-based attempt number and whether to send.
func (r *dispatchRun) prepareAttempt(ch notification.Channel, now time.Time, log *zap.Logger) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.receipt(ch)
	if rec.Status().IsTerminal() {
		return 0, false
	}
	if !r.n.ShouldSend(now) {
		r.applyLogged(receiptOp{kind: opFailed, channel: ch, at: now, reason: reasonNotDispatchable}, log)
		return 0, false
	}
	if rec.Status() == notification.ReceiptRetrying {
		if !r.applyLogged(receiptOp{kind: opRetry, channel: ch, at: now}, log) {
			return 0, false
		}
		rec = r.receipt(ch)
	}
	return rec.RetryCount(), true
}

// recordFailure applies a failed attempt to the receipt. It returns the retry
// count after the failure, a dead letter when the channel is exhausted, and
// whether another attempt should follow.
func (r *dispatchRun) recordFailure(ch notification.Channel, reason string, retryable bool, log *zap.Logger) (int, *notification.DeadLetter, bool) {
	maxRetries := r.d.cfg.MaxRetries
	failedAt := r.d.deps.Clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.applyLogged(receiptOp{kind: opFailed, channel: ch, at: failedAt, reason: reason, retryable: retryable, maxRetries: maxRetries}, log) {
		return 0, nil, false
	}
	if r.receipt(ch).Status() == notification.ReceiptFailed {
		entry := r.deadLetterLocked(ch, reason, failedAt)
		return r.receipt(ch).RetryCount(), &entry, false
	}
	if !r.applyLogged(receiptOp{kind: opRetry, channel: ch, at: failedAt}, log) {
		return 0, nil, false
	}
	retryCount := r.receipt(ch).RetryCount()
	if retryCount >= maxRetries {
		r.applyLogged(receiptOp{kind: opFailed, channel: ch, at: failedAt, reason: reason, retryable: false, maxRetries: maxRetries}, log)
		entry := r.deadLetterLocked(ch, reason, failedAt)
		return retryCount, &entry, false
	}
	return retryCount, nil, true
}

// applyLogged must be called with r.mu held. A rejected transition is logged
// and reported as false.
func (r *dispatchRun) applyLogged(op receiptOp, log *zap.Logger) bool {
	if err := r.apply(op); err != nil {
		log.Warn("receipt transition rejected",
			zap.Stringer("op", op.kind),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (r *dispatchRun) send(ctx context.Context, sender notification.ChannelSender) (notification.DeliveryResult, error) {
	sendCtx, cancel := context.WithTimeout(ctx, r.d.cfg.ChannelTimeout)
	defer cancel()
	r.d.deps.Metrics.Attempt(sender.Channel().String())
	return sender.Send(sendCtx, r.view, r.recipient)
}

func (r *dispatchRun) recordSuccess(ctx context.Context, ch notification.Channel, sentAt time.Time, attempt int, result notification.DeliveryResult, took time.Duration, log *zap.Logger) {
	deliveredAt := r.d.deps.Clock.Now()
	if !result.DeliveredAt.IsZero() && !result.DeliveredAt.Before(sentAt) {
		deliveredAt = result.DeliveredAt
	}
	if deliveredAt.Before(sentAt) {
		deliveredAt = sentAt
	}

	if !r.markDelivered(ch, sentAt, deliveredAt, result.Metadata, log) {
		return
	}

	r.d.deps.Metrics.Delivered(ch.String(), took)
	log.Debug("channel delivered",
		logger.Attempt(attempt),
		zap.String("message_id", result.MessageID),
	)

	if r.d.deps.Counter != nil {
		if err := r.d.deps.Counter.Increment(ctx, r.n.AccountID(), ch, deliveredAt); err != nil {
			log.Warn("delivery counter update failed", zap.Error(err))
		}
	}
}

func (r *dispatchRun) markDelivered(ch notification.Channel, sentAt, deliveredAt time.Time, metadata map[string]string, log *zap.Logger) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyLogged(receiptOp{kind: opSent, channel: ch, at: sentAt}, log) &&
		r.applyLogged(receiptOp{kind: opDelivered, channel: ch, at: deliveredAt, metadata: metadata}, log)
}

// deadLetterLocked must be called with r.mu held.
func (r *dispatchRun) deadLetterLocked(ch notification.Channel, reason string, at time.Time) notification.DeadLetter {
	entry := notification.DeadLetter{
		NotificationID: r.n.ID(),
		AccountID:      r.n.AccountID(),
		Channel:        ch,
		Error:          reason,
		RetryCount:     r.receipt(ch).RetryCount(),
		Timestamp:      at,
	}
	r.deadLetters = append(r.deadLetters, entry)
	return entry
}

func (r *dispatchRun) recordDeadLetter(ctx context.Context, entry notification.DeadLetter, log *zap.Logger) {
	r.d.deps.Metrics.DeadLettered(entry.Channel.String())
	log.Error("delivery dead-lettered",
		zap.Int("retry_count", entry.RetryCount),
		zap.String("reason", entry.Error),
	)
	if r.d.deps.DeadLetter == nil {
		return
	}
	// the sink must not be skipped because the dispatch itself was cancelled
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.d.deps.DeadLetter.Record(sinkCtx, entry); err != nil {
		log.Error("dead-letter sink failed", zap.Error(err))
	}
}

// finalize moves the aggregate out of pending once channel tasks are done.
// Until then the aggregate stays PENDING and nothing is saved, even for
// channels that already delivered: ShouldSend is gated on PENDING, so the
// status cannot advance while sibling channels are still retrying. Reads and
// dismissals are rejected for that window.
func (r *dispatchRun) finalize(now time.Time) {
	finalizeAggregate(r.n, now, r.d.cfg.FailWhenAllExhausted, r.log)
}

func finalizeAggregate(n *notification.Notification, now time.Time, failWhenAllExhausted bool, log *zap.Logger) {
	if n.Status() != notification.StatusPending {
		return
	}
	if sentAt, ok := n.EarliestDeliverySentAt(); ok {
		if err := n.MarkAsSent(sentAt); err != nil {
			log.Warn("cannot mark notification sent", zap.Error(err))
		}
		return
	}
	if n.IsExpired(now) {
		if err := n.MarkAsExpired(now); err != nil {
			log.Warn("cannot mark notification expired", zap.Error(err))
		}
		return
	}
	if failWhenAllExhausted && n.AllChannelsSettled() {
		if err := n.MarkAsFailed(now); err != nil {
			log.Warn("cannot mark notification failed", zap.Error(err))
		}
	}
}

// persist saves the aggregate. On an optimistic-lock conflict the aggregate is
// reloaded, the op log replayed and the save retried.
func (r *dispatchRun) persist(ctx context.Context, outcome notification.DispatchOutcome) (notification.DispatchOutcome, error) {
	repo := r.d.deps.Repository
	saveCtx := context.WithoutCancel(ctx)

	if repo != nil {
		attempt := 0
		err := retry.ConflictRetrier(shared.IsOptimisticLock).Do(saveCtx, func(ctx context.Context) error {
			attempt++
			if attempt > 1 {
				if err := r.reload(ctx); err != nil {
					return retry.Permanent(err)
				}
			}
			return repo.Save(ctx, r.n)
		})
		if err != nil {
			return r.fillOutcome(outcome), fmt.Errorf("save notification %s: %w", r.n.ID(), err)
		}
	}

	r.publish()
	return r.fillOutcome(outcome), nil
}

func (r *dispatchRun) reload(ctx context.Context) error {
	fresh, err := r.d.deps.Repository.FindByID(ctx, r.n.ID())
	if err != nil {
		return err
	}
	for _, op := range r.ops {
		if err := op.apply(fresh); err != nil && !shared.IsStateConflict(err) && !shared.IsNotFound(err) {
			return err
		}
	}
	finalizeAggregate(fresh, r.d.deps.Clock.Now(), r.d.cfg.FailWhenAllExhausted, r.log)
	r.log.Info("re-applied delivery outcomes after version conflict",
		zap.Int64("version", fresh.Version()),
		zap.Int("ops", len(r.ops)),
	)
	r.n = fresh
	return nil
}

func (r *dispatchRun) publish() {
	pub := r.d.deps.Publisher
	events := r.n.PullEvents()
	if pub == nil {
		return
	}
	for _, entry := range r.deadLetters {
		events = append(events, notification.NewDeliveryDeadLetteredEvent(entry))
	}
	for _, e := range events {
		if err := pub.Publish(e); err != nil {
			r.log.Warn("event publish failed", zap.String("event_type", string(e.EventType())), zap.Error(err))
		}
	}
}

func (r *dispatchRun) fillOutcome(outcome notification.DispatchOutcome) notification.DispatchOutcome {
	outcome.Status = r.n.Status()
	for _, ch := range r.n.Channels() {
		rec, _ := r.n.Receipt(ch)
		switch rec.Status() {
		case notification.ReceiptDelivered:
			outcome.Delivered = append(outcome.Delivered, ch)
		case notification.ReceiptFailed:
			outcome.Failed = append(outcome.Failed, ch)
		}
	}
	for _, entry := range r.deadLetters {
		outcome.DeadLettered = append(outcome.DeadLettered, entry.Channel)
	}
	notification.SortChannels(outcome.DeadLettered)
	return outcome
}

// isRetryable classifies a sender error. Unknown errors are treated as transient.
func isRetryable(err error) bool {
	var sendErr *notification.SendError
	if errors.As(err, &sendErr) {
		return sendErr.Retryable
	}
	return true
}
