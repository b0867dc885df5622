// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
	"github.com/alem-hub/notification-engine/pkg/logger"
	"github.com/alem-hub/notification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE AND SEND NOTIFICATION COMMAND
// Создаёт уведомление по настройкам получателя и передаёт его диспетчеру.
//
// Поток: настройки -> счётчики доставок -> выбор каналов -> агрегат ->
// сохранение -> события -> диспетчер. Ошибки каналов сюда не доходят:
// команда падает только на настройках, валидации и сохранении.
// ══════════════════════════════════════════════════════════════════════════════

// CreateAndSendNotificationCommand contains the data for a new notification.
type CreateAndSendNotificationCommand struct {
	// AccountID is the recipient.
	AccountID shared.AccountID

	// Type classifies the notification and picks its default priority and template.
	Type notification.NotificationType

	// Priority overrides Type.DefaultPriority() when non-zero.
	Priority notification.Priority

	// Title and Body are used as-is when set. Otherwise the type's template
	// is rendered with TemplateData.
	Title        string
	Body         string
	TemplateData map[string]interface{}

	IconURL  string
	ImageURL string

	// Channels restricts delivery to these channels (intersected with what
	// the recipient allows). Empty means priority-based selection.
	Channels []notification.Channel

	ScheduledAt *time.Time
	ExpiresAt   *time.Time

	// Metadata is stored on the notification (deep links, trigger ids).
	Metadata map[string]string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c CreateAndSendNotificationCommand) Validate() error {
	if !c.AccountID.IsValid() {
		return errors.New("create_notification: account_id is required")
	}
	if !c.Type.IsValid() {
		return fmt.Errorf("create_notification: unknown type %q", c.Type)
	}
	if c.Priority != 0 && !c.Priority.IsValid() {
		return fmt.Errorf("create_notification: invalid priority %d", c.Priority)
	}
	for _, ch := range c.Channels {
		if !ch.IsValid() {
			return fmt.Errorf("create_notification: unknown channel %q", ch)
		}
	}
	return nil
}

// CreateAndSendNotificationResult describes the created notification.
type CreateAndSendNotificationResult struct {
	NotificationID notification.NotificationID
	Channels       []notification.Channel
	Priority       notification.Priority
	Status         notification.Status

	// Enqueued is true when the notification was handed to the dispatcher
	// right away. Scheduled notifications are picked up by the pending job.
	Enqueued bool

	CreatedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// COLLABORATORS
// ══════════════════════════════════════════════════════════════════════════════

// Enqueuer accepts notifications for background delivery.
type Enqueuer interface {
	Enqueue(n *notification.Notification) error
}

// RecentDeliveries returns per-channel delivery counts within each rate limit's period.
type RecentDeliveries interface {
	Counts(ctx context.Context, accountID shared.AccountID, limits map[notification.Channel]notification.RateLimit, now time.Time) (notification.DeliveryCounts, error)
}

// ChannelGate reports whether a channel is rolled out to an account.
// config.FeatureFlags satisfies it.
type ChannelGate interface {
	ChannelEnabled(accountID string, ch notification.Channel) bool
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CreateAndSendNotificationHandler handles CreateAndSendNotificationCommand.
type CreateAndSendNotificationHandler struct {
	notifications notification.NotificationRepository
	preferences   notification.PreferenceRepository
	selector      *notification.ChannelSelectionService
	templates     map[notification.NotificationType]notification.Template
	dispatcher    Enqueuer
	counter       RecentDeliveries // optional
	gate          ChannelGate      // optional
	publisher     shared.EventPublisher
	clock         timeutil.Clock
	logger        *zap.Logger
}

// CreateAndSendDeps groups the handler's collaborators. Counter, Gate,
// Publisher and Dispatcher are optional.
type CreateAndSendDeps struct {
	Notifications notification.NotificationRepository
	Preferences   notification.PreferenceRepository
	Dispatcher    Enqueuer
	Counter       RecentDeliveries
	Gate          ChannelGate
	Publisher     shared.EventPublisher
	Templates     map[notification.NotificationType]notification.Template
	Clock         timeutil.Clock
	Logger        *zap.Logger
}

// NewCreateAndSendNotificationHandler creates a new handler.
func NewCreateAndSendNotificationHandler(deps CreateAndSendDeps) *CreateAndSendNotificationHandler {
	if deps.Templates == nil {
		deps.Templates = notification.DefaultTemplates()
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &CreateAndSendNotificationHandler{
		notifications: deps.Notifications,
		preferences:   deps.Preferences,
		selector:      notification.NewChannelSelectionService(),
		templates:     deps.Templates,
		dispatcher:    deps.Dispatcher,
		counter:       deps.Counter,
		gate:          deps.Gate,
		publisher:     deps.Publisher,
		clock:         deps.Clock,
		logger:        deps.Logger.With(logger.Component("create_notification")),
	}
}

// Handle executes the command. It returns notification.ErrPreferenceBlocked
// when the recipient's preferences leave no channel to deliver to.
func (h *CreateAndSendNotificationHandler) Handle(
	ctx context.Context,
	cmd CreateAndSendNotificationCommand,
) (*CreateAndSendNotificationResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("notification", "CreateAndSend", shared.ErrValidation, err.Error(), err)
	}

	now := h.clock.Now()
	log := h.logger.With(logger.AccountID(cmd.AccountID.String()), zap.String("type", cmd.Type.String()))
	if cmd.CorrelationID != "" {
		log = log.With(zap.String("correlation_id", cmd.CorrelationID))
	}

	// Step 1: настройки получателя
	pref, err := h.preferences.GetOrCreateDefault(ctx, cmd.AccountID)
	if err != nil {
		return nil, fmt.Errorf("create_notification: load preferences: %w", err)
	}
	if pref.IsBlocked(cmd.Type) {
		log.Debug("notification blocked by preferences")
		return nil, notification.ErrPreferenceBlocked
	}

	// Step 2: выбор каналов
	priority := cmd.Priority
	if priority == 0 {
		priority = cmd.Type.DefaultPriority()
	}
	channels := h.selector.SelectChannels(notification.SelectionRequest{
		Preference: pref,
		Type:       cmd.Type,
		Priority:   priority,
		Requested:  cmd.Channels,
		Now:        now,
		Recent:     h.recentDeliveries(ctx, pref, now, log),
	})
	channels = h.rolledOut(cmd.AccountID, channels)
	if len(channels) == 0 {
		log.Debug("no channel allowed for notification")
		return nil, notification.ErrPreferenceBlocked
	}

	// Step 3: агрегат
	n, err := h.build(cmd, priority, channels, now)
	if err != nil {
		return nil, err
	}

	// Step 4: сохранение
	if err := h.notifications.Save(ctx, n); err != nil {
		return nil, fmt.Errorf("create_notification: save: %w", err)
	}

	result := &CreateAndSendNotificationResult{
		NotificationID: n.ID(),
		Channels:       n.Channels(),
		Priority:       n.Priority(),
		Status:         n.Status(),
		CreatedAt:      n.CreatedAt(),
	}
	log = log.With(logger.NotificationID(n.ID().String()))

	// Step 5: события (до передачи агрегата диспетчеру)
	h.publish(n.PullEvents(), log)

	// Step 6: доставка
	if h.dispatcher != nil && n.ShouldSend(now) {
		if err := h.dispatcher.Enqueue(n); err != nil {
			// Уведомление сохранено; его подберёт задача dispatch_pending.
			log.Warn("enqueue failed, leaving notification pending", zap.Error(err))
		} else {
			result.Enqueued = true
		}
	}

	log.Info("notification created",
		zap.Strings("channels", channelNames(result.Channels)),
		zap.Bool("enqueued", result.Enqueued),
	)
	return result, nil
}

func (h *CreateAndSendNotificationHandler) build(
	cmd CreateAndSendNotificationCommand,
	priority notification.Priority,
	channels []notification.Channel,
	now time.Time,
) (*notification.Notification, error) {
	title, body := cmd.Title, cmd.Body
	if title == "" || body == "" {
		if tmpl, ok := h.templates[cmd.Type]; ok {
			renderedTitle, renderedBody := tmpl.Render(cmd.TemplateData)
			if title == "" {
				title = renderedTitle
			}
			if body == "" {
				body = renderedBody
			}
		}
	}

	content, err := notification.NewContent(title, body, cmd.IconURL, cmd.ImageURL)
	if err != nil {
		return nil, err
	}
	set, err := notification.NewChannelSet(channels, priority)
	if err != nil {
		return nil, err
	}
	window, err := notification.NewScheduleWindow(cmd.ScheduledAt, cmd.ExpiresAt, now)
	if err != nil {
		return nil, err
	}

	metadata := make(map[string]string, len(cmd.Metadata)+1)
	for k, v := range cmd.Metadata {
		metadata[k] = v
	}
	if cmd.CorrelationID != "" {
		metadata["correlation_id"] = cmd.CorrelationID
	}

	return notification.NewNotification(notification.NewNotificationParams{
		ID:        notification.NotificationID(uuid.NewString()),
		AccountID: cmd.AccountID,
		Type:      cmd.Type,
		Content:   content,
		Channels:  set,
		Window:    window,
		Metadata:  metadata,
		ReceiptIDs: func(notification.Channel) notification.ReceiptID {
			return notification.ReceiptID(uuid.NewString())
		},
		Now: now,
	})
}

// recentDeliveries reads delivery counts for rate-limited channels. Without a
// counter, or when it fails, limits are not applied.
func (h *CreateAndSendNotificationHandler) recentDeliveries(
	ctx context.Context,
	pref *notification.Preference,
	now time.Time,
	log *zap.Logger,
) notification.DeliveryCounts {
	limits := pref.RateLimitedChannels()
	if h.counter == nil || len(limits) == 0 {
		return nil
	}
	counts, err := h.counter.Counts(ctx, pref.AccountID(), limits, now)
	if err != nil {
		log.Warn("delivery counts unavailable, rate limits skipped", zap.Error(err))
		return nil
	}
	return counts
}

func (h *CreateAndSendNotificationHandler) publish(events []shared.Event, log *zap.Logger) {
	publishAll(h.publisher, events, log)
}

// rolledOut drops channels the gate has not enabled for the account.
func (h *CreateAndSendNotificationHandler) rolledOut(accountID shared.AccountID, channels []notification.Channel) []notification.Channel {
	if h.gate == nil {
		return channels
	}
	out := channels[:0:0]
	for _, ch := range channels {
		if h.gate.ChannelEnabled(accountID.String(), ch) {
			out = append(out, ch)
		}
	}
	return out
}

// publishAll publishes events, logging failures.
func publishAll(pub shared.EventPublisher, events []shared.Event, log *zap.Logger) {
	if pub == nil {
		return
	}
	for _, e := range events {
		if err := pub.Publish(e); err != nil {
			log.Warn("event publish failed", zap.String("event_type", string(e.EventType())), zap.Error(err))
		}
	}
}

func channelNames(channels []notification.Channel) []string {
	out := make([]string, len(channels))
	for i, ch := range channels {
		out[i] = ch.String()
	}
	return out
}
