// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/alem-hub/notification-engine/internal/application/command"
	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
	"github.com/alem-hub/notification-engine/pkg/timeutil"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON TRIGGER HANDLER
// Превращает события внешних модулей в уведомления.
//
// Соответствие событий и типов:
//   task.triggered          -> task_reminder, либо task_overdue при overdue=true
//   goal.milestone_reached  -> goal_milestone, либо goal_completed при 100%
//   system.alert            -> system_alert, приоритет по severity
//
// Данные читаются только из Payload(), поэтому события из Redis
// (где переживает только карта полей) обрабатываются так же, как локальные.
// ═══════════════════════════════════════════════════════════════════════════

// ErrMalformedTrigger is returned when a trigger payload lacks required fields.
var ErrMalformedTrigger = errors.New("malformed trigger event")

// NotificationCreator создаёт и отправляет уведомление.
type NotificationCreator interface {
	Handle(ctx context.Context, cmd command.CreateAndSendNotificationCommand) (*command.CreateAndSendNotificationResult, error)
}

// TriggerConfig содержит конфигурацию обработчика.
type TriggerConfig struct {
	// ReminderTTL - через сколько истекает напоминание о задаче (0 = без срока).
	ReminderTTL time.Duration

	// MilestoneTTL - через сколько истекает уведомление о промежуточной цели.
	MilestoneTTL time.Duration

	// HandlerTimeout ограничивает обработку одного события.
	HandlerTimeout time.Duration
}

// DefaultTriggerConfig возвращает конфигурацию по умолчанию.
func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		ReminderTTL:    24 * time.Hour,
		MilestoneTTL:   7 * 24 * time.Hour,
		HandlerTimeout: 10 * time.Second,
	}
}

// OnTriggerHandler обрабатывает события-триггеры.
type OnTriggerHandler struct {
	creator NotificationCreator
	clock   timeutil.Clock
	logger  *zap.Logger
	config  TriggerConfig
}

// NewOnTriggerHandler создаёт обработчик.
func NewOnTriggerHandler(
	creator NotificationCreator,
	clock timeutil.Clock,
	logger *zap.Logger,
	config TriggerConfig,
) *OnTriggerHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = DefaultTriggerConfig().HandlerTimeout
	}
	return &OnTriggerHandler{
		creator: creator,
		clock:   clock,
		logger:  logger.With(zap.String("handler", "on_trigger")),
		config:  config,
	}
}

// Register подписывает обработчик на все события-триггеры.
func (h *OnTriggerHandler) Register(bus shared.EventSubscriber) error {
	for _, t := range []shared.EventType{
		shared.EventTaskTriggered,
		shared.EventGoalMilestoneReached,
		shared.EventSystemAlertRaised,
	} {
		if err := bus.Subscribe(t, h.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle обрабатывает событие. Реализует shared.EventHandler.
// Блокировка настройками получателя ошибкой не считается.
func (h *OnTriggerHandler) Handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.HandlerTimeout)
	defer cancel()

	cmd, err := h.toCommand(event)
	if err != nil {
		h.logger.Warn("cannot map trigger event",
			zap.String("event_type", string(event.EventType())),
			zap.String("aggregate_id", event.AggregateID()),
			zap.Error(err),
		)
		return err
	}
	if cmd == nil {
		return nil
	}

	result, err := h.creator.Handle(ctx, *cmd)
	switch {
	case errors.Is(err, notification.ErrPreferenceBlocked):
		h.logger.Debug("trigger suppressed by preferences",
			zap.String("event_type", string(event.EventType())),
			zap.String("account_id", cmd.AccountID.String()),
		)
		return nil
	case err != nil:
		return fmt.Errorf("create notification for %s: %w", event.EventType(), err)
	}

	h.logger.Info("trigger processed",
		zap.String("event_type", string(event.EventType())),
		zap.String("notification_id", result.NotificationID.String()),
		zap.String("type", cmd.Type.String()),
	)
	return nil
}

// toCommand maps an event to a command. A nil command means the event is ignored.
func (h *OnTriggerHandler) toCommand(event shared.Event) (*command.CreateAndSendNotificationCommand, error) {
	p := payload(event.Payload())
	account := shared.AccountID(p.str("account_id"))
	if !account.IsValid() {
		return nil, fmt.Errorf("%w: account_id is required", ErrMalformedTrigger)
	}
	now := h.clock.Now()

	cmd := &command.CreateAndSendNotificationCommand{
		AccountID:    account,
		TemplateData: event.Payload(),
		Metadata: map[string]string{
			"trigger_event": string(event.EventType()),
			"trigger_id":    event.AggregateID(),
		},
	}

	switch event.EventType() {
	case shared.EventTaskTriggered:
		if p.str("task_title") == "" {
			return nil, fmt.Errorf("%w: task_title is required", ErrMalformedTrigger)
		}
		cmd.Type = notification.TypeTaskReminder
		if p.boolean("overdue") {
			cmd.Type = notification.TypeTaskOverdue
		} else {
			cmd.ExpiresAt = expiry(now, h.config.ReminderTTL)
		}
		cmd.Metadata["task_id"] = p.str("task_id")
		cmd.TemplateData = withDueAt(event.Payload(), p)

	case shared.EventGoalMilestoneReached:
		percent, ok := p.integer("percent")
		if !ok || p.str("goal_title") == "" {
			return nil, fmt.Errorf("%w: goal_title and percent are required", ErrMalformedTrigger)
		}
		if percent <= 0 {
			return nil, nil
		}
		cmd.Type = notification.TypeGoalMilestone
		if percent >= 100 {
			cmd.Type = notification.TypeGoalCompleted
		} else {
			cmd.ExpiresAt = expiry(now, h.config.MilestoneTTL)
		}
		cmd.Metadata["goal_id"] = p.str("goal_id")

	case shared.EventSystemAlertRaised:
		if p.str("title") == "" || p.str("message") == "" {
			return nil, fmt.Errorf("%w: title and message are required", ErrMalformedTrigger)
		}
		cmd.Type = notification.TypeSystemAlert
		cmd.Priority = severityPriority(p.str("severity"))
		cmd.Metadata["severity"] = p.str("severity")

	default:
		return nil, nil
	}
	return cmd, nil
}

func severityPriority(severity string) notification.Priority {
	switch severity {
	case "critical":
		return notification.PriorityUrgent
	case "warning":
		return notification.PriorityHigh
	default:
		return notification.PriorityNormal
	}
}

func expiry(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := now.Add(ttl)
	return &t
}

// withDueAt renders due_at in a readable form for templates.
func withDueAt(data map[string]interface{}, p payload) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	if due, ok := p.timestamp("due_at"); ok {
		out["due_at"] = due.UTC().Format("Jan 2, 15:04 MST")
	} else {
		out["due_at"] = "soon"
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════════════
// PAYLOAD ACCESS
// ═══════════════════════════════════════════════════════════════════════════

// payload reads typed values from an event payload. JSON-decoded payloads
// carry numbers as float64 and times as RFC 3339 strings.
type payload map[string]interface{}

func (p payload) str(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

func (p payload) boolean(key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

func (p payload) integer(key string) (int, bool) {
	switch v := p[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}

func (p payload) timestamp(key string) (time.Time, bool) {
	switch v := p[key].(type) {
	case time.Time:
		return v, !v.IsZero()
	case string:
		t, err := time.Parse(time.RFC3339, v)
		return t, err == nil
	default:
		return time.Time{}, false
	}
}
