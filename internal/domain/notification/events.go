package notification

import (
	"time"

	"github.com/alem-hub/notification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN EVENTS
// События жизненного цикла уведомления. Агрегат копит их в буфере,
// прикладной слой публикует после успешного сохранения.
// ══════════════════════════════════════════════════════════════════════════════

// LifecycleEvent - общая часть событий уведомления.
type LifecycleEvent struct {
	shared.BaseEvent
	AccountID string    `json:"account_id"`
	Type      string    `json:"notification_type"`
	At        time.Time `json:"at"`
}

// Payload реализует shared.Event.
func (e LifecycleEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"notification_id":   e.AggregateId,
		"account_id":        e.AccountID,
		"notification_type": e.Type,
		"at":                e.At.Format(time.RFC3339Nano),
	}
}

func newLifecycleEvent(eventType shared.EventType, n *Notification, at time.Time) LifecycleEvent {
	base := shared.NewBaseEvent(eventType, n.id.String())
	base.Timestamp = at
	base.Version = int(n.version)
	return LifecycleEvent{
		BaseEvent: base,
		AccountID: n.accountID.String(),
		Type:      n.kind.String(),
		At:        at,
	}
}

// NotificationCreatedEvent - уведомление создано.
type NotificationCreatedEvent struct {
	LifecycleEvent
	Channels []string `json:"channels"`
	Priority string   `json:"priority"`
}

// Payload реализует shared.Event.
func (e NotificationCreatedEvent) Payload() map[string]interface{} {
	p := e.LifecycleEvent.Payload()
	p["channels"] = e.Channels
	p["priority"] = e.Priority
	return p
}

// NewNotificationCreatedEvent создаёт событие создания уведомления.
func NewNotificationCreatedEvent(n *Notification) NotificationCreatedEvent {
	channels := make([]string, 0, n.delivery.Len())
	for _, ch := range n.delivery.Channels() {
		channels = append(channels, ch.String())
	}
	return NotificationCreatedEvent{
		LifecycleEvent: newLifecycleEvent(shared.EventNotificationCreated, n, n.createdAt),
		Channels:       channels,
		Priority:       n.delivery.Priority().String(),
	}
}

// NotificationSentEvent - уведомление доставлено хотя бы в один канал.
type NotificationSentEvent struct{ LifecycleEvent }

// NewNotificationSentEvent создаёт событие отправки.
func NewNotificationSentEvent(n *Notification, at time.Time) NotificationSentEvent {
	return NotificationSentEvent{newLifecycleEvent(shared.EventNotificationSent, n, at)}
}

// NotificationReadEvent - уведомление прочитано.
type NotificationReadEvent struct{ LifecycleEvent }

// NewNotificationReadEvent создаёт событие прочтения.
func NewNotificationReadEvent(n *Notification, at time.Time) NotificationReadEvent {
	return NotificationReadEvent{newLifecycleEvent(shared.EventNotificationRead, n, at)}
}

// NotificationDismissedEvent - уведомление скрыто.
type NotificationDismissedEvent struct{ LifecycleEvent }

// NewNotificationDismissedEvent создаёт событие скрытия.
func NewNotificationDismissedEvent(n *Notification, at time.Time) NotificationDismissedEvent {
	return NotificationDismissedEvent{newLifecycleEvent(shared.EventNotificationDismissed, n, at)}
}

// NotificationExpiredEvent - срок уведомления истёк до отправки.
type NotificationExpiredEvent struct{ LifecycleEvent }

// NewNotificationExpiredEvent создаёт событие истечения.
func NewNotificationExpiredEvent(n *Notification, at time.Time) NotificationExpiredEvent {
	return NotificationExpiredEvent{newLifecycleEvent(shared.EventNotificationExpired, n, at)}
}

// NotificationFailedEvent - уведомление не доставлено ни в один канал.
type NotificationFailedEvent struct{ LifecycleEvent }

// NewNotificationFailedEvent создаёт событие неудачи.
func NewNotificationFailedEvent(n *Notification, at time.Time) NotificationFailedEvent {
	return NotificationFailedEvent{newLifecycleEvent(shared.EventNotificationFailed, n, at)}
}

// DeliveryDeadLetteredEvent - доставка в канал ушла в dead-letter.
type DeliveryDeadLetteredEvent struct {
	shared.BaseEvent
	Entry DeadLetter `json:"entry"`
}

// Payload реализует shared.Event.
func (e DeliveryDeadLetteredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"notification_id": e.Entry.NotificationID.String(),
		"account_id":      e.Entry.AccountID.String(),
		"channel":         e.Entry.Channel.String(),
		"error":           e.Entry.Error,
		"retry_count":     e.Entry.RetryCount,
		"at":              e.Entry.Timestamp.Format(time.RFC3339Nano),
	}
}

// NewDeliveryDeadLetteredEvent создаёт событие dead-letter.
func NewDeliveryDeadLetteredEvent(entry DeadLetter) DeliveryDeadLetteredEvent {
	base := shared.NewBaseEvent(shared.EventDeliveryDeadLettered, entry.NotificationID.String())
	base.Timestamp = entry.Timestamp
	return DeliveryDeadLetteredEvent{BaseEvent: base, Entry: entry}
}
