package notification

import (
	"fmt"
	"time"

	"github.com/alem-hub/notification-engine/internal/domain/shared"
)

// DefaultMaxRetries - число попыток доставки в канал по умолчанию.
const DefaultMaxRetries = 3

// ReceiptID - идентификатор квитанции доставки.
type ReceiptID string

// String возвращает строковое представление ID.
func (id ReceiptID) String() string {
	return string(id)
}

// ReceiptStatus - статус доставки в конкретный канал.
type ReceiptStatus string

const (
	ReceiptPending   ReceiptStatus = "pending"
	ReceiptSent      ReceiptStatus = "sent"
	ReceiptDelivered ReceiptStatus = "delivered"
	ReceiptFailed    ReceiptStatus = "failed"
	ReceiptRetrying  ReceiptStatus = "retrying"
)

// IsValid проверяет корректность статуса.
func (s ReceiptStatus) IsValid() bool {
	switch s {
	case ReceiptPending, ReceiptSent, ReceiptDelivered, ReceiptFailed, ReceiptRetrying:
		return true
	default:
		return false
	}
}

// IsTerminal возвращает true, если попыток по каналу больше не будет.
func (s ReceiptStatus) IsTerminal() bool {
	return s == ReceiptDelivered || s == ReceiptFailed
}

// DeliveryReceipt - запись о доставке уведомления в один канал.
// Принадлежит агрегату Notification и хранит только обратную ссылку на него.
type DeliveryReceipt struct {
	id             ReceiptID
	notificationID NotificationID
	channel        Channel
	status         ReceiptStatus
	sentAt         *time.Time
	deliveredAt    *time.Time
	failureReason  string
	retryCount     int
	metadata       map[string]string
	createdAt      time.Time
	updatedAt      time.Time
}

// NewDeliveryReceipt создаёт квитанцию в статусе pending.
func NewDeliveryReceipt(id ReceiptID, notificationID NotificationID, ch Channel, now time.Time) *DeliveryReceipt {
	return &DeliveryReceipt{
		id:             id,
		notificationID: notificationID,
		channel:        ch,
		status:         ReceiptPending,
		metadata:       make(map[string]string),
		createdAt:      now,
		updatedAt:      now,
	}
}

func (r DeliveryReceipt) ID() ReceiptID                  { return r.id }
func (r DeliveryReceipt) NotificationID() NotificationID { return r.notificationID }
func (r DeliveryReceipt) Channel() Channel               { return r.channel }
func (r DeliveryReceipt) Status() ReceiptStatus          { return r.status }
func (r DeliveryReceipt) SentAt() *time.Time             { return copyTime(r.sentAt) }
func (r DeliveryReceipt) DeliveredAt() *time.Time        { return copyTime(r.deliveredAt) }
func (r DeliveryReceipt) FailureReason() string          { return r.failureReason }
func (r DeliveryReceipt) RetryCount() int                { return r.retryCount }
func (r DeliveryReceipt) UpdatedAt() time.Time           { return r.updatedAt }

// Metadata возвращает копию метаданных канала (например, message id провайдера).
func (r DeliveryReceipt) Metadata() map[string]string {
	out := make(map[string]string, len(r.metadata))
	for k, v := range r.metadata {
		out[k] = v
	}
	return out
}

// MarkAsSent - переход pending|retrying -> sent.
func (r *DeliveryReceipt) MarkAsSent(t time.Time) error {
	if r.status != ReceiptPending && r.status != ReceiptRetrying {
		return r.transitionError("MarkAsSent", ReceiptSent)
	}
	r.status = ReceiptSent
	r.sentAt = timePtr(t)
	r.failureReason = ""
	r.updatedAt = t
	return nil
}

// MarkAsDelivered - переход sent -> delivered; deliveredAt не раньше sentAt.
func (r *DeliveryReceipt) MarkAsDelivered(t time.Time) error {
	if r.status != ReceiptSent || r.sentAt == nil {
		return r.transitionError("MarkAsDelivered", ReceiptDelivered)
	}
	if t.Before(*r.sentAt) {
		return validationError("MarkAsDelivered", "deliveredAt cannot be before sentAt")
	}
	r.status = ReceiptDelivered
	r.deliveredAt = timePtr(t)
	r.updatedAt = t
	return nil
}

// MarkAsFailed фиксирует неудачу. Квитанция уходит в retrying, если вызывающий
// считает ошибку повторяемой и retryCount < maxRetries, иначе - в failed.
func (r *DeliveryReceipt) MarkAsFailed(reason string, canRetry bool, maxRetries int, t time.Time) error {
	if r.status != ReceiptPending && r.status != ReceiptSent && r.status != ReceiptRetrying {
		return r.transitionError("MarkAsFailed", ReceiptFailed)
	}
	if reason == "" {
		reason = "unknown error"
	}
	if canRetry && r.retryCount < maxRetries {
		r.status = ReceiptRetrying
	} else {
		r.status = ReceiptFailed
	}
	r.failureReason = reason
	r.updatedAt = t
	return nil
}

// IncrementRetry - переход retrying -> pending: сбрасывает sentAt и причину,
// увеличивает счётчик попыток.
func (r *DeliveryReceipt) IncrementRetry(t time.Time) error {
	if r.status != ReceiptRetrying {
		return r.transitionError("IncrementRetry", ReceiptPending)
	}
	r.status = ReceiptPending
	r.sentAt = nil
	r.failureReason = ""
	r.retryCount++
	r.updatedAt = t
	return nil
}

// CanRetry возвращает true, если квитанция в failed/retrying и попытки не исчерпаны.
func (r DeliveryReceipt) CanRetry(maxRetries int) bool {
	return (r.status == ReceiptFailed || r.status == ReceiptRetrying) && r.retryCount < maxRetries
}

// Validate проверяет инварианты квитанции.
func (r DeliveryReceipt) Validate() error {
	if !r.channel.IsValid() {
		return validationError("ValidateReceipt", fmt.Sprintf("invalid channel %q", r.channel))
	}
	if !r.status.IsValid() {
		return validationError("ValidateReceipt", fmt.Sprintf("invalid receipt status %q", r.status))
	}
	if r.retryCount < 0 {
		return validationError("ValidateReceipt", "retryCount cannot be negative")
	}
	if (r.status == ReceiptSent || r.status == ReceiptDelivered) && r.sentAt == nil {
		return validationError("ValidateReceipt", fmt.Sprintf("status %s requires sentAt", r.status))
	}
	if r.status == ReceiptDelivered {
		if r.deliveredAt == nil {
			return validationError("ValidateReceipt", "status delivered requires deliveredAt")
		}
		if r.deliveredAt.Before(*r.sentAt) {
			return validationError("ValidateReceipt", "deliveredAt cannot be before sentAt")
		}
	}
	if (r.status == ReceiptFailed || r.status == ReceiptRetrying) && r.failureReason == "" {
		return validationError("ValidateReceipt", fmt.Sprintf("status %s requires failureReason", r.status))
	}
	return nil
}

func (r *DeliveryReceipt) transitionError(op string, to ReceiptStatus) error {
	return shared.WrapError("receipt", op, shared.ErrStateTransition,
		fmt.Sprintf("channel %s: cannot move from %s to %s", r.channel, r.status, to), ErrInvalidStateTransition)
}

func (r *DeliveryReceipt) clone() DeliveryReceipt {
	c := *r
	c.sentAt = copyTime(r.sentAt)
	c.deliveredAt = copyTime(r.deliveredAt)
	c.metadata = r.Metadata()
	return c
}

// ReceiptSnapshot - плоское представление квитанции.
type ReceiptSnapshot struct {
	ID             ReceiptID
	NotificationID NotificationID
	Channel        Channel
	Status         ReceiptStatus
	SentAt         *time.Time
	DeliveredAt    *time.Time
	FailureReason  string
	RetryCount     int
	Metadata       map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Snapshot возвращает снимок квитанции.
func (r DeliveryReceipt) Snapshot() ReceiptSnapshot {
	return ReceiptSnapshot{
		ID:             r.id,
		NotificationID: r.notificationID,
		Channel:        r.channel,
		Status:         r.status,
		SentAt:         copyTime(r.sentAt),
		DeliveredAt:    copyTime(r.deliveredAt),
		FailureReason:  r.failureReason,
		RetryCount:     r.retryCount,
		Metadata:       r.Metadata(),
		CreatedAt:      r.createdAt,
		UpdatedAt:      r.updatedAt,
	}
}

func restoreReceipt(s ReceiptSnapshot) *DeliveryReceipt {
	metadata := make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		metadata[k] = v
	}
	return &DeliveryReceipt{
		id:             s.ID,
		notificationID: s.NotificationID,
		channel:        s.Channel,
		status:         s.Status,
		sentAt:         copyTime(s.SentAt),
		deliveredAt:    copyTime(s.DeliveredAt),
		failureReason:  s.FailureReason,
		retryCount:     s.RetryCount,
		metadata:       metadata,
		createdAt:      s.CreatedAt,
		updatedAt:      s.UpdatedAt,
	}
}
