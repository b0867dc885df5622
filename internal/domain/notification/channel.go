package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alem-hub/notification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHANNEL
// ══════════════════════════════════════════════════════════════════════════════

// Channel определяет канал доставки уведомлений.
type Channel string

const (
	// ChannelInApp - лента уведомлений внутри приложения (push через websocket).
	ChannelInApp Channel = "in_app"

	// ChannelSSE - поток server-sent events.
	ChannelSSE Channel = "sse"

	// ChannelDesktop - desktop-уведомление клиента (push через websocket).
	ChannelDesktop Channel = "desktop"

	// ChannelSystem - системный трей / OS-уведомление клиента.
	ChannelSystem Channel = "system"

	// ChannelEmail - доставка по email.
	ChannelEmail Channel = "email"

	// ChannelSMS - доставка по SMS.
	ChannelSMS Channel = "sms"
)

// AllChannels возвращает все каналы в каноническом порядке.
func AllChannels() []Channel {
	return []Channel{ChannelInApp, ChannelSSE, ChannelDesktop, ChannelSystem, ChannelEmail, ChannelSMS}
}

// ParseChannel разбирает имя канала без учёта регистра.
func ParseChannel(s string) (Channel, error) {
	ch := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", validationError("ParseChannel", fmt.Sprintf("unknown channel %q", s))
	}
	return ch, nil
}

// IsValid проверяет корректность канала.
func (c Channel) IsValid() bool {
	return c.order() < len(AllChannels())
}

// String возвращает строковое представление канала.
func (c Channel) String() string {
	return string(c)
}

// IsPush возвращает true для каналов, доставляемых широковещательно по account id.
func (c Channel) IsPush() bool {
	switch c {
	case ChannelInApp, ChannelSSE, ChannelDesktop, ChannelSystem:
		return true
	default:
		return false
	}
}

func (c Channel) order() int {
	switch c {
	case ChannelInApp:
		return 0
	case ChannelSSE:
		return 1
	case ChannelDesktop:
		return 2
	case ChannelSystem:
		return 3
	case ChannelEmail:
		return 4
	case ChannelSMS:
		return 5
	default:
		return 1 << 10
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DELIVERY RESULT
// ══════════════════════════════════════════════════════════════════════════════

// DeliveryResult представляет результат успешной отправки в канал.
type DeliveryResult struct {
	// Channel - канал, через который было отправлено.
	Channel Channel

	// MessageID - ID сообщения у провайдера (SES message id, SNS message id).
	MessageID string

	// DeliveredAt - время подтверждения доставки.
	DeliveredAt time.Time

	// Metadata - дополнительные данные от канала.
	Metadata map[string]string
}

// NewDeliveryResult создаёт результат доставки.
func NewDeliveryResult(channel Channel, messageID string, deliveredAt time.Time) DeliveryResult {
	md := make(map[string]string)
	if messageID != "" {
		md["message_id"] = messageID
	}
	return DeliveryResult{
		Channel:     channel,
		MessageID:   messageID,
		DeliveredAt: deliveredAt,
		Metadata:    md,
	}
}

// SendError - ошибка отправителя канала. Retryable=false означает,
// что повторять попытку бессмысленно (например, у получателя нет email).
type SendError struct {
	Channel   Channel
	Retryable bool
	Err       error
}

// NewSendError оборачивает ошибку отправителя.
func NewSendError(ch Channel, err error, retryable bool) *SendError {
	return &SendError{Channel: ch, Retryable: retryable, Err: err}
}

// Error реализует интерфейс error.
func (e *SendError) Error() string {
	return fmt.Sprintf("%s send failed: %v", e.Channel, e.Err)
}

// Unwrap возвращает исходную ошибку.
func (e *SendError) Unwrap() error {
	return e.Err
}

// Is позволяет сопоставлять с ErrChannelSend.
func (e *SendError) Is(target error) bool {
	return target == ErrChannelSend || target == shared.ErrExternalService
}

// ══════════════════════════════════════════════════════════════════════════════
// COLLABORATORS
// ══════════════════════════════════════════════════════════════════════════════

// RecipientContext содержит адреса получателя для каналов.
type RecipientContext struct {
	AccountID shared.AccountID
	Email     string
	Phone     string
	Locale    string
	Timezone  string
}

// ChannelSender отправляет уведомление в один канал. Реализации не обязаны быть
// идемпотентными: повторная попытка может привести к дублю на стороне канала.
type ChannelSender interface {
	// Channel возвращает обслуживаемый канал.
	Channel() Channel

	// Send отправляет уведомление. Ошибка типа *SendError управляет повтором.
	Send(ctx context.Context, n *Notification, recipient RecipientContext) (DeliveryResult, error)
}

// RecipientResolver возвращает адреса получателя.
type RecipientResolver interface {
	Resolve(ctx context.Context, accountID shared.AccountID) (RecipientContext, error)
}

// DeadLetter - запись о доставке, исчерпавшей все попытки.
type DeadLetter struct {
	NotificationID NotificationID   `json:"notification_id"`
	AccountID      shared.AccountID `json:"account_id"`
	Channel        Channel          `json:"channel"`
	Error          string           `json:"error"`
	RetryCount     int              `json:"retry_count"`
	Timestamp      time.Time        `json:"timestamp"`
}

// DeadLetterSink принимает окончательно неудачные доставки.
// Ошибка записи логируется вызывающим и не распространяется дальше.
type DeadLetterSink interface {
	Record(ctx context.Context, entry DeadLetter) error
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORIES
// ══════════════════════════════════════════════════════════════════════════════

// NotificationRepository - хранилище агрегатов Notification.
type NotificationRepository interface {
	// Save сохраняет агрегат вместе с квитанциями в одной транзакции.
	// Возвращает shared.ErrOptimisticLock, если версия в хранилище изменилась.
	Save(ctx context.Context, n *Notification) error

	// FindByID возвращает уведомление или shared.ErrNotFound.
	FindByID(ctx context.Context, id NotificationID) (*Notification, error)

	// FindPending возвращает pending-уведомления, запланированные не позже before.
	FindPending(ctx context.Context, before time.Time, limit int) ([]*Notification, error)

	// FindExpired возвращает pending-уведомления с истёкшим сроком.
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*Notification, error)

	// FindByAccount возвращает уведомления получателя, новые первыми.
	FindByAccount(ctx context.Context, accountID shared.AccountID, page shared.Pagination) ([]*Notification, error)

	// CountUnread возвращает количество отправленных, но не прочитанных уведомлений.
	CountUnread(ctx context.Context, accountID shared.AccountID) (int, error)

	// DeleteFinalizedBefore удаляет финальные уведомления, обновлённые до cutoff.
	DeleteFinalizedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PreferenceRepository - хранилище настроек уведомлений.
type PreferenceRepository interface {
	// GetOrCreateDefault возвращает настройки или создаёт настройки по умолчанию.
	GetOrCreateDefault(ctx context.Context, accountID shared.AccountID) (*Preference, error)

	// Save сохраняет настройки с проверкой версии.
	Save(ctx context.Context, p *Preference) error
}

// DispatchOutcome - итог одной попытки разослать уведомление по всем каналам.
type DispatchOutcome struct {
	NotificationID NotificationID
	Status         Status
	Delivered      []Channel
	Failed         []Channel
	DeadLettered   []Channel

	// Skipped - уведомление не рассылалось (ещё не наступило время, уже не pending).
	Skipped bool
}
