// Package notification содержит доменную модель доставки уведомлений:
// агрегат Notification с квитанциями доставки по каналам, настройки получателя
// и сервис выбора каналов. Пакет не выполняет I/O: только данные и правила.
package notification

import (
	"fmt"
	"strings"
	"time"

	"github.com/alem-hub/notification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// NotificationID представляет уникальный идентификатор уведомления.
type NotificationID string

// IsValid проверяет, что ID не пустой.
func (id NotificationID) IsValid() bool {
	return strings.TrimSpace(string(id)) != ""
}

// String возвращает строковое представление ID.
func (id NotificationID) String() string {
	return string(id)
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION TYPE
// ══════════════════════════════════════════════════════════════════════════════

// NotificationType определяет тип уведомления.
type NotificationType string

const (
	// TypeTaskReminder - напоминание о задаче.
	TypeTaskReminder NotificationType = "task_reminder"

	// TypeTaskOverdue - задача просрочена.
	TypeTaskOverdue NotificationType = "task_overdue"

	// TypeGoalMilestone - цель достигла промежуточной отметки (25/50/75%).
	TypeGoalMilestone NotificationType = "goal_milestone"

	// TypeGoalCompleted - цель выполнена полностью.
	TypeGoalCompleted NotificationType = "goal_completed"

	// TypeSystemAlert - системное предупреждение.
	TypeSystemAlert NotificationType = "system_alert"

	// TypeSystemAnnouncement - информационное системное сообщение.
	TypeSystemAnnouncement NotificationType = "system_announcement"
)

// IsValid проверяет, что тип уведомления корректен.
func (t NotificationType) IsValid() bool {
	switch t {
	case TypeTaskReminder, TypeTaskOverdue,
		TypeGoalMilestone, TypeGoalCompleted,
		TypeSystemAlert, TypeSystemAnnouncement:
		return true
	default:
		return false
	}
}

// Category возвращает категорию уведомления.
func (t NotificationType) Category() Category {
	switch t {
	case TypeTaskReminder, TypeTaskOverdue:
		return CategoryTask
	case TypeGoalMilestone, TypeGoalCompleted:
		return CategoryGoal
	default:
		return CategorySystem
	}
}

// DefaultPriority возвращает приоритет по умолчанию для типа.
func (t NotificationType) DefaultPriority() Priority {
	switch t {
	case TypeSystemAlert:
		return PriorityUrgent
	case TypeTaskOverdue, TypeGoalCompleted:
		return PriorityHigh
	case TypeSystemAnnouncement:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// String возвращает строковое представление типа.
func (t NotificationType) String() string {
	return string(t)
}

// Category группирует типы уведомлений для настроек пользователя.
type Category string

const (
	CategoryTask   Category = "task"
	CategoryGoal   Category = "goal"
	CategorySystem Category = "system"
)

// IsValid проверяет корректность категории.
func (c Category) IsValid() bool {
	return c == CategoryTask || c == CategoryGoal || c == CategorySystem
}

// AllCategories возвращает все категории.
func AllCategories() []Category {
	return []Category{CategoryTask, CategoryGoal, CategorySystem}
}

// AllTypes возвращает все типы уведомлений.
func AllTypes() []NotificationType {
	return []NotificationType{
		TypeTaskReminder, TypeTaskOverdue,
		TypeGoalMilestone, TypeGoalCompleted,
		TypeSystemAlert, TypeSystemAnnouncement,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PRIORITY
// ══════════════════════════════════════════════════════════════════════════════

// Priority определяет приоритет уведомления.
type Priority int

const (
	// PriorityLow - низкий приоритет (объявления).
	PriorityLow Priority = 1

	// PriorityNormal - обычный приоритет.
	PriorityNormal Priority = 2

	// PriorityHigh - высокий приоритет.
	PriorityHigh Priority = 3

	// PriorityUrgent - срочное уведомление, доставляется во все разрешённые каналы.
	PriorityUrgent Priority = 4
)

// IsValid проверяет корректность приоритета.
func (p Priority) IsValid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

// String возвращает строковое представление приоритета.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// ParsePriority разбирает строковое представление приоритета.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "normal", "medium", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "urgent", "critical":
		return PriorityUrgent, nil
	default:
		return 0, validationError("ParsePriority", fmt.Sprintf("unknown priority %q", s))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status определяет статус уведомления.
type Status string

const (
	// StatusPending - создано, ожидает доставки.
	StatusPending Status = "pending"

	// StatusSent - доставлено хотя бы в один канал.
	StatusSent Status = "sent"

	// StatusRead - прочитано получателем.
	StatusRead Status = "read"

	// StatusDismissed - скрыто получателем.
	StatusDismissed Status = "dismissed"

	// StatusExpired - истекло до отправки.
	StatusExpired Status = "expired"

	// StatusFailed - доставка не удалась.
	StatusFailed Status = "failed"
)

// IsValid проверяет корректность статуса.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusRead, StatusDismissed, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

// IsFinal возвращает true для статусов, из которых нет возврата в pending.
func (s Status) IsFinal() bool {
	return s != StatusPending
}

// RequiresSentAt возвращает true, если статус подразумевает факт отправки.
func (s Status) RequiresSentAt() bool {
	return s == StatusSent || s == StatusRead || s == StatusDismissed
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: NOTIFICATION (AGGREGATE ROOT)
// ══════════════════════════════════════════════════════════════════════════════

// Notification - корень агрегата. Все изменения, включая квитанции доставки,
// проходят через методы агрегата; каждое изменение увеличивает версию.
type Notification struct {
	id        NotificationID
	accountID shared.AccountID
	kind      NotificationType
	content   Content
	delivery  ChannelSet
	window    ScheduleWindow
	status    Status

	sentAt      *time.Time
	readAt      *time.Time
	dismissedAt *time.Time

	receipts map[Channel]*DeliveryReceipt
	metadata map[string]string

	version          int64
	persistedVersion int64

	createdAt time.Time
	updatedAt time.Time

	events []shared.Event
}

// NewNotificationParams содержит параметры для создания уведомления.
type NewNotificationParams struct {
	ID        NotificationID
	AccountID shared.AccountID
	Type      NotificationType
	Content   Content
	Channels  ChannelSet
	Window    ScheduleWindow
	Metadata  map[string]string

	// ReceiptIDs генерирует ID квитанции для канала. Если nil, ID строится из ID уведомления.
	ReceiptIDs func(ch Channel) ReceiptID

	// Now - момент создания (для тестов). Если нулевой, используется текущее время.
	Now time.Time
}

// NewNotification создаёт уведомление в статусе pending с одной квитанцией на канал.
func NewNotification(params NewNotificationParams) (*Notification, error) {
	if !params.ID.IsValid() {
		return nil, ErrInvalidNotificationID
	}
	if !params.AccountID.IsValid() {
		return nil, ErrInvalidAccountID
	}
	if !params.Type.IsValid() {
		return nil, ErrInvalidNotificationType
	}
	if params.Content.IsZero() {
		return nil, ErrEmptyContent
	}
	if params.Channels.IsEmpty() {
		return nil, ErrNoChannels
	}

	now := params.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if params.Window.ExpiresAt() != nil && !params.Window.ExpiresAt().After(now) {
		return nil, validationError("NewNotification", "expiresAt must be in the future")
	}

	receiptID := params.ReceiptIDs
	if receiptID == nil {
		receiptID = func(ch Channel) ReceiptID {
			return ReceiptID(params.ID.String() + ":" + ch.String())
		}
	}

	receipts := make(map[Channel]*DeliveryReceipt, params.Channels.Len())
	for _, ch := range params.Channels.Channels() {
		receipts[ch] = NewDeliveryReceipt(receiptID(ch), params.ID, ch, now)
	}

	metadata := make(map[string]string, len(params.Metadata))
	for k, v := range params.Metadata {
		metadata[k] = v
	}

	n := &Notification{
		id:        params.ID,
		accountID: params.AccountID,
		kind:      params.Type,
		content:   params.Content,
		delivery:  params.Channels,
		window:    params.Window,
		status:    StatusPending,
		receipts:  receipts,
		metadata:  metadata,
		version:   1,
		createdAt: now,
		updatedAt: now,
	}

	n.record(NewNotificationCreatedEvent(n))
	return n, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCESSORS
// ══════════════════════════════════════════════════════════════════════════════

func (n *Notification) ID() NotificationID          { return n.id }
func (n *Notification) AccountID() shared.AccountID { return n.accountID }
func (n *Notification) Type() NotificationType      { return n.kind }
func (n *Notification) Category() Category          { return n.kind.Category() }
func (n *Notification) Content() Content            { return n.content }
func (n *Notification) Delivery() ChannelSet        { return n.delivery }
func (n *Notification) Priority() Priority          { return n.delivery.Priority() }
func (n *Notification) Channels() []Channel         { return n.delivery.Channels() }
func (n *Notification) Window() ScheduleWindow      { return n.window }
func (n *Notification) Status() Status              { return n.status }
func (n *Notification) SentAt() *time.Time          { return copyTime(n.sentAt) }
func (n *Notification) ReadAt() *time.Time          { return copyTime(n.readAt) }
func (n *Notification) DismissedAt() *time.Time     { return copyTime(n.dismissedAt) }
func (n *Notification) CreatedAt() time.Time        { return n.createdAt }
func (n *Notification) UpdatedAt() time.Time        { return n.updatedAt }

// Version возвращает текущую версию агрегата.
func (n *Notification) Version() int64 { return n.version }

// PersistedVersion возвращает версию, с которой агрегат был загружен или сохранён.
// Ноль означает, что агрегат ещё не сохранялся.
func (n *Notification) PersistedVersion() int64 { return n.persistedVersion }

// IsNew возвращает true, если агрегат ещё не сохранялся.
func (n *Notification) IsNew() bool { return n.persistedVersion == 0 }

// HasChanges возвращает true, если есть несохранённые изменения.
func (n *Notification) HasChanges() bool { return n.version != n.persistedVersion }

// MarkPersisted фиксирует текущую версию как сохранённую. Вызывается репозиторием.
func (n *Notification) MarkPersisted() { n.persistedVersion = n.version }

// Metadata возвращает копию метаданных.
func (n *Notification) Metadata() map[string]string {
	out := make(map[string]string, len(n.metadata))
	for k, v := range n.metadata {
		out[k] = v
	}
	return out
}

// Receipt возвращает копию квитанции канала.
func (n *Notification) Receipt(ch Channel) (DeliveryReceipt, bool) {
	r, ok := n.receipts[ch]
	if !ok {
		return DeliveryReceipt{}, false
	}
	return r.clone(), true
}

// Receipts возвращает копии всех квитанций, ключ - канал.
func (n *Notification) Receipts() map[Channel]DeliveryReceipt {
	out := make(map[Channel]DeliveryReceipt, len(n.receipts))
	for ch, r := range n.receipts {
		out[ch] = r.clone()
	}
	return out
}

// PullEvents возвращает накопленные доменные события и очищает буфер.
func (n *Notification) PullEvents() []shared.Event {
	events := n.events
	n.events = nil
	return events
}

// ══════════════════════════════════════════════════════════════════════════════
// STATE MACHINE
// ══════════════════════════════════════════════════════════════════════════════

// MarkAsSent переводит уведомление pending -> sent.
func (n *Notification) MarkAsSent(t time.Time) error {
	if n.status != StatusPending {
		return transitionError("MarkAsSent", n.status, StatusSent)
	}
	if n.window.IsExpired(t) {
		return ErrNotificationExpired
	}
	n.status = StatusSent
	n.sentAt = timePtr(t)
	n.touch(t)
	n.record(NewNotificationSentEvent(n, t))
	return nil
}

// MarkAsRead переводит уведомление sent -> read. Время прочтения не может быть раньше отправки.
func (n *Notification) MarkAsRead(t time.Time) error {
	if n.status != StatusSent {
		return transitionError("MarkAsRead", n.status, StatusRead)
	}
	if n.sentAt != nil && t.Before(*n.sentAt) {
		return validationError("MarkAsRead", "readAt cannot be before sentAt")
	}
	n.status = StatusRead
	n.readAt = timePtr(t)
	n.touch(t)
	n.record(NewNotificationReadEvent(n, t))
	return nil
}

// MarkAsDismissed скрывает уведомление. Допустимо из sent и read.
func (n *Notification) MarkAsDismissed(t time.Time) error {
	if n.status != StatusSent && n.status != StatusRead {
		return transitionError("MarkAsDismissed", n.status, StatusDismissed)
	}
	n.status = StatusDismissed
	n.dismissedAt = timePtr(t)
	n.touch(t)
	n.record(NewNotificationDismissedEvent(n, t))
	return nil
}

// MarkAsExpired переводит pending -> expired, только если срок действия уже истёк.
func (n *Notification) MarkAsExpired(now time.Time) error {
	if n.status != StatusPending {
		return transitionError("MarkAsExpired", n.status, StatusExpired)
	}
	if !n.window.IsExpired(now) {
		return ErrNotYetExpired
	}
	n.status = StatusExpired
	n.touch(now)
	n.record(NewNotificationExpiredEvent(n, now))
	return nil
}

// MarkAsFailed переводит уведомление в failed. Допустимо из pending и sent.
func (n *Notification) MarkAsFailed(now time.Time) error {
	if n.status != StatusPending && n.status != StatusSent {
		return transitionError("MarkAsFailed", n.status, StatusFailed)
	}
	n.status = StatusFailed
	n.touch(now)
	n.record(NewNotificationFailedEvent(n, now))
	return nil
}

// ShouldSend возвращает true, если уведомление можно доставлять прямо сейчас:
// статус pending, срок не истёк и запланированное время наступило.
func (n *Notification) ShouldSend(now time.Time) bool {
	return n.status == StatusPending && !n.window.IsExpired(now) && n.window.IsDue(now)
}

// IsExpired проверяет, истёк ли срок действия уведомления.
func (n *Notification) IsExpired(now time.Time) bool {
	return n.window.IsExpired(now)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECEIPT TRANSITIONS (via aggregate)
// ══════════════════════════════════════════════════════════════════════════════

// MarkChannelSent отмечает отправку в канал.
func (n *Notification) MarkChannelSent(ch Channel, t time.Time) error {
	r, err := n.receiptFor(ch)
	if err != nil {
		return err
	}
	if err := r.MarkAsSent(t); err != nil {
		return err
	}
	n.touch(t)
	return nil
}

// MarkChannelDelivered отмечает подтверждённую доставку в канал.
func (n *Notification) MarkChannelDelivered(ch Channel, t time.Time, metadata map[string]string) error {
	r, err := n.receiptFor(ch)
	if err != nil {
		return err
	}
	if err := r.MarkAsDelivered(t); err != nil {
		return err
	}
	for k, v := range metadata {
		r.metadata[k] = v
	}
	n.touch(t)
	return nil
}

// MarkChannelFailed фиксирует неудачную попытку. Квитанция уходит в retrying
// или в окончательный failed (см. DeliveryReceipt.MarkAsFailed).
func (n *Notification) MarkChannelFailed(ch Channel, reason string, canRetry bool, maxRetries int, t time.Time) error {
	r, err := n.receiptFor(ch)
	if err != nil {
		return err
	}
	if err := r.MarkAsFailed(reason, canRetry, maxRetries, t); err != nil {
		return err
	}
	n.touch(t)
	return nil
}

// RetryChannel возвращает квитанцию из retrying в pending для следующей попытки.
func (n *Notification) RetryChannel(ch Channel, t time.Time) error {
	r, err := n.receiptFor(ch)
	if err != nil {
		return err
	}
	if err := r.IncrementRetry(t); err != nil {
		return err
	}
	n.touch(t)
	return nil
}

func (n *Notification) receiptFor(ch Channel) (*DeliveryReceipt, error) {
	r, ok := n.receipts[ch]
	if !ok {
		return nil, shared.WrapError("notification", "Receipt", shared.ErrNotFound,
			fmt.Sprintf("no receipt for channel %s", ch), ErrReceiptNotFound)
	}
	return r, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DERIVED METRICS
// ══════════════════════════════════════════════════════════════════════════════

// DeliveredChannelCount возвращает количество каналов с подтверждённой доставкой.
func (n *Notification) DeliveredChannelCount() int {
	count := 0
	for _, r := range n.receipts {
		if r.status == ReceiptDelivered {
			count++
		}
	}
	return count
}

// DeliverySuccessRate возвращает долю доставленных каналов в процентах (0..100).
func (n *Notification) DeliverySuccessRate() float64 {
	if len(n.receipts) == 0 {
		return 0
	}
	return float64(n.DeliveredChannelCount()) / float64(len(n.receipts)) * 100
}

// AllChannelsDelivered возвращает true, если доставка подтверждена во все каналы.
func (n *Notification) AllChannelsDelivered() bool {
	return len(n.receipts) > 0 && n.DeliveredChannelCount() == len(n.receipts)
}

// AllChannelsSettled возвращает true, если ни одна квитанция не ждёт попытки.
func (n *Notification) AllChannelsSettled() bool {
	for _, r := range n.receipts {
		if !r.status.IsTerminal() {
			return false
		}
	}
	return true
}

// EarliestDeliverySentAt возвращает самое раннее время отправки среди доставленных каналов.
func (n *Notification) EarliestDeliverySentAt() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, r := range n.receipts {
		if r.status != ReceiptDelivered || r.sentAt == nil {
			continue
		}
		if !found || r.sentAt.Before(earliest) {
			earliest = *r.sentAt
			found = true
		}
	}
	return earliest, found
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// Validate проверяет инварианты агрегата. Используется при восстановлении из хранилища.
func (n *Notification) Validate() error {
	if !n.id.IsValid() {
		return ErrInvalidNotificationID
	}
	if !n.accountID.IsValid() {
		return ErrInvalidAccountID
	}
	if !n.status.IsValid() {
		return validationError("Validate", fmt.Sprintf("unknown status %q", n.status))
	}
	if n.status.RequiresSentAt() && n.sentAt == nil {
		return validationError("Validate", fmt.Sprintf("status %s requires sentAt", n.status))
	}
	if n.status == StatusRead && n.readAt == nil {
		return validationError("Validate", "status read requires readAt")
	}
	if n.readAt != nil && n.sentAt != nil && n.readAt.Before(*n.sentAt) {
		return validationError("Validate", "readAt cannot be before sentAt")
	}
	if n.status == StatusDismissed && n.dismissedAt == nil {
		return validationError("Validate", "status dismissed requires dismissedAt")
	}
	if len(n.receipts) != n.delivery.Len() {
		return validationError("Validate", "receipts must match selected channels")
	}
	for ch, r := range n.receipts {
		if !n.delivery.Contains(ch) || r.channel != ch {
			return validationError("Validate", fmt.Sprintf("unexpected receipt for channel %s", ch))
		}
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// String возвращает строковое представление для логов.
func (n *Notification) String() string {
	return fmt.Sprintf("Notification{id=%s, account=%s, type=%s, status=%s, channels=%v, v=%d}",
		n.id, n.accountID, n.kind, n.status, n.delivery.Channels(), n.version)
}

func (n *Notification) touch(t time.Time) {
	n.version++
	n.updatedAt = t
}

func (n *Notification) record(e shared.Event) {
	n.events = append(n.events, e)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECONSTITUTION
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot - плоское представление агрегата для хранилищ и транспорта.
type Snapshot struct {
	ID          NotificationID
	AccountID   shared.AccountID
	Type        NotificationType
	Title       string
	Body        string
	IconURL     string
	ImageURL    string
	Priority    Priority
	Channels    []Channel
	ScheduledAt *time.Time
	ExpiresAt   *time.Time
	Status      Status
	SentAt      *time.Time
	ReadAt      *time.Time
	DismissedAt *time.Time
	Receipts    []ReceiptSnapshot
	Metadata    map[string]string
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Snapshot возвращает снимок текущего состояния.
func (n *Notification) Snapshot() Snapshot {
	receipts := make([]ReceiptSnapshot, 0, len(n.receipts))
	for _, ch := range n.delivery.Channels() {
		if r, ok := n.receipts[ch]; ok {
			receipts = append(receipts, r.Snapshot())
		}
	}
	return Snapshot{
		ID:          n.id,
		AccountID:   n.accountID,
		Type:        n.kind,
		Title:       n.content.Title(),
		Body:        n.content.Body(),
		IconURL:     n.content.IconURL(),
		ImageURL:    n.content.ImageURL(),
		Priority:    n.delivery.Priority(),
		Channels:    n.delivery.Channels(),
		ScheduledAt: copyTime(n.window.ScheduledAt()),
		ExpiresAt:   copyTime(n.window.ExpiresAt()),
		Status:      n.status,
		SentAt:      copyTime(n.sentAt),
		ReadAt:      copyTime(n.readAt),
		DismissedAt: copyTime(n.dismissedAt),
		Receipts:    receipts,
		Metadata:    n.Metadata(),
		Version:     n.version,
		CreatedAt:   n.createdAt,
		UpdatedAt:   n.updatedAt,
	}
}

// Reconstitute восстанавливает агрегат из снимка хранилища.
// Правило "expiresAt в будущем" не проверяется: оно действует только при создании.
func Reconstitute(s Snapshot) (*Notification, error) {
	content, err := NewContent(s.Title, s.Body, s.IconURL, s.ImageURL)
	if err != nil {
		return nil, err
	}
	delivery, err := NewChannelSet(s.Channels, s.Priority)
	if err != nil {
		return nil, err
	}
	window, err := RestoreScheduleWindow(s.ScheduledAt, s.ExpiresAt)
	if err != nil {
		return nil, err
	}

	receipts := make(map[Channel]*DeliveryReceipt, len(s.Receipts))
	for _, rs := range s.Receipts {
		if _, dup := receipts[rs.Channel]; dup {
			return nil, validationError("Reconstitute", fmt.Sprintf("duplicate receipt for channel %s", rs.Channel))
		}
		receipts[rs.Channel] = restoreReceipt(rs)
	}

	metadata := make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		metadata[k] = v
	}

	n := &Notification{
		id:               s.ID,
		accountID:        s.AccountID,
		kind:             s.Type,
		content:          content,
		delivery:         delivery,
		window:           window,
		status:           s.Status,
		sentAt:           copyTime(s.SentAt),
		readAt:           copyTime(s.ReadAt),
		dismissedAt:      copyTime(s.DismissedAt),
		receipts:         receipts,
		metadata:         metadata,
		version:          s.Version,
		persistedVersion: s.Version,
		createdAt:        s.CreatedAt,
		updatedAt:        s.UpdatedAt,
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrInvalidNotificationID - невалидный ID уведомления.
	ErrInvalidNotificationID = shared.NewDomainError("notification", "Validate", shared.ErrInvalidID, "notification id cannot be empty")

	// ErrInvalidAccountID - невалидный ID получателя.
	ErrInvalidAccountID = shared.NewDomainError("notification", "Validate", shared.ErrInvalidID, "account id cannot be empty")

	// ErrInvalidNotificationType - невалидный тип уведомления.
	ErrInvalidNotificationType = shared.NewDomainError("notification", "Validate", shared.ErrInvalidInput, "invalid notification type")

	// ErrEmptyContent - не заданы заголовок и текст.
	ErrEmptyContent = shared.NewDomainError("notification", "Validate", shared.ErrEmptyValue, "notification content is required")

	// ErrNoChannels - не выбран ни один канал доставки.
	ErrNoChannels = shared.NewDomainError("notification", "Validate", shared.ErrEmptyValue, "at least one channel is required")

	// ErrInvalidNotification - общая ошибка валидации агрегата.
	ErrInvalidNotification = shared.NewDomainError("notification", "Validate", shared.ErrValidation, "invalid notification")

	// ErrInvalidStateTransition - недопустимый переход статуса.
	ErrInvalidStateTransition = shared.NewDomainError("notification", "Transition", shared.ErrStateTransition, "invalid status transition")

	// ErrNotificationExpired - срок действия уведомления истёк.
	ErrNotificationExpired = shared.NewDomainError("notification", "MarkAsSent", shared.ErrExpired, "notification has expired")

	// ErrNotYetExpired - срок действия ещё не истёк.
	ErrNotYetExpired = shared.NewDomainError("notification", "MarkAsExpired", shared.ErrNotYetExpired, "notification has not expired yet")

	// ErrReceiptNotFound - у уведомления нет квитанции для канала.
	ErrReceiptNotFound = shared.NewDomainError("notification", "Receipt", shared.ErrNotFound, "delivery receipt not found")

	// ErrPreferenceBlocked - получатель отключил этот тип или категорию уведомлений.
	ErrPreferenceBlocked = shared.NewDomainError("notification", "Create", shared.ErrForbidden, "notification blocked by recipient preferences")

	// ErrChannelSend - ошибка внешнего отправителя канала.
	ErrChannelSend = shared.NewDomainError("notification", "Send", shared.ErrExternalService, "channel sender failed")
)

func validationError(op, message string) error {
	return shared.WrapError("notification", op, shared.ErrValidation, message, ErrInvalidNotification)
}

func transitionError(op string, from, to Status) error {
	return shared.WrapError("notification", op, shared.ErrStateTransition,
		fmt.Sprintf("cannot move from %s to %s", from, to), ErrInvalidStateTransition)
}
