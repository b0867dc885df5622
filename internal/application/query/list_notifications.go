// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST NOTIFICATIONS QUERY
// Лента уведомлений получателя, новые первыми, с квитанциями по каналам.
// ══════════════════════════════════════════════════════════════════════════════

// ListNotificationsQuery содержит параметры запроса ленты.
type ListNotificationsQuery struct {
	// AccountID - получатель.
	AccountID shared.AccountID

	// ─────────────────────────────────────────────────────────────────────────
	// Фильтрация
	// ─────────────────────────────────────────────────────────────────────────

	// Status - фильтр по статусу (пустой = все).
	Status notification.Status

	// ─────────────────────────────────────────────────────────────────────────
	// Пагинация
	// ─────────────────────────────────────────────────────────────────────────

	// Page - номер страницы, с 1.
	Page int

	// PageSize - размер страницы (по умолчанию 20, максимум 100).
	PageSize int
}

// Validate проверяет корректность параметров.
func (q ListNotificationsQuery) Validate() error {
	if !q.AccountID.IsValid() {
		return errors.New("list_notifications: account_id is required")
	}
	if q.Status != "" && !q.Status.IsValid() {
		return errors.New("list_notifications: unknown status")
	}
	if q.Page < 0 || q.PageSize < 0 {
		return errors.New("list_notifications: page and page_size cannot be negative")
	}
	return nil
}

// ReceiptDTO - состояние доставки в один канал.
type ReceiptDTO struct {
	Channel       notification.Channel       `json:"channel"`
	Status        notification.ReceiptStatus `json:"status"`
	SentAt        *time.Time                 `json:"sent_at,omitempty"`
	DeliveredAt   *time.Time                 `json:"delivered_at,omitempty"`
	FailureReason string                     `json:"failure_reason,omitempty"`
	RetryCount    int                        `json:"retry_count"`
}

// NotificationDTO - уведомление для клиента.
type NotificationDTO struct {
	ID       string                        `json:"id"`
	Type     notification.NotificationType `json:"type"`
	Category notification.Category         `json:"category"`
	Priority string                        `json:"priority"`
	Status   notification.Status           `json:"status"`

	Title    string `json:"title"`
	Body     string `json:"body"`
	IconURL  string `json:"icon_url,omitempty"`
	ImageURL string `json:"image_url,omitempty"`

	Channels []ReceiptDTO      `json:"channels"`
	Metadata map[string]string `json:"metadata,omitempty"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	DismissedAt *time.Time `json:"dismissed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`

	// DeliverySuccessRate - процент доставленных каналов.
	DeliverySuccessRate float64 `json:"delivery_success_rate"`
}

// NewNotificationDTO строит DTO из агрегата.
func NewNotificationDTO(n *notification.Notification) NotificationDTO {
	content := n.Content()
	dto := NotificationDTO{
		ID:                  n.ID().String(),
		Type:                n.Type(),
		Category:            n.Category(),
		Priority:            n.Priority().String(),
		Status:              n.Status(),
		Title:               content.Title(),
		Body:                content.Body(),
		IconURL:             content.IconURL(),
		ImageURL:            content.ImageURL(),
		Metadata:            n.Metadata(),
		ScheduledAt:         n.Window().ScheduledAt(),
		ExpiresAt:           n.Window().ExpiresAt(),
		SentAt:              n.SentAt(),
		ReadAt:              n.ReadAt(),
		DismissedAt:         n.DismissedAt(),
		CreatedAt:           n.CreatedAt(),
		DeliverySuccessRate: n.DeliverySuccessRate(),
	}
	for _, ch := range n.Channels() {
		r, _ := n.Receipt(ch)
		dto.Channels = append(dto.Channels, ReceiptDTO{
			Channel:       ch,
			Status:        r.Status(),
			SentAt:        r.SentAt(),
			DeliveredAt:   r.DeliveredAt(),
			FailureReason: r.FailureReason(),
			RetryCount:    r.RetryCount(),
		})
	}
	return dto
}

// ListNotificationsResult - страница ленты.
type ListNotificationsResult struct {
	Notifications []NotificationDTO `json:"notifications"`
	Page          int               `json:"page"`
	PageSize      int               `json:"page_size"`

	// HasMore - на следующей странице есть записи.
	HasMore bool `json:"has_more"`
}

// ListNotificationsHandler обрабатывает запрос ленты.
type ListNotificationsHandler struct {
	repo notification.NotificationRepository
}

// NewListNotificationsHandler создаёт обработчик.
func NewListNotificationsHandler(repo notification.NotificationRepository) *ListNotificationsHandler {
	return &ListNotificationsHandler{repo: repo}
}

// Handle выполняет запрос. Фильтр по статусу применяется в пределах страницы.
func (h *ListNotificationsHandler) Handle(ctx context.Context, q ListNotificationsQuery) (*ListNotificationsResult, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("notification", "List", shared.ErrValidation, err.Error(), err)
	}

	page := shared.NewPagination(q.Page, q.PageSize)
	items, err := h.repo.FindByAccount(ctx, q.AccountID, page)
	if err != nil {
		return nil, err
	}

	result := &ListNotificationsResult{
		Notifications: make([]NotificationDTO, 0, len(items)),
		Page:          page.Page,
		PageSize:      page.Limit(),
	}
	for _, n := range items {
		if q.Status != "" && n.Status() != q.Status {
			continue
		}
		result.Notifications = append(result.Notifications, NewNotificationDTO(n))
	}

	if len(items) == page.Limit() {
		// Страница размером 1 сразу после текущей.
		next, err := h.repo.FindByAccount(ctx, q.AccountID, shared.Pagination{
			Page:     page.Offset() + page.Limit() + 1,
			PageSize: 1,
		})
		if err != nil {
			return nil, err
		}
		result.HasMore = len(next) > 0
	}
	return result, nil
}
