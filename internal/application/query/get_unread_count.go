package query

import (
	"context"
	"errors"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET UNREAD COUNT QUERY
// Количество отправленных, но не прочитанных уведомлений (бейдж в клиенте).
// ══════════════════════════════════════════════════════════════════════════════

// GetUnreadCountQuery содержит параметры запроса.
type GetUnreadCountQuery struct {
	AccountID shared.AccountID
}

// Validate проверяет корректность параметров.
func (q GetUnreadCountQuery) Validate() error {
	if !q.AccountID.IsValid() {
		return errors.New("unread_count: account_id is required")
	}
	return nil
}

// GetUnreadCountResult - результат запроса.
type GetUnreadCountResult struct {
	AccountID shared.AccountID `json:"account_id"`
	Unread    int              `json:"unread"`
}

// GetUnreadCountHandler обрабатывает запрос.
type GetUnreadCountHandler struct {
	repo notification.NotificationRepository
}

// NewGetUnreadCountHandler создаёт обработчик.
func NewGetUnreadCountHandler(repo notification.NotificationRepository) *GetUnreadCountHandler {
	return &GetUnreadCountHandler{repo: repo}
}

// Handle выполняет запрос.
func (h *GetUnreadCountHandler) Handle(ctx context.Context, q GetUnreadCountQuery) (*GetUnreadCountResult, error) {
	if err := q.Validate(); err != nil {
		return nil, shared.WrapError("notification", "CountUnread", shared.ErrValidation, err.Error(), err)
	}
	n, err := h.repo.CountUnread(ctx, q.AccountID)
	if err != nil {
		return nil, err
	}
	return &GetUnreadCountResult{AccountID: q.AccountID, Unread: n}, nil
}
