package query

import (
	"context"
	"errors"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
)

// GetPreferencesQuery запрашивает настройки получателя.
type GetPreferencesQuery struct {
	AccountID shared.AccountID
}

// GetPreferencesHandler возвращает настройки, создавая настройки по умолчанию при первом обращении.
type GetPreferencesHandler struct {
	repo notification.PreferenceRepository
}

// NewGetPreferencesHandler создаёт обработчик.
func NewGetPreferencesHandler(repo notification.PreferenceRepository) *GetPreferencesHandler {
	return &GetPreferencesHandler{repo: repo}
}

// Handle выполняет запрос.
func (h *GetPreferencesHandler) Handle(ctx context.Context, q GetPreferencesQuery) (*notification.PreferenceSnapshot, error) {
	if !q.AccountID.IsValid() {
		err := errors.New("get_preferences: account_id is required")
		return nil, shared.WrapError("preference", "Get", shared.ErrValidation, err.Error(), err)
	}
	p, err := h.repo.GetOrCreateDefault(ctx, q.AccountID)
	if err != nil {
		return nil, err
	}
	s := p.Snapshot()
	return &s, nil
}
