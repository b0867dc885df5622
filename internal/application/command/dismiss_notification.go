package command

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
	"github.com/alem-hub/notification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISMISS NOTIFICATION COMMAND
// Скрывает отправленное или прочитанное уведомление.
// ══════════════════════════════════════════════════════════════════════════════

// DismissNotificationCommand identifies the notification to dismiss.
type DismissNotificationCommand struct {
	NotificationID notification.NotificationID
	AccountID      shared.AccountID
}

// Validate validates the command.
func (c DismissNotificationCommand) Validate() error {
	if !c.NotificationID.IsValid() {
		return errors.New("dismiss: notification_id is required")
	}
	if !c.AccountID.IsValid() {
		return errors.New("dismiss: account_id is required")
	}
	return nil
}

// DismissNotificationHandler handles DismissNotificationCommand.
type DismissNotificationHandler struct {
	updater statusUpdater
}

// NewDismissNotificationHandler creates a new handler.
func NewDismissNotificationHandler(
	repo notification.NotificationRepository,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *zap.Logger,
) *DismissNotificationHandler {
	return &DismissNotificationHandler{updater: newStatusUpdater(repo, publisher, clock, log, "dismiss")}
}

// Handle executes the command.
func (h *DismissNotificationHandler) Handle(ctx context.Context, cmd DismissNotificationCommand) (*StatusChangeResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("notification", "Dismiss", shared.ErrValidation, err.Error(), err)
	}
	return h.updater.apply(ctx, cmd.NotificationID, cmd.AccountID, notification.StatusDismissed,
		func(n *notification.Notification, now time.Time) error {
			return n.MarkAsDismissed(now)
		})
}
