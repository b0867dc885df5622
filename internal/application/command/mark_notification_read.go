package command

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
	"github.com/alem-hub/notification-engine/pkg/logger"
	"github.com/alem-hub/notification-engine/pkg/retry"
	"github.com/alem-hub/notification-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MARK NOTIFICATION READ COMMAND
// Отмечает отправленное уведомление прочитанным. Повторная отметка ничего
// не меняет. Конфликт версий (например, с диспетчером) решается перечитыванием.
// ══════════════════════════════════════════════════════════════════════════════

// MarkNotificationReadCommand identifies the notification to mark read.
type MarkNotificationReadCommand struct {
	NotificationID notification.NotificationID
	AccountID      shared.AccountID
}

// Validate validates the command.
func (c MarkNotificationReadCommand) Validate() error {
	if !c.NotificationID.IsValid() {
		return errors.New("mark_read: notification_id is required")
	}
	if !c.AccountID.IsValid() {
		return errors.New("mark_read: account_id is required")
	}
	return nil
}

// StatusChangeResult is returned by commands that move a notification's status.
type StatusChangeResult struct {
	NotificationID notification.NotificationID
	Status         notification.Status

	// Changed is false when the notification was already in the target state.
	Changed bool

	At time.Time
}

// MarkNotificationReadHandler handles MarkNotificationReadCommand.
type MarkNotificationReadHandler struct {
	updater statusUpdater
}

// NewMarkNotificationReadHandler creates a new handler.
func NewMarkNotificationReadHandler(
	repo notification.NotificationRepository,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *zap.Logger,
) *MarkNotificationReadHandler {
	return &MarkNotificationReadHandler{updater: newStatusUpdater(repo, publisher, clock, log, "mark_read")}
}

// Handle executes the command.
func (h *MarkNotificationReadHandler) Handle(ctx context.Context, cmd MarkNotificationReadCommand) (*StatusChangeResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("notification", "MarkRead", shared.ErrValidation, err.Error(), err)
	}
	return h.updater.apply(ctx, cmd.NotificationID, cmd.AccountID, notification.StatusRead,
		func(n *notification.Notification, now time.Time) error {
			return n.MarkAsRead(now)
		})
}

// ══════════════════════════════════════════════════════════════════════════════
// SHARED STATUS UPDATE LOOP
// ══════════════════════════════════════════════════════════════════════════════

type statusUpdater struct {
	repo      notification.NotificationRepository
	publisher shared.EventPublisher
	clock     timeutil.Clock
	logger    *zap.Logger
}

func newStatusUpdater(
	repo notification.NotificationRepository,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *zap.Logger,
	component string,
) statusUpdater {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return statusUpdater{
		repo:      repo,
		publisher: publisher,
		clock:     clock,
		logger:    log.With(logger.Component(component)),
	}
}

// apply loads the notification, checks ownership, runs mutate and saves,
// retrying the whole cycle on a version conflict.
func (u statusUpdater) apply(
	ctx context.Context,
	id notification.NotificationID,
	accountID shared.AccountID,
	target notification.Status,
	mutate func(n *notification.Notification, now time.Time) error,
) (*StatusChangeResult, error) {
	log := u.logger.With(logger.NotificationID(id.String()), logger.AccountID(accountID.String()))

	var result *StatusChangeResult
	var events []shared.Event
	err := retry.ConflictRetrier(shared.IsOptimisticLock).Do(ctx, func(ctx context.Context) error {
		n, err := u.repo.FindByID(ctx, id)
		if err != nil {
			return retry.Permanent(err)
		}
		// Чужое уведомление выглядит как отсутствующее.
		if n.AccountID() != accountID {
			return retry.Permanent(shared.ErrNotificationNotFound)
		}

		now := u.clock.Now()
		if n.Status() == target {
			result = &StatusChangeResult{NotificationID: id, Status: target, At: now}
			return nil
		}
		if err := mutate(n, now); err != nil {
			return retry.Permanent(err)
		}
		if err := u.repo.Save(ctx, n); err != nil {
			return err
		}
		events = n.PullEvents()
		result = &StatusChangeResult{NotificationID: id, Status: n.Status(), Changed: true, At: now}
		return nil
	})
	if err != nil {
		if shared.IsOptimisticLock(err) {
			log.Warn("status update lost to concurrent writers", zap.Error(err))
		}
		return nil, err
	}

	publishAll(u.publisher, events, log)
	if result.Changed {
		log.Debug("notification status changed", zap.String("status", string(result.Status)))
	}
	return result, nil
}
