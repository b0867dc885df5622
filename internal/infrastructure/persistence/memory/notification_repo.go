// Package memory provides map-backed repositories. The worker uses them when no
// database is configured; tests use them as fakes with real version checks.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
)

// NotificationRepository stores notification snapshots in memory.
type NotificationRepository struct {
	mu    sync.RWMutex
	items map[notification.NotificationID]notification.Snapshot

	// saves counts successful Save calls.
	saves int
}

var _ notification.NotificationRepository = (*NotificationRepository)(nil)

// NewNotificationRepository creates an empty repository.
func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{items: make(map[notification.NotificationID]notification.Snapshot)}
}

// Save stores n if the stored version still equals the version n was loaded at.
func (r *NotificationRepository) Save(ctx context.Context, n *notification.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.items[n.ID()]
	switch {
	case n.IsNew() && exists:
		return shared.WrapError("notification", "Save", shared.ErrAlreadyExists, "notification already exists", nil)
	case !n.IsNew() && !exists:
		return shared.ErrNotificationNotFound
	case exists && current.Version != n.PersistedVersion():
		return shared.ErrStaleAggregate
	}

	r.items[n.ID()] = n.Snapshot()
	r.saves++
	n.MarkPersisted()
	return nil
}

// FindByID returns a fresh copy of the stored aggregate.
func (r *NotificationRepository) FindByID(ctx context.Context, id notification.NotificationID) (*notification.Notification, error) {
	r.mu.RLock()
	s, ok := r.items[id]
	r.mu.RUnlock()
	if !ok {
		return nil, shared.ErrNotificationNotFound
	}
	return notification.Reconstitute(s)
}

// FindPending returns due pending notifications, oldest first.
func (r *NotificationRepository) FindPending(ctx context.Context, before time.Time, limit int) ([]*notification.Notification, error) {
	return r.filter(limit, false, func(s notification.Snapshot) bool {
		if s.Status != notification.StatusPending {
			return false
		}
		if s.ExpiresAt != nil && !before.Before(*s.ExpiresAt) {
			return false
		}
		return s.ScheduledAt == nil || !s.ScheduledAt.After(before)
	})
}

// FindExpired returns pending notifications whose expiry has passed.
func (r *NotificationRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*notification.Notification, error) {
	return r.filter(limit, false, func(s notification.Snapshot) bool {
		return s.Status == notification.StatusPending && s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
	})
}

// FindByAccount returns the account's notifications, newest first.
func (r *NotificationRepository) FindByAccount(ctx context.Context, accountID shared.AccountID, page shared.Pagination) ([]*notification.Notification, error) {
	all, err := r.filter(0, true, func(s notification.Snapshot) bool {
		return s.AccountID == accountID
	})
	if err != nil {
		return nil, err
	}
	offset := page.Offset()
	if offset >= len(all) {
		return []*notification.Notification{}, nil
	}
	end := offset + page.Limit()
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// CountUnread counts sent notifications that were not read.
func (r *NotificationRepository) CountUnread(ctx context.Context, accountID shared.AccountID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, s := range r.items {
		if s.AccountID == accountID && s.Status == notification.StatusSent {
			count++
		}
	}
	return count, nil
}

// DeleteFinalizedBefore removes final notifications last updated before cutoff.
func (r *NotificationRepository) DeleteFinalizedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, s := range r.items {
		if s.Status.IsFinal() && s.UpdatedAt.Before(cutoff) {
			delete(r.items, id)
			deleted++
		}
	}
	return deleted, nil
}

// Saves returns the number of successful saves.
func (r *NotificationRepository) Saves() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.saves
}

func (r *NotificationRepository) filter(limit int, newestFirst bool, keep func(notification.Snapshot) bool) ([]*notification.Notification, error) {
	r.mu.RLock()
	matched := make([]notification.Snapshot, 0)
	for _, s := range r.items {
		if keep(s) {
			matched = append(matched, s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		if newestFirst {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*notification.Notification, 0, len(matched))
	for _, s := range matched {
		n, err := notification.Reconstitute(s)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
