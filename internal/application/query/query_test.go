package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
	"github.com/alem-hub/notification-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/notification-engine/pkg/timeutil"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, repo *memory.NotificationRepository, id string, account shared.AccountID, createdAt time.Time, sent bool) {
	t.Helper()
	content, err := notification.NewContent("Title "+id, "Body", "", "")
	require.NoError(t, err)
	set, err := notification.NewChannelSet([]notification.Channel{notification.ChannelInApp, notification.ChannelEmail}, notification.PriorityHigh)
	require.NoError(t, err)
	n, err := notification.NewNotification(notification.NewNotificationParams{
		ID:        notification.NotificationID(id),
		AccountID: account,
		Type:      notification.TypeTaskOverdue,
		Content:   content,
		Channels:  set,
		Now:       createdAt,
	})
	require.NoError(t, err)
	if sent {
		require.NoError(t, n.MarkChannelSent(notification.ChannelInApp, createdAt))
		require.NoError(t, n.MarkChannelDelivered(notification.ChannelInApp, createdAt, nil))
		require.NoError(t, n.MarkAsSent(createdAt))
	}
	require.NoError(t, repo.Save(context.Background(), n))
}

func TestListNotifications_PagesNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewNotificationRepository()
	for i := 0; i < 5; i++ {
		seed(t, repo, fmt.Sprintf("n-%d", i), "acc-1", t0.Add(time.Duration(i)*time.Minute), i%2 == 0)
	}
	seed(t, repo, "other", "acc-2", t0, true)
	h := NewListNotificationsHandler(repo)

	page1, err := h.Handle(ctx, ListNotificationsQuery{AccountID: "acc-1", Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page1.Notifications, 2)
	assert.Equal(t, "n-4", page1.Notifications[0].ID)
	assert.Equal(t, "n-3", page1.Notifications[1].ID)
	assert.True(t, page1.HasMore)

	page3, err := h.Handle(ctx, ListNotificationsQuery{AccountID: "acc-1", Page: 3, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page3.Notifications, 1)
	assert.False(t, page3.HasMore)

	exact, err := h.Handle(ctx, ListNotificationsQuery{AccountID: "acc-1", Page: 1, PageSize: 5})
	require.NoError(t, err)
	assert.Len(t, exact.Notifications, 5)
	assert.False(t, exact.HasMore)

	sentOnly, err := h.Handle(ctx, ListNotificationsQuery{AccountID: "acc-1", Status: notification.StatusSent})
	require.NoError(t, err)
	assert.Len(t, sentOnly.Notifications, 3)
	assert.Equal(t, shared.DefaultPageSize, sentOnly.PageSize)
}

func TestListNotifications_DTO(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewNotificationRepository()
	seed(t, repo, "n-1", "acc-1", t0, true)
	h := NewListNotificationsHandler(repo)

	res, err := h.Handle(ctx, ListNotificationsQuery{AccountID: "acc-1"})
	require.NoError(t, err)
	require.Len(t, res.Notifications, 1)

	dto := res.Notifications[0]
	assert.Equal(t, notification.TypeTaskOverdue, dto.Type)
	assert.Equal(t, notification.CategoryTask, dto.Category)
	assert.Equal(t, notification.StatusSent, dto.Status)
	assert.Equal(t, "Title n-1", dto.Title)
	assert.InDelta(t, 50.0, dto.DeliverySuccessRate, 0.001)
	require.Len(t, dto.Channels, 2)
	assert.Equal(t, notification.ChannelInApp, dto.Channels[0].Channel)
	assert.Equal(t, notification.ReceiptDelivered, dto.Channels[0].Status)
	assert.Equal(t, notification.ReceiptPending, dto.Channels[1].Status)
}

func TestListNotifications_Validation(t *testing.T) {
	h := NewListNotificationsHandler(memory.NewNotificationRepository())

	_, err := h.Handle(context.Background(), ListNotificationsQuery{})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(context.Background(), ListNotificationsQuery{AccountID: "acc-1", Status: "archived"})
	assert.True(t, shared.IsValidation(err))
}

func TestGetUnreadCount(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewNotificationRepository()
	seed(t, repo, "n-1", "acc-1", t0, true)
	seed(t, repo, "n-2", "acc-1", t0, true)
	seed(t, repo, "n-3", "acc-1", t0, false)
	h := NewGetUnreadCountHandler(repo)

	res, err := h.Handle(ctx, GetUnreadCountQuery{AccountID: "acc-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Unread)

	res, err = h.Handle(ctx, GetUnreadCountQuery{AccountID: "acc-9"})
	require.NoError(t, err)
	assert.Zero(t, res.Unread)

	_, err = h.Handle(ctx, GetUnreadCountQuery{})
	assert.True(t, shared.IsValidation(err))
}

func TestGetPreferences(t *testing.T) {
	h := NewGetPreferencesHandler(memory.NewPreferenceRepository(timeutil.NewManualClock(t0)))

	s, err := h.Handle(context.Background(), GetPreferencesQuery{AccountID: "acc-1"})
	require.NoError(t, err)
	assert.True(t, s.Enabled)
	assert.Equal(t, "UTC", s.Timezone)
	assert.False(t, s.Channels[notification.ChannelSMS].Enabled)

	_, err = h.Handle(context.Background(), GetPreferencesQuery{})
	assert.True(t, shared.IsValidation(err))
}
