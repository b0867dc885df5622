package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectChannels_ByPriority(t *testing.T) {
	svc := NewChannelSelectionService()
	pref := DefaultPreference("acc-1", baseTime)

	tests := []struct {
		name     string
		priority Priority
		want     []Channel
	}{
		{"urgent gets every allowed channel", PriorityUrgent, []Channel{ChannelInApp, ChannelSSE, ChannelDesktop, ChannelSystem, ChannelEmail}},
		{"high", PriorityHigh, []Channel{ChannelInApp, ChannelSSE, ChannelSystem}},
		{"normal", PriorityNormal, []Channel{ChannelInApp, ChannelSSE}},
		{"low", PriorityLow, []Channel{ChannelInApp, ChannelSSE}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := svc.SelectChannels(SelectionRequest{
				Preference: pref,
				Type:       TypeSystemAlert,
				Priority:   tt.priority,
				Now:        baseTime,
			})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectChannels_RequestedIntersection(t *testing.T) {
	svc := NewChannelSelectionService()
	pref := DefaultPreference("acc-1", baseTime)

	got := svc.SelectChannels(SelectionRequest{
		Preference: pref,
		Type:       TypeTaskReminder,
		Priority:   PriorityNormal,
		Requested:  []Channel{ChannelSMS, ChannelEmail, ChannelDesktop},
		Now:        baseTime,
	})
	assert.Equal(t, []Channel{ChannelDesktop, ChannelEmail}, got)

	// sms is disabled by default, so the intersection is empty and every allowed channel is used
	got = svc.SelectChannels(SelectionRequest{
		Preference: pref,
		Type:       TypeTaskReminder,
		Requested:  []Channel{ChannelSMS},
		Now:        baseTime,
	})
	assert.Equal(t, pref.AllowedChannels(TypeTaskReminder, baseTime, nil), got)
}

func TestSelectChannels_QuietHoursFallback(t *testing.T) {
	svc := NewChannelSelectionService()
	pref := DefaultPreference("acc-1", baseTime)
	qh, err := NewQuietHours(true, "22:00", "08:00")
	require.NoError(t, err)
	for _, ch := range []Channel{ChannelInApp, ChannelSSE, ChannelSystem} {
		require.NoError(t, pref.SetChannel(ch, ChannelPreference{Enabled: true, QuietHours: qh}, baseTime))
	}

	night := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	got := svc.SelectChannels(SelectionRequest{
		Preference: pref,
		Type:       TypeTaskReminder,
		Priority:   PriorityNormal,
		Now:        night,
	})
	assert.Equal(t, []Channel{ChannelDesktop, ChannelEmail}, got)
}

func TestSelectChannels_NothingAllowed(t *testing.T) {
	svc := NewChannelSelectionService()
	pref := DefaultPreference("acc-1", baseTime)
	pref.SetEnabled(false, baseTime)

	assert.Empty(t, svc.SelectChannels(SelectionRequest{Preference: pref, Type: TypeSystemAlert, Priority: PriorityUrgent, Now: baseTime}))
	assert.Empty(t, svc.SelectChannels(SelectionRequest{Type: TypeSystemAlert, Now: baseTime}))
}

func TestSelectChannels_Deterministic(t *testing.T) {
	svc := NewChannelSelectionService()
	pref := DefaultPreference("acc-1", baseTime)
	req := SelectionRequest{
		Preference: pref,
		Type:       TypeGoalCompleted,
		Priority:   PriorityUrgent,
		Requested:  []Channel{ChannelEmail, ChannelInApp, ChannelDesktop},
		Now:        baseTime,
	}

	first := svc.SelectChannels(req)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, svc.SelectChannels(req))
	}
}
