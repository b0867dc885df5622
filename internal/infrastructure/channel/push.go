package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
	"github.com/alem-hub/notification-engine/pkg/timeutil"
)

// ErrRecipientOffline is returned by live channels when the account has no open connection.
var ErrRecipientOffline = errors.New("recipient has no open connection")

// PushMessage is the JSON frame written to websocket and SSE clients.
type PushMessage struct {
	ID        string            `json:"id"`
	Channel   string            `json:"channel"`
	Type      string            `json:"type"`
	Category  string            `json:"category"`
	Priority  string            `json:"priority"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	IconURL   string            `json:"icon_url,omitempty"`
	ImageURL  string            `json:"image_url,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewPushMessage builds the frame for ch.
func NewPushMessage(n *notification.Notification, ch notification.Channel) PushMessage {
	c := n.Content()
	return PushMessage{
		ID:        n.ID().String(),
		Channel:   ch.String(),
		Type:      n.Type().String(),
		Category:  string(n.Category()),
		Priority:  n.Priority().String(),
		Title:     c.Title(),
		Body:      c.Body(),
		IconURL:   c.IconURL(),
		ImageURL:  c.ImageURL(),
		Metadata:  n.Metadata(),
		CreatedAt: n.CreatedAt(),
	}
}

// Pusher fans a payload out to an account's live connections and returns how
// many accepted it. Hub and SSEBroker implement it.
type Pusher interface {
	Send(accountID shared.AccountID, payload []byte) int
}

// PushSender delivers one live channel through a Pusher.
type PushSender struct {
	channel notification.Channel
	pusher  Pusher
	clock   timeutil.Clock

	// feedFallback treats an offline recipient as delivered: the notification
	// stays in the in-app feed and is fetched on the next visit.
	feedFallback bool
}

var _ notification.ChannelSender = (*PushSender)(nil)

// NewInAppSender pushes in-app notifications over websocket. Offline recipients
// still get the notification through the feed.
func NewInAppSender(hub *Hub, clock timeutil.Clock) *PushSender {
	return newPushSender(notification.ChannelInApp, hub, clock, true)
}

// NewDesktopSender pushes desktop notifications over websocket.
func NewDesktopSender(hub *Hub, clock timeutil.Clock) *PushSender {
	return newPushSender(notification.ChannelDesktop, hub, clock, false)
}

// NewSystemSender pushes OS tray notifications over websocket.
func NewSystemSender(hub *Hub, clock timeutil.Clock) *PushSender {
	return newPushSender(notification.ChannelSystem, hub, clock, false)
}

// NewSSESender pushes notifications to server-sent event streams.
func NewSSESender(broker *SSEBroker, clock timeutil.Clock) *PushSender {
	return newPushSender(notification.ChannelSSE, broker, clock, false)
}

func newPushSender(ch notification.Channel, p Pusher, clock timeutil.Clock, feedFallback bool) *PushSender {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &PushSender{channel: ch, pusher: p, clock: clock, feedFallback: feedFallback}
}

// Channel implements notification.ChannelSender.
func (s *PushSender) Channel() notification.Channel { return s.channel }

// Send implements notification.ChannelSender.
func (s *PushSender) Send(ctx context.Context, n *notification.Notification, recipient notification.RecipientContext) (notification.DeliveryResult, error) {
	if err := ctx.Err(); err != nil {
		return notification.DeliveryResult{}, notification.NewSendError(s.channel, err, true)
	}

	payload, err := json.Marshal(NewPushMessage(n, s.channel))
	if err != nil {
		return notification.DeliveryResult{}, notification.NewSendError(s.channel, fmt.Errorf("marshal push message: %w", err), false)
	}

	accountID := recipient.AccountID
	if !accountID.IsValid() {
		accountID = n.AccountID()
	}

	accepted := s.pusher.Send(accountID, payload)
	if accepted == 0 && !s.feedFallback {
		return notification.DeliveryResult{}, notification.NewSendError(s.channel, ErrRecipientOffline, false)
	}

	result := notification.NewDeliveryResult(s.channel, "", s.clock.Now())
	result.Metadata["connections"] = strconv.Itoa(accepted)
	if accepted == 0 {
		result.Metadata["delivery"] = "feed"
	}
	return result, nil
}
