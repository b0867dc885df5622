package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/infrastructure/metrics"
	"github.com/alem-hub/notification-engine/pkg/circuitbreaker"
	"github.com/alem-hub/notification-engine/pkg/ratelimit"
)

// Registry maps channels to senders. Disabled channels have no sender, which the
// dispatcher records as a permanent failure.
type Registry struct {
	mu      sync.RWMutex
	senders map[notification.Channel]notification.ChannelSender
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{senders: make(map[notification.Channel]notification.ChannelSender)}
}

// Register installs s for its channel, replacing any previous sender.
func (r *Registry) Register(s notification.ChannelSender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[s.Channel()] = s
}

// Sender returns the sender for ch.
func (r *Registry) Sender(ch notification.Channel) (notification.ChannelSender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[ch]
	return s, ok
}

// Channels returns the channels that have a sender, in canonical order.
func (r *Registry) Channels() []notification.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]notification.Channel, 0, len(r.senders))
	for ch := range r.senders {
		out = append(out, ch)
	}
	notification.SortChannels(out)
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER DECORATOR
// ══════════════════════════════════════════════════════════════════════════════

// BreakerSender guards a sender with a circuit breaker. Only retryable failures
// count against the breaker; an open breaker fails fast with a retryable error.
type BreakerSender struct {
	inner   notification.ChannelSender
	breaker *circuitbreaker.CircuitBreaker
}

var _ notification.ChannelSender = (*BreakerSender)(nil)

// WithBreaker wraps inner. External providers (email, sms) use the provider
// preset; live push channels use the push preset. Overrides apply on top of
// the preset.
func WithBreaker(inner notification.ChannelSender, m *metrics.DeliveryMetrics, logger *zap.Logger, overrides ...circuitbreaker.Option) *BreakerSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := inner.Channel().String()
	onChange := func(name string, from, to circuitbreaker.State) {
		logger.Warn("sender circuit state changed",
			zap.String("sender", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		m.BreakerState(name, int(to))
	}

	var cb *circuitbreaker.CircuitBreaker
	switch inner.Channel() {
	case notification.ChannelEmail, notification.ChannelSMS:
		cb = circuitbreaker.ProviderBreaker(name, onChange, countsAgainstBreaker, overrides...)
	default:
		cb = circuitbreaker.PushBreaker(name, onChange, countsAgainstBreaker, overrides...)
	}
	return NewBreakerSender(inner, cb)
}

// NewBreakerSender wraps inner with an explicit breaker.
func NewBreakerSender(inner notification.ChannelSender, cb *circuitbreaker.CircuitBreaker) *BreakerSender {
	return &BreakerSender{inner: inner, breaker: cb}
}

// Channel implements notification.ChannelSender.
func (s *BreakerSender) Channel() notification.Channel { return s.inner.Channel() }

// Breaker exposes the underlying breaker.
func (s *BreakerSender) Breaker() *circuitbreaker.CircuitBreaker { return s.breaker }

// Send implements notification.ChannelSender.
func (s *BreakerSender) Send(ctx context.Context, n *notification.Notification, recipient notification.RecipientContext) (notification.DeliveryResult, error) {
	var result notification.DeliveryResult
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var sendErr error
		result, sendErr = s.inner.Send(ctx, n, recipient)
		return sendErr
	})
	if err != nil && circuitbreaker.IsRejected(err) {
		return notification.DeliveryResult{}, notification.NewSendError(s.Channel(), err, true)
	}
	return result, err
}

func countsAgainstBreaker(err error) bool {
	var se *notification.SendError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// PROVIDER THROTTLE DECORATOR
// ══════════════════════════════════════════════════════════════════════════════

// ThrottledSender paces calls to a provider with a token bucket. A provider
// throttling response drains the bucket so the following sends slow down.
type ThrottledSender struct {
	inner   notification.ChannelSender
	limiter *ratelimit.Limiter
}

var _ notification.ChannelSender = (*ThrottledSender)(nil)

// WithThrottle wraps inner with limiter.
func WithThrottle(inner notification.ChannelSender, limiter *ratelimit.Limiter) *ThrottledSender {
	return &ThrottledSender{inner: inner, limiter: limiter}
}

// Channel implements notification.ChannelSender.
func (s *ThrottledSender) Channel() notification.Channel { return s.inner.Channel() }

// Send implements notification.ChannelSender.
func (s *ThrottledSender) Send(ctx context.Context, n *notification.Notification, recipient notification.RecipientContext) (notification.DeliveryResult, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return notification.DeliveryResult{}, notification.NewSendError(s.Channel(), err, !errors.Is(err, context.Canceled))
	}
	result, err := s.inner.Send(ctx, n, recipient)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && isThrottle(apiErr.ErrorCode()) {
		s.limiter.Throttled()
	}
	return result, err
}
