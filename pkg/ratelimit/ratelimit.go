// Package ratelimit provides a token bucket that paces calls to external
// providers (SES send rate, SNS SMS throughput).
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// TOKEN BUCKET
// ══════════════════════════════════════════════════════════════════════════════

// Limiter implements the token bucket algorithm.
type Limiter struct {
	mu sync.Mutex

	maxTokens        float64
	refillRate       float64 // tokens per second
	tokens           float64
	lastRefill       time.Time
	waitTimeout      time.Duration
	consecutiveWaits int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Config contains configuration for the limiter.
type Config struct {
	// RatePerSecond is the sustained call rate.
	RatePerSecond float64

	// Burst is the bucket size.
	Burst int

	// WaitTimeout is the longest Wait blocks before giving up. Zero means
	// only the context bounds it.
	WaitTimeout time.Duration
}

// DefaultConfig matches the SES sandbox quota of one message per second.
func DefaultConfig() Config {
	return Config{
		RatePerSecond: 1,
		Burst:         1,
		WaitTimeout:   5 * time.Second,
	}
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides time source and sleeping (tests).
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		l.now = now
		l.sleep = sleep
	}
}

// New creates a limiter with a full bucket.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultConfig().RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	l := &Limiter{
		maxTokens:   float64(cfg.Burst),
		refillRate:  cfg.RatePerSecond,
		tokens:      float64(cfg.Burst),
		waitTimeout: cfg.WaitTimeout,
		now:         time.Now,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastRefill = l.now()
	return l
}

// ErrWaitTimeout is returned when a token does not become available in time.
var ErrWaitTimeout = errors.New("ratelimit: timeout waiting for token")

// Error carries the suggested wait when the limiter gives up.
type Error struct {
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return ErrWaitTimeout.Error() + ", retry after " + e.RetryAfter.String()
}

// Is makes errors.Is(err, ErrWaitTimeout) work.
func (e *Error) Is(target error) bool { return target == ErrWaitTimeout }

// Wait blocks until a token is available, the context is done or the wait
// would exceed WaitTimeout.
func (l *Limiter) Wait(ctx context.Context) error {
	var deadline time.Time
	if l.waitTimeout > 0 {
		deadline = l.now().Add(l.waitTimeout)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait, ok := l.tryAcquire()
		if ok {
			return nil
		}
		if !deadline.IsZero() && l.now().Add(wait).After(deadline) {
			return &Error{RetryAfter: wait}
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// TryAcquire takes a token without blocking.
func (l *Limiter) TryAcquire() bool {
	_, ok := l.tryAcquire()
	return ok
}

func (l *Limiter) tryAcquire() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= 1 {
		l.tokens--
		l.consecutiveWaits = 0
		return 0, true
	}

	wait := time.Duration((1 - l.tokens) / l.refillRate * float64(time.Second))
	// Callers that keep losing the race back off harder, capped at 32x.
	if l.consecutiveWaits > 0 {
		wait *= time.Duration(1 << uint(min(l.consecutiveWaits, 5)))
	}
	l.consecutiveWaits++
	return wait, false
}

// refill must be called with the lock held.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.refillRate
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
	l.lastRefill = now
}

// Throttled records that the provider rejected a call for exceeding its
// quota: the bucket is emptied so the next callers wait a full refill.
func (l *Limiter) Throttled() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = 0
	l.lastRefill = l.now()
	l.consecutiveWaits++
}

// Reset refills the bucket.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = l.maxTokens
	l.lastRefill = l.now()
	l.consecutiveWaits = 0
}

// Status is a point-in-time view of the bucket.
type Status struct {
	AvailableTokens  float64
	MaxTokens        float64
	RefillRate       float64
	ConsecutiveWaits int
}

// Status returns the current state of the bucket.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return Status{
		AvailableTokens:  l.tokens,
		MaxTokens:        l.maxTokens,
		RefillRate:       l.refillRate,
		ConsecutiveWaits: l.consecutiveWaits,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
