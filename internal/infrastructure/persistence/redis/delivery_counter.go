package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
	"github.com/alem-hub/notification-engine/internal/domain/shared"
)

// DeliveryCounter keeps one sorted set of delivery timestamps per account and
// channel. Counts over any period up to TTLDeliveryWindow are a ZCOUNT away.
type DeliveryCounter struct {
	client *redis.Client
}

// NewDeliveryCounter creates a counter on client.
func NewDeliveryCounter(client *redis.Client) *DeliveryCounter {
	return &DeliveryCounter{client: client}
}

// Increment records one delivery at the given time and trims entries older than
// the retention window.
func (c *DeliveryCounter) Increment(ctx context.Context, accountID shared.AccountID, ch notification.Channel, at time.Time) error {
	key := DeliveriesKey(accountID.String(), ch.String())
	score := float64(at.UnixMilli())

	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: uuid.NewString()})
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(at.Add(-TTLDeliveryWindow).UnixMilli(), 10))
	pipe.Expire(ctx, key, TTLDeliveryWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// Counts returns, for each rate-limited channel, the deliveries within its
// period ending at now.
func (c *DeliveryCounter) Counts(ctx context.Context, accountID shared.AccountID, limits map[notification.Channel]notification.RateLimit, now time.Time) (notification.DeliveryCounts, error) {
	counts := make(notification.DeliveryCounts, len(limits))
	if len(limits) == 0 {
		return counts, nil
	}

	pipe := c.client.Pipeline()
	cmds := make(map[notification.Channel]*redis.IntCmd, len(limits))
	upper := strconv.FormatInt(now.UnixMilli(), 10)
	for ch, limit := range limits {
		lower := strconv.FormatInt(now.Add(-limit.Period).UnixMilli(), 10)
		cmds[ch] = pipe.ZCount(ctx, DeliveriesKey(accountID.String(), ch.String()), "("+lower, upper)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("count deliveries: %w", err)
	}

	for ch, cmd := range cmds {
		n, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("count deliveries for %s: %w", ch, err)
		}
		counts[ch] = int(n)
	}
	return counts, nil
}
