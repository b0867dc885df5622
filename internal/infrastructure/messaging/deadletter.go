package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterQueue is a bounded in-memory sink. The oldest entry is dropped when full.
type DeadLetterQueue struct {
	mu      sync.RWMutex
	entries []notification.DeadLetter
	maxSize int
}

var _ notification.DeadLetterSink = (*DeadLetterQueue)(nil)

// NewDeadLetterQueue creates a new dead letter queue.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DeadLetterQueue{
		entries: make([]notification.DeadLetter, 0),
		maxSize: maxSize,
	}
}

// Record implements notification.DeadLetterSink.
func (q *DeadLetterQueue) Record(_ context.Context, entry notification.DeadLetter) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
	return nil
}

// Entries returns a copy of all entries, oldest first.
func (q *DeadLetterQueue) Entries() []notification.DeadLetter {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]notification.DeadLetter, len(q.entries))
	copy(result, q.entries)
	return result
}

// Size returns the current queue size.
func (q *DeadLetterQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// Pop removes and returns the oldest entry.
func (q *DeadLetterQueue) Pop() (notification.DeadLetter, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return notification.DeadLetter{}, false
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, true
}

// ══════════════════════════════════════════════════════════════════════════════
// KAFKA DEAD LETTER SINK
// ══════════════════════════════════════════════════════════════════════════════

// KafkaSinkConfig configures the Kafka dead-letter producer.
type KafkaSinkConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// KafkaDeadLetterSink publishes dead letters as JSON, keyed by notification id
// so all channels of one notification land on the same partition.
type KafkaDeadLetterSink struct {
	producer sarama.SyncProducer
	topic    string
}

var _ notification.DeadLetterSink = (*KafkaDeadLetterSink)(nil)

// NewKafkaDeadLetterSink dials the brokers with an idempotent sync producer.
func NewKafkaDeadLetterSink(cfg KafkaSinkConfig) (*KafkaDeadLetterSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers is empty")
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 10
	sc.Producer.Retry.Backoff = 100 * time.Millisecond
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.ClientID = strings.TrimSpace(cfg.ClientID)

	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaDeadLetterSinkWithProducer(p, cfg.Topic)
}

// NewKafkaDeadLetterSinkWithProducer wraps an existing producer.
func NewKafkaDeadLetterSinkWithProducer(p sarama.SyncProducer, topic string) (*KafkaDeadLetterSink, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka topic is empty")
	}
	return &KafkaDeadLetterSink{producer: p, topic: topic}, nil
}

// Record implements notification.DeadLetterSink.
func (s *KafkaDeadLetterSink) Record(ctx context.Context, entry notification.DeadLetter) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(entry.NotificationID.String()),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("channel"), Value: []byte(entry.Channel.String())},
			{Key: []byte("account_id"), Value: []byte(entry.AccountID.String())},
		},
		Timestamp: entry.Timestamp,
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("publish dead letter to %s: %w", s.topic, err)
	}
	return nil
}

// Close closes the producer.
func (s *KafkaDeadLetterSink) Close() error {
	if s == nil || s.producer == nil {
		return nil
	}
	return s.producer.Close()
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS DEAD LETTER SINK
// ══════════════════════════════════════════════════════════════════════════════

// RedisDeadLetterSink pushes dead letters onto a capped Redis list (newest first).
type RedisDeadLetterSink struct {
	client *redis.Client
	key    string
	maxLen int64
}

var _ notification.DeadLetterSink = (*RedisDeadLetterSink)(nil)

// NewRedisDeadLetterSink creates a sink writing to key. maxLen <= 0 keeps 10000 entries.
func NewRedisDeadLetterSink(client *redis.Client, key string, maxLen int64) *RedisDeadLetterSink {
	if key == "" {
		key = "notify:deadletters"
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisDeadLetterSink{client: client, key: key, maxLen: maxLen}
}

// Record implements notification.DeadLetterSink.
func (s *RedisDeadLetterSink) Record(ctx context.Context, entry notification.DeadLetter) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, value)
	pipe.LTrim(ctx, s.key, 0, s.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push dead letter: %w", err)
	}
	return nil
}

// List returns up to limit of the most recent dead letters.
func (s *RedisDeadLetterSink) List(ctx context.Context, limit int64) ([]notification.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := s.client.LRange(ctx, s.key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	out := make([]notification.DeadLetter, 0, len(raw))
	for _, item := range raw {
		var entry notification.DeadLetter
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FAN-OUT
// ══════════════════════════════════════════════════════════════════════════════

// MultiSink records to every sink and joins the errors. A failing sink does not
// stop the others.
type MultiSink struct {
	sinks  []notification.DeadLetterSink
	logger *zap.Logger
}

// NewMultiSink combines sinks. Nil sinks are skipped.
func NewMultiSink(logger *zap.Logger, sinks ...notification.DeadLetterSink) *MultiSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &MultiSink{logger: logger}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Record implements notification.DeadLetterSink.
func (m *MultiSink) Record(ctx context.Context, entry notification.DeadLetter) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(ctx, entry); err != nil {
			m.logger.Warn("dead-letter sink failed",
				zap.String("sink", fmt.Sprintf("%T", s)),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
