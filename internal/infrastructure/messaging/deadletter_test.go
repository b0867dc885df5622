package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/notification-engine/internal/domain/notification"
)

func sampleDeadLetter(ch notification.Channel) notification.DeadLetter {
	return notification.DeadLetter{
		NotificationID: "n-1",
		AccountID:      "acc-1",
		Channel:        ch,
		Error:          "email send failed: provider unavailable",
		RetryCount:     3,
		Timestamp:      baseTime,
	}
}

func TestDeadLetterQueue_DropsOldestWhenFull(t *testing.T) {
	q := NewDeadLetterQueue(2)
	ctx := context.Background()

	require.NoError(t, q.Record(ctx, sampleDeadLetter(notification.ChannelEmail)))
	require.NoError(t, q.Record(ctx, sampleDeadLetter(notification.ChannelSMS)))
	require.NoError(t, q.Record(ctx, sampleDeadLetter(notification.ChannelDesktop)))

	assert.Equal(t, 2, q.Size())
	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, notification.ChannelSMS, first.Channel)
	assert.Len(t, q.Entries(), 1)
}

func TestKafkaDeadLetterSink_PublishesJSON(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got notification.DeadLetter
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.Channel != notification.ChannelEmail || got.RetryCount != 3 {
			return errors.New("unexpected dead letter payload")
		}
		return nil
	})

	sink, err := NewKafkaDeadLetterSinkWithProducer(producer, "notifications.dlq")
	require.NoError(t, err)
	require.NoError(t, sink.Record(context.Background(), sampleDeadLetter(notification.ChannelEmail)))
	require.NoError(t, sink.Close())
}

func TestKafkaDeadLetterSink_PropagatesProducerError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink, err := NewKafkaDeadLetterSinkWithProducer(producer, "notifications.dlq")
	require.NoError(t, err)

	err = sink.Record(context.Background(), sampleDeadLetter(notification.ChannelSMS))
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, sink.Close())
}

func TestKafkaDeadLetterSink_RequiresTopic(t *testing.T) {
	_, err := NewKafkaDeadLetterSinkWithProducer(mocks.NewSyncProducer(t, nil), " ")
	assert.Error(t, err)
}

func TestRedisDeadLetterSink_CapsList(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sink := NewRedisDeadLetterSink(client, "test:dlq", 2)
	ctx := context.Background()
	for _, ch := range []notification.Channel{notification.ChannelEmail, notification.ChannelSMS, notification.ChannelDesktop} {
		require.NoError(t, sink.Record(ctx, sampleDeadLetter(ch)))
	}

	entries, err := sink.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, notification.ChannelDesktop, entries[0].Channel)
	assert.Equal(t, notification.ChannelSMS, entries[1].Channel)
	assert.True(t, entries[0].Timestamp.Equal(baseTime))
}

type failingSink struct{}

func (failingSink) Record(context.Context, notification.DeadLetter) error {
	return errors.New("sink down")
}

func TestMultiSink_RecordsToAllSinks(t *testing.T) {
	q := NewDeadLetterQueue(10)
	m := NewMultiSink(nil, failingSink{}, nil, q)

	err := m.Record(context.Background(), sampleDeadLetter(notification.ChannelEmail))
	assert.EqualError(t, err, "sink down")
	assert.Equal(t, 1, q.Size())
}
