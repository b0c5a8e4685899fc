package services

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	kafkautils "github.com/nimeshabuddhika/resilient-card-settlement/pkg/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubProducer struct {
	messages []*kafka.Message
	ackErr   error
}

func (s *stubProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	s.messages = append(s.messages, msg)
	report := *msg
	report.TopicPartition.Error = s.ackErr
	deliveryChan <- &report
	return nil
}

type stubAcker struct{ acked []*kafka.Message }

func (s *stubAcker) Ack(msg *kafka.Message) error {
	s.acked = append(s.acked, msg)
	return nil
}

func newTestTransport(producer *stubProducer, acker *stubAcker) *deliveryTransport {
	return &deliveryTransport{
		commits:     acker,
		producer:    producer,
		retryTopic:  "transfers-retry",
		dlqTopic:    "transfers-dlq",
		baseBackoff: time.Second,
		maxBackoff:  time.Minute,
		now:         func() time.Time { return fixedNow },
	}
}

func consumed(value string, headers ...kafka.Header) *kafka.Message {
	topic := "transfers"
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 2, Offset: 41},
		Key:            []byte(cardA),
		Value:          []byte(value),
		Headers:        headers,
	}
}

func TestKafkaDelivery_DeliveryCountDefaultsToOne(t *testing.T) {
	transport := newTestTransport(&stubProducer{}, &stubAcker{})

	assert.Equal(t, 1, transport.wrap(consumed("{}")).DeliveryCount())
	assert.Equal(t, 1, transport.wrap(consumed("{}", kafka.Header{Key: pkg.KafkaHeaderDeliveryCount, Value: []byte("0")})).DeliveryCount())
	assert.Equal(t, 4, transport.wrap(consumed("{}", kafka.Header{Key: pkg.KafkaHeaderDeliveryCount, Value: []byte("4")})).DeliveryCount())
}

func TestKafkaDelivery_AbandonRequeuesWithBackoff(t *testing.T) {
	// Arrange
	producer := &stubProducer{}
	acker := &stubAcker{}
	msg := consumed(`{"id":"req-1"}`, kafka.Header{Key: pkg.KafkaHeaderDeliveryCount, Value: []byte("3")})
	d := newTestTransport(producer, acker).wrap(msg)

	// Act
	require.NoError(t, d.Abandon(context.Background()))

	// Assert
	require.Len(t, producer.messages, 1)
	retry := producer.messages[0]
	assert.Equal(t, "transfers-retry", *retry.TopicPartition.Topic)
	assert.Equal(t, msg.Key, retry.Key)
	assert.Equal(t, msg.Value, retry.Value)
	count, _ := kafkautils.HeaderValue(retry.Headers, pkg.KafkaHeaderDeliveryCount)
	assert.Equal(t, "4", count)

	notBefore, ok := kafkautils.HeaderValue(retry.Headers, pkg.KafkaHeaderNotBefore)
	require.True(t, ok)
	ms, err := strconv.ParseInt(notBefore, 10, 64)
	require.NoError(t, err)
	delay := time.UnixMilli(ms).Sub(fixedNow)
	// Third attempt is 4s +/- 12.5%.
	assert.GreaterOrEqual(t, delay, 3500*time.Millisecond)
	assert.LessOrEqual(t, delay, 4500*time.Millisecond)

	assert.Equal(t, []*kafka.Message{msg}, acker.acked)
}

func TestKafkaDelivery_DeadLetterWritesRecord(t *testing.T) {
	producer := &stubProducer{}
	acker := &stubAcker{}
	msg := consumed("not json", kafka.Header{Key: pkg.KafkaHeaderDeliveryCount, Value: []byte("10")})
	d := newTestTransport(producer, acker).wrap(msg)

	require.NoError(t, d.DeadLetter(context.Background(), pkg.DeadLetterMaxRetries, "failed after 10 attempts: boom"))

	require.Len(t, producer.messages, 1)
	dlq := producer.messages[0]
	assert.Equal(t, "transfers-dlq", *dlq.TopicPartition.Topic)
	reason, _ := kafkautils.HeaderValue(dlq.Headers, pkg.KafkaHeaderDLQReason)
	assert.Equal(t, pkg.DeadLetterMaxRetries, reason)

	var record deadLetterRecord
	require.NoError(t, json.Unmarshal(dlq.Value, &record))
	assert.Equal(t, "not json", record.Message)
	assert.Equal(t, pkg.DeadLetterMaxRetries, record.FailureReason)
	assert.Equal(t, "failed after 10 attempts: boom", record.Description)
	assert.Equal(t, 10, record.DeliveryCount)
	assert.Equal(t, "transfers", record.OriginalTopic)
	assert.Equal(t, int32(2), record.Partition)
	assert.Equal(t, int64(41), record.Offset)
	assert.True(t, fixedNow.Equal(record.FailedAt))
	assert.Len(t, acker.acked, 1)
}

func TestKafkaDelivery_ProduceFailureDoesNotCommit(t *testing.T) {
	producer := &stubProducer{ackErr: errors.New("queue full")}
	acker := &stubAcker{}
	d := newTestTransport(producer, acker).wrap(consumed("{}"))

	err := d.DeadLetter(context.Background(), pkg.DeadLetterValidation, "bad")

	assert.ErrorContains(t, err, "queue full")
	assert.Empty(t, acker.acked)
}

func TestKafkaDelivery_NotBefore(t *testing.T) {
	transport := newTestTransport(&stubProducer{}, &stubAcker{})
	at := fixedNow.Add(30 * time.Second)

	_, ok := transport.wrap(consumed("{}")).NotBefore()
	assert.False(t, ok)

	nb, ok := transport.wrap(consumed("{}", kafka.Header{Key: pkg.KafkaHeaderNotBefore, Value: []byte(strconv.FormatInt(at.UnixMilli(), 10))})).NotBefore()
	assert.True(t, ok)
	assert.True(t, at.Equal(nb))
}

// flakyProducer fails the first failures produce calls.
type flakyProducer struct {
	stubProducer
	failures int
	attempts int
}

func (f *flakyProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	f.attempts++
	if f.failures > 0 {
		f.failures--
		return errors.New("local queue full")
	}
	return f.stubProducer.Produce(msg, deliveryChan)
}

func TestRedrive_RequeuesUntilAcked(t *testing.T) {
	// Arrange: the pipeline already failed both the DLQ write and the retry write.
	producer := &flakyProducer{failures: 2}
	acker := &stubAcker{}
	transport := newTestTransport(nil, acker)
	transport.producer = producer
	transport.baseBackoff = time.Millisecond
	transport.maxBackoff = 5 * time.Millisecond
	d := transport.wrap(consumed(`{"id":"req-1"}`))
	require.False(t, d.Acked())

	// Act
	err := transport.redrive(context.Background(), zap.NewNop(), d)

	// Assert
	require.NoError(t, err)
	assert.True(t, d.Acked())
	assert.Equal(t, 3, producer.attempts)
	require.Len(t, producer.messages, 1)
	assert.Equal(t, "transfers-retry", *producer.messages[0].TopicPartition.Topic)
	assert.Len(t, acker.acked, 1)
}

func TestRedrive_StopsWhenContextEnds(t *testing.T) {
	producer := &flakyProducer{failures: 1 << 30}
	acker := &stubAcker{}
	transport := newTestTransport(nil, acker)
	transport.producer = producer
	transport.baseBackoff = time.Millisecond
	transport.maxBackoff = 2 * time.Millisecond
	d := transport.wrap(consumed(`{"id":"req-1"}`))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := transport.redrive(ctx, zap.NewNop(), d)

	assert.Error(t, err)
	assert.False(t, d.Acked())
	assert.Empty(t, acker.acked)
}

func TestRedrive_SkipsAlreadyAckedDelivery(t *testing.T) {
	producer := &flakyProducer{}
	acker := &stubAcker{}
	transport := newTestTransport(nil, acker)
	transport.producer = producer
	d := transport.wrap(consumed("{}"))
	require.NoError(t, d.Complete(context.Background()))

	require.NoError(t, transport.redrive(context.Background(), zap.NewNop(), d))

	assert.Zero(t, producer.attempts)
	assert.Len(t, acker.acked, 1)
}
