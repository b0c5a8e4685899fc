package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	kafkautils "github.com/nimeshabuddhika/resilient-card-settlement/pkg/kafka"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/utils"
	"go.uber.org/zap"
)

const transportProduceTimeout = 10 * time.Second

type offsetAcker interface {
	Ack(msg *kafka.Message) error
}

// deliveryTransport holds what every Kafka delivery shares: the committer and the retry/DLQ producer.
type deliveryTransport struct {
	commits     offsetAcker
	producer    kafkautils.Producer
	retryTopic  string
	dlqTopic    string
	baseBackoff time.Duration
	maxBackoff  time.Duration
	now         func() time.Time
}

func (t *deliveryTransport) wrap(msg *kafka.Message) *kafkaDelivery {
	return &kafkaDelivery{msg: msg, t: t}
}

// kafkaDelivery adapts one consumed message to Delivery.
type kafkaDelivery struct {
	msg   *kafka.Message
	t     *deliveryTransport
	acked atomic.Bool
}

type deadLetterRecord struct {
	Message       string    `json:"message"`
	FailureReason string    `json:"failureReason"`
	Description   string    `json:"description"`
	DeliveryCount int       `json:"deliveryCount"`
	OriginalTopic string    `json:"originalTopic"`
	Partition     int32     `json:"partition"`
	Offset        int64     `json:"offset"`
	FailedAt      time.Time `json:"failedAt"`
}

func (d *kafkaDelivery) Body() []byte { return d.msg.Value }

func (d *kafkaDelivery) DeliveryCount() int {
	n := kafkautils.HeaderInt(d.msg.Headers, pkg.KafkaHeaderDeliveryCount, 1)
	if n < 1 {
		return 1
	}
	return int(n)
}

// NotBefore is the earliest time a retried message may be handled.
func (d *kafkaDelivery) NotBefore() (time.Time, bool) {
	ms := kafkautils.HeaderInt(d.msg.Headers, pkg.KafkaHeaderNotBefore, 0)
	if ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (d *kafkaDelivery) Complete(_ context.Context) error {
	return d.ack()
}

// ack hands the offset to the commit manager. A commit error still counts as acked:
// the offset is committed with the next one on the partition.
func (d *kafkaDelivery) ack() error {
	d.acked.Store(true)
	return d.t.commits.Ack(d.msg)
}

// Acked reports whether the delivery reached a final transport action.
func (d *kafkaDelivery) Acked() bool { return d.acked.Load() }

// Abandon re-enqueues the message on the retry topic with a backoff, then commits the original.
func (d *kafkaDelivery) Abandon(ctx context.Context) error {
	count := d.DeliveryCount()
	delay := utils.CalculateExponentialBackoffWithJitter(count, d.t.baseBackoff, d.t.maxBackoff)
	notBefore := d.t.now().Add(delay)

	headers := kafkautils.SetHeader(d.msg.Headers, pkg.KafkaHeaderDeliveryCount, strconv.Itoa(count+1))
	headers = kafkautils.SetHeader(headers, pkg.KafkaHeaderNotBefore, strconv.FormatInt(notBefore.UnixMilli(), 10))

	if err := d.produce(ctx, d.t.retryTopic, d.msg.Value, headers); err != nil {
		return fmt.Errorf("produce to retry topic: %w", err)
	}
	return d.ack()
}

// DeadLetter writes the message and failure context to the DLQ, then commits the original.
func (d *kafkaDelivery) DeadLetter(ctx context.Context, reason, description string) error {
	var topic string
	if d.msg.TopicPartition.Topic != nil {
		topic = *d.msg.TopicPartition.Topic
	}
	record, err := json.Marshal(deadLetterRecord{
		Message:       string(d.msg.Value),
		FailureReason: reason,
		Description:   description,
		DeliveryCount: d.DeliveryCount(),
		OriginalTopic: topic,
		Partition:     d.msg.TopicPartition.Partition,
		Offset:        int64(d.msg.TopicPartition.Offset),
		FailedAt:      d.t.now().UTC(),
	})
	if err != nil {
		return err
	}

	headers := kafkautils.SetHeader(d.msg.Headers, pkg.KafkaHeaderDLQReason, reason)
	if err := d.produce(ctx, d.t.dlqTopic, record, headers); err != nil {
		return fmt.Errorf("produce to dlq: %w", err)
	}
	return d.ack()
}

// redrive re-enqueues a delivery the pipeline could neither complete, abandon nor dead-letter.
// Until it is acked, every later offset on its partition stays uncommitted, so Abandon is
// retried with backoff until it succeeds or ctx ends.
func (t *deliveryTransport) redrive(ctx context.Context, logger *zap.Logger, d *kafkaDelivery) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.baseBackoff
	b.MaxInterval = t.maxBackoff
	b.MaxElapsedTime = 0
	op := func() error {
		if d.Acked() {
			return nil
		}
		return d.Abandon(ctx)
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("delivery_redrive_retry",
			zap.Int32("partition", d.msg.TopicPartition.Partition),
			zap.Int64("offset", int64(d.msg.TopicPartition.Offset)),
			zap.Duration("backoff", next),
			zap.Error(err))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil && !d.Acked() {
		logger.Error("commit_head_stalled",
			zap.Int32("partition", d.msg.TopicPartition.Partition),
			zap.Int64("offset", int64(d.msg.TopicPartition.Offset)),
			zap.Error(err))
		return err
	}
	return nil
}

func (d *kafkaDelivery) produce(ctx context.Context, topic string, value []byte, headers []kafka.Header) error {
	ctx, cancel := context.WithTimeout(ctx, transportProduceTimeout)
	defer cancel()
	return kafkautils.ProduceSync(ctx, d.t.producer, &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            d.msg.Key,
		Value:          value,
		Headers:        headers,
	})
}
