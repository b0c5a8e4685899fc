package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	kafkautils "github.com/nimeshabuddhika/resilient-card-settlement/pkg/kafka"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/views"
	"go.uber.org/zap"
)

// KafkaTransferQueue produces transfer messages onto the transfers topic,
// keyed by the normalized source card so one card's transfers share a partition.
type KafkaTransferQueue struct {
	logger   *zap.Logger
	producer kafkautils.Producer
	topic    string
	timeout  time.Duration
}

func NewKafkaTransferQueue(logger *zap.Logger, producer kafkautils.Producer, topic string, timeout time.Duration) *KafkaTransferQueue {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &KafkaTransferQueue{logger: logger, producer: producer, topic: topic, timeout: timeout}
}

// Enqueue blocks until the broker acknowledges the message or the timeout passes.
func (q *KafkaTransferQueue) Enqueue(ctx context.Context, msg views.TransferMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	headers := []kafka.Header{{Key: pkg.KafkaHeaderDeliveryCount, Value: []byte("1")}}
	if msg.TraceID != "" {
		headers = append(headers, kafka.Header{Key: pkg.KafkaHeaderTraceId, Value: []byte(msg.TraceID)})
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	topic := q.topic
	err = kafkautils.ProduceSync(ctx, q.producer, &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(models.NormalizeCardNumber(msg.FromCardNumber)),
		Value:          body,
		Headers:        headers,
	})
	if err != nil {
		q.logger.Error("transfer_enqueue_failed",
			zap.String(pkg.TraceId, msg.TraceID),
			zap.String(pkg.RequestId, msg.ID),
			zap.Error(err))
		return err
	}
	return nil
}
