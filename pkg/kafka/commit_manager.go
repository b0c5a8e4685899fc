package kafkautils

import (
	"sync"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// committer is the part of *kafka.Consumer the manager needs.
type committer interface {
	CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error)
}

type tp struct {
	topic     string
	partition int32
}

type partitionState struct {
	inflight []int64 // offsets in read order
	done     map[int64]struct{}
}

// defaultStallWarnAfter is how many finished offsets may queue behind an unfinished head
// before every further multiple is logged as commit_head_stalled.
const defaultStallWarnAfter = 100

// CommitManager commits offsets in order even though messages finish out of order.
// Every message must be Tracked when read and Acked when its outcome is final;
// only the contiguous acknowledged prefix of a partition is ever committed.
type CommitManager struct {
	mu             sync.Mutex
	partitions     map[tp]*partitionState
	consumer       committer
	log            *zap.Logger
	stallWarnAfter int
}

func NewCommitManager(c committer, l *zap.Logger) *CommitManager {
	return &CommitManager{
		partitions:     make(map[tp]*partitionState),
		consumer:       c,
		log:            l,
		stallWarnAfter: defaultStallWarnAfter,
	}
}

func keyOf(msg *kafka.Message) tp {
	var topic string
	if msg.TopicPartition.Topic != nil {
		topic = *msg.TopicPartition.Topic
	}
	return tp{topic: topic, partition: msg.TopicPartition.Partition}
}

// Track registers a message as in flight. Call it from the poll loop, in read order.
func (m *CommitManager) Track(msg *kafka.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyOf(msg)
	st := m.partitions[key]
	if st == nil {
		st = &partitionState{done: make(map[int64]struct{})}
		m.partitions[key] = st
	}
	st.inflight = append(st.inflight, int64(msg.TopicPartition.Offset))
}

// Ack marks a message finished and commits the next offset past the finished prefix.
func (m *CommitManager) Ack(msg *kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyOf(msg)
	off := int64(msg.TopicPartition.Offset)
	st := m.partitions[key]
	if st == nil {
		// Not tracked: commit it directly.
		return m.commit(key, off)
	}
	st.done[off] = struct{}{}

	last := int64(-1)
	for len(st.inflight) > 0 {
		head := st.inflight[0]
		if _, ok := st.done[head]; !ok {
			break
		}
		delete(st.done, head)
		st.inflight = st.inflight[1:]
		last = head
	}
	if last < 0 {
		m.log.Debug("offset_ack_pending",
			zap.String("topic", key.topic),
			zap.Int32("partition", key.partition),
			zap.Int64("offset", off))
		if waiting := len(st.done); m.stallWarnAfter > 0 && waiting%m.stallWarnAfter == 0 {
			m.log.Warn("commit_head_stalled",
				zap.String("topic", key.topic),
				zap.Int32("partition", key.partition),
				zap.Int64("head_offset", st.inflight[0]),
				zap.Int("acked_behind_head", waiting))
		}
		return nil
	}
	return m.commit(key, last)
}

// Pending reports how many tracked messages of a partition are not yet committed.
func (m *CommitManager) Pending(topic string, partition int32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.partitions[tp{topic: topic, partition: partition}]
	if st == nil {
		return 0
	}
	return len(st.inflight)
}

// Waiting reports how many acknowledged messages of a partition wait behind an unacknowledged head.
func (m *CommitManager) Waiting(topic string, partition int32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.partitions[tp{topic: topic, partition: partition}]
	if st == nil {
		return 0
	}
	return len(st.done)
}

func (m *CommitManager) commit(key tp, last int64) error {
	topic := key.topic
	toCommit := kafka.TopicPartition{Topic: &topic, Partition: key.partition, Offset: kafka.Offset(last + 1)}
	if _, err := m.consumer.CommitOffsets([]kafka.TopicPartition{toCommit}); err != nil {
		m.log.Error("offset_commit_failed",
			zap.String("topic", key.topic),
			zap.Int32("partition", key.partition),
			zap.Int64("attempted_offset", last+1), zap.Error(err))
		return err
	}
	m.log.Debug("offset_committed",
		zap.String("topic", key.topic),
		zap.Int32("partition", key.partition),
		zap.Int64("offset", last+1))
	return nil
}
