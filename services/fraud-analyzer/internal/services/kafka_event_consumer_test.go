package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type flakyAnalyzer struct {
	failures int32
	calls    atomic.Int32
	last     models.TransactionSettledData
}

func (a *flakyAnalyzer) Analyze(_ context.Context, event models.TransactionSettledData) (models.RiskAssessment, bool, error) {
	n := a.calls.Add(1)
	a.last = event
	if n <= a.failures {
		return models.RiskAssessment{}, false, errors.New("store unavailable")
	}
	return models.RiskAssessment{}, false, nil
}

func eventMessage(t *testing.T, eventType string, payload any) *kafka.Message {
	t.Helper()
	envelope, err := models.NewEventEnvelope(eventType, pkg.EventSource, "transactions/tx-1", payload, time.Now())
	require.NoError(t, err)
	body, err := json.Marshal(envelope)
	require.NoError(t, err)
	return &kafka.Message{
		Value:   body,
		Headers: []kafka.Header{{Key: pkg.KafkaHeaderEventType, Value: []byte(eventType)}},
	}
}

func TestHandleEvent_AnalyzesSettledEvent(t *testing.T) {
	analyzer := &flakyAnalyzer{}
	msg := eventMessage(t, pkg.EventTransactionSettled, settled("tx-1", "15000", 3))

	err := handleEvent(context.Background(), zap.NewNop(), analyzer, msg, time.Second)

	require.NoError(t, err)
	assert.Equal(t, int32(1), analyzer.calls.Load())
	assert.Equal(t, "tx-1", analyzer.last.TransactionID)
	assert.Equal(t, "15000", analyzer.last.Amount.String())
}

func TestHandleEvent_SkipsOtherEventTypes(t *testing.T) {
	analyzer := &flakyAnalyzer{}
	msg := eventMessage(t, pkg.EventTransactionFailed, models.TransactionFailedData{TransactionID: "tx-1"})

	err := handleEvent(context.Background(), zap.NewNop(), analyzer, msg, time.Second)

	require.NoError(t, err)
	assert.Zero(t, analyzer.calls.Load())
}

func TestHandleEvent_SkipsUndecodableBody(t *testing.T) {
	analyzer := &flakyAnalyzer{}
	msg := &kafka.Message{Value: []byte("{not json")}

	err := handleEvent(context.Background(), zap.NewNop(), analyzer, msg, time.Second)

	require.NoError(t, err)
	assert.Zero(t, analyzer.calls.Load())
}

func TestHandleEvent_RetriesTransientFailures(t *testing.T) {
	analyzer := &flakyAnalyzer{failures: 2}
	msg := eventMessage(t, pkg.EventTransactionSettled, settled("tx-1", "500", 12))

	err := handleEvent(context.Background(), zap.NewNop(), analyzer, msg, 10*time.Second)

	require.NoError(t, err)
	assert.Equal(t, int32(3), analyzer.calls.Load())
}

func TestHandleEvent_StopsWhenContextCancelled(t *testing.T) {
	analyzer := &flakyAnalyzer{failures: 1000}
	msg := eventMessage(t, pkg.EventTransactionSettled, settled("tx-1", "500", 12))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := handleEvent(ctx, zap.NewNop(), analyzer, msg, time.Minute)

	require.Error(t, err)
	assert.LessOrEqual(t, analyzer.calls.Load(), int32(1))
}
