package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIdempotencyGuard_KeepsFirstRecord(t *testing.T) {
	ctx := context.Background()
	guard := NewMemoryIdempotencyGuard()

	_, settled, err := guard.Settled(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, settled)

	require.NoError(t, guard.MarkSettled(ctx, "req-1", SettledRecord{Fingerprint: "fp-1", TransactionID: "tx-1"}))
	require.NoError(t, guard.MarkSettled(ctx, "req-1", SettledRecord{Fingerprint: "fp-2", TransactionID: "tx-2"}))

	record, settled, err := guard.Settled(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, settled)
	assert.Equal(t, SettledRecord{Fingerprint: "fp-1", TransactionID: "tx-1"}, record)
	txID, ok := guard.TransactionID("req-1")
	assert.True(t, ok)
	assert.Equal(t, "tx-1", txID)
}
