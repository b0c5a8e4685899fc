//go:build integration

package services

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis test container")
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	endpoint, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisIdempotencyGuard_SetNX(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	guard := NewRedisIdempotencyGuard(client, time.Hour)

	_, settled, err := guard.Settled(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, settled)

	require.NoError(t, guard.MarkSettled(ctx, "req-1", SettledRecord{Fingerprint: "fp1", TransactionID: "tx-1"}))
	require.NoError(t, guard.MarkSettled(ctx, "req-1", SettledRecord{Fingerprint: "fp2", TransactionID: "tx-2"}))

	record, settled, err := guard.Settled(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, settled)
	assert.Equal(t, SettledRecord{Fingerprint: "fp1", TransactionID: "tx-1"}, record)
	assert.Equal(t, "fp1:tx-1", client.Get(ctx, settledKeyPrefix+"req-1").Val())
	assert.Greater(t, client.TTL(ctx, settledKeyPrefix+"req-1").Val(), 59*time.Minute)
}
