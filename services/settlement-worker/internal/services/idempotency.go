package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SettledRecord is what the guard remembers about a request that moved money.
type SettledRecord struct {
	Fingerprint   string
	TransactionID string
}

// IdempotencyGuard remembers which requests already moved money, and which transfer they were.
type IdempotencyGuard interface {
	// Settled reports the record kept for requestID. ok is false when it never settled.
	Settled(ctx context.Context, requestID string) (record SettledRecord, ok bool, err error)
	MarkSettled(ctx context.Context, requestID string, record SettledRecord) error
}

const settledKeyPrefix = "settlement:settled:"

// RedisIdempotencyGuard stores "<fingerprint>:<transaction id>" per request id with SET NX and a TTL.
type RedisIdempotencyGuard struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisIdempotencyGuard(client redis.Cmdable, ttl time.Duration) *RedisIdempotencyGuard {
	return &RedisIdempotencyGuard{client: client, ttl: ttl}
}

func (g *RedisIdempotencyGuard) Settled(ctx context.Context, requestID string) (SettledRecord, bool, error) {
	v, err := g.client.Get(ctx, settledKeyPrefix+requestID).Result()
	if errors.Is(err, redis.Nil) {
		return SettledRecord{}, false, nil
	}
	if err != nil {
		return SettledRecord{}, false, err
	}
	fingerprint, txID, _ := strings.Cut(v, ":")
	return SettledRecord{Fingerprint: fingerprint, TransactionID: txID}, true, nil
}

// MarkSettled keeps the first record stored for a request.
func (g *RedisIdempotencyGuard) MarkSettled(ctx context.Context, requestID string, record SettledRecord) error {
	return g.client.SetNX(ctx, settledKeyPrefix+requestID, record.Fingerprint+":"+record.TransactionID, g.ttl).Err()
}

// MemoryIdempotencyGuard is an in-process guard for tests and single-replica runs.
type MemoryIdempotencyGuard struct {
	mu      sync.RWMutex
	settled map[string]SettledRecord
}

func NewMemoryIdempotencyGuard() *MemoryIdempotencyGuard {
	return &MemoryIdempotencyGuard{settled: make(map[string]SettledRecord)}
}

func (g *MemoryIdempotencyGuard) Settled(_ context.Context, requestID string) (SettledRecord, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.settled[requestID]
	return r, ok, nil
}

func (g *MemoryIdempotencyGuard) MarkSettled(_ context.Context, requestID string, record SettledRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.settled[requestID]; !ok {
		g.settled[requestID] = record
	}
	return nil
}

// TransactionID returns the transaction that settled requestID.
func (g *MemoryIdempotencyGuard) TransactionID(requestID string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.settled[requestID]
	return r.TransactionID, ok
}

type nopIdempotencyGuard struct{}

func (nopIdempotencyGuard) Settled(context.Context, string) (SettledRecord, bool, error) {
	return SettledRecord{}, false, nil
}
func (nopIdempotencyGuard) MarkSettled(context.Context, string, SettledRecord) error { return nil }
