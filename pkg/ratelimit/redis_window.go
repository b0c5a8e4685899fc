package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// slidingWindowScript trims, counts and records atomically so replicas share one window.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. (now - window))
if redis.call('ZCARD', key) >= capacity then
  return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisWindowConfig configures the fleet-wide limiter.
type RedisWindowConfig struct {
	KeyPrefix string        // e.g. "ratelimit:transfers:"
	Capacity  int           // requests per window per identifier
	Window    time.Duration // sliding window length
	// ReplicaRate caps how many checks per second this replica forwards to Redis. Zero disables it.
	ReplicaRate  float64
	ReplicaBurst int
}

// RedisWindowLimiter enforces a sliding window shared by every replica.
// A local token bucket sits in front of Redis. Redis failures fail open.
type RedisWindowLimiter struct {
	client redis.Scripter
	local  *rate.Limiter
	cfg    RedisWindowConfig
	now    func() time.Time
	logger *zap.Logger
}

func NewRedisWindowLimiter(client redis.Scripter, logger *zap.Logger, cfg RedisWindowConfig) *RedisWindowLimiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	var local *rate.Limiter
	if cfg.ReplicaRate > 0 {
		burst := cfg.ReplicaBurst
		if burst <= 0 {
			burst = int(cfg.ReplicaRate)
		}
		local = rate.NewLimiter(rate.Limit(cfg.ReplicaRate), max(burst, 1))
	}
	return &RedisWindowLimiter{client: client, local: local, cfg: cfg, now: time.Now, logger: logger}
}

// Allow records the request in the shared window and reports whether it was admitted.
func (r *RedisWindowLimiter) Allow(ctx context.Context, identifier string) bool {
	if identifier == "" {
		return false
	}
	if r.local != nil && !r.local.Allow() {
		r.logger.Warn("replica_rate_limit_exceeded", zap.String("identifier", MaskIdentifier(identifier)))
		return false
	}

	nowMs := r.now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, r.client,
		[]string{r.cfg.KeyPrefix + identifier},
		nowMs, r.cfg.Window.Milliseconds(), r.cfg.Capacity, uuid.NewString(),
	).Int()
	if err != nil {
		r.logger.Error("redis_rate_limit_error_failing_open", zap.String("identifier", MaskIdentifier(identifier)), zap.Error(err))
		return true
	}
	return res == 1
}
