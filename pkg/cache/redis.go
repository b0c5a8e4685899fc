package cache

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds the Redis options shared by the idempotency guard and the fleet rate limiter.
type Config struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	UseTLS       bool
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
}

func (c Config) options() *redis.Options {
	opts := &redis.Options{
		Addr:            c.Addr,
		Username:        c.Username,
		Password:        c.Password,
		DB:              c.DB,
		DialTimeout:     orDuration(c.DialTimeout, 3*time.Second),
		ReadTimeout:     orDuration(c.ReadTimeout, 500*time.Millisecond),
		WriteTimeout:    orDuration(c.WriteTimeout, 500*time.Millisecond),
		PoolSize:        orInt(c.PoolSize, 10),
		MinIdleConns:    orInt(c.MinIdleConns, 2),
		MaxRetries:      orInt(c.MaxRetries, 2),
		MinRetryBackoff: 50 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	}
	if c.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// New returns a connected client and its closer. Connectivity is verified with PING.
func New(ctx context.Context, logger *zap.Logger, cfg Config) (*redis.Client, func(), error) {
	client := redis.NewClient(cfg.options())

	pingCtx, cancel := context.WithTimeout(ctx, orDuration(cfg.DialTimeout, 3*time.Second))
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.Info("redis_connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))

	closer := func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis_close_failed", zap.Error(err))
		}
	}
	return client, closer, nil
}

func orDuration(v, d time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return d
}

func orInt(v, d int) int {
	if v > 0 {
		return v
	}
	return d
}
