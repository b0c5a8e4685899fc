package middleware

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/ratelimit"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/utils"
	"go.uber.org/zap"
)

const (
	defaultRateLimitMessage = "Too many requests. Please try again later."
	apiKeyPrefixLength      = 8
)

// GlobalLimiter is a limiter shared across replicas, e.g. ratelimit.RedisWindowLimiter.
type GlobalLimiter interface {
	Allow(ctx context.Context, identifier string) bool
}

type RateLimitConfig struct {
	Logger  *zap.Logger
	Limiter *ratelimit.SlidingWindowLimiter
	Global  GlobalLimiter // optional
	Message string
}

type rateLimitBody struct {
	Code           string  `json:"code"`
	Error          string  `json:"error"`
	Message        string  `json:"message"`
	Limit          int     `json:"limit"`
	WindowDuration float64 `json:"windowDuration"`
	RetryAfter     float64 `json:"retryAfter"`
}

// RateLimit admits requests through the per-replica sliding window and the optional global limiter.
// A request only takes a local slot once the global limiter has admitted it.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	message := cfg.Message
	if utils.IsEmpty(message) {
		message = defaultRateLimitMessage
	}
	limiter := cfg.Limiter
	limit := strconv.Itoa(limiter.Capacity())

	return func(c *gin.Context) {
		identifier := ClientIdentifier(c)

		scope := ""
		switch {
		case limiter.Remaining(identifier) == 0:
			scope = "local"
		case cfg.Global != nil && !cfg.Global.Allow(c.Request.Context(), identifier):
			scope = "global"
		case !limiter.Allow(identifier):
			scope = "local"
		}

		if scope != "" {
			reset, ok := limiter.TimeUntilReset(identifier)
			if !ok {
				reset = limiter.Window()
			}
			retryAfter := strconv.Itoa(utils.CeilSeconds(reset))
			RateLimited.WithLabelValues(scope).Inc()
			appErr := pkg.NewAppError(pkg.ErrRateLimitedCode, message, pkg.ErrRateLimitExceeded)
			cfg.Logger.Warn("rate_limit_exceeded",
				zap.String("identifier", ratelimit.MaskIdentifier(identifier)),
				zap.String("scope", scope),
				zap.Int("request_count", limiter.RequestCount(identifier)),
				zap.Int("limit", limiter.Capacity()),
				zap.Duration("reset_in", reset),
				zap.String(pkg.TraceId, c.GetString(pkg.TraceId)),
				zap.Error(appErr))

			c.Header("X-RateLimit-Limit", limit)
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("X-RateLimit-Reset", retryAfter)
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(pkg.ErrRateLimitedCode.Status, rateLimitBody{
				Code:           pkg.ErrRateLimitedCode.Code,
				Error:          "Rate limit exceeded",
				Message:        message,
				Limit:          limiter.Capacity(),
				WindowDuration: limiter.Window().Seconds(),
				RetryAfter:     reset.Seconds(),
			})
			return
		}

		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(identifier)))
		if reset, ok := limiter.TimeUntilReset(identifier); ok {
			c.Header("X-RateLimit-Reset", strconv.Itoa(utils.CeilSeconds(reset)))
		}
		c.Next()
	}
}

// ClientIdentifier derives the limiter key: an API key prefix when present, otherwise the client IP.
func ClientIdentifier(c *gin.Context) string {
	key := c.Query("code")
	if utils.IsEmpty(strings.TrimSpace(key)) {
		key = c.GetHeader(pkg.HeaderApiKey)
	}
	if key = strings.TrimSpace(key); !utils.IsEmpty(key) {
		if len(key) > apiKeyPrefixLength {
			key = key[:apiKeyPrefixLength]
		}
		return "key:" + key
	}

	if fwd := c.GetHeader("X-Forwarded-For"); !utils.IsEmpty(fwd) {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); !utils.IsEmpty(first) {
			return "ip:" + first
		}
	}
	if realIP := strings.TrimSpace(c.GetHeader("X-Real-IP")); !utils.IsEmpty(realIP) {
		return "ip:" + realIP
	}
	if ip := c.ClientIP(); !utils.IsEmpty(ip) {
		return "ip:" + ip
	}
	return "unknown"
}

// StartRateLimitCleanup sweeps idle windows on every tick until the returned stop func is called.
func StartRateLimitCleanup(logger *zap.Logger, limiter *ratelimit.SlidingWindowLimiter, interval time.Duration) func() {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if removed := limiter.Cleanup(); removed > 0 {
					logger.Debug("rate_limit_windows_cleaned", zap.Int("removed", removed), zap.Int("tracked", limiter.Tracked()))
				}
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
		<-stopped
	}
}
