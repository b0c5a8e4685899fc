package utils

import (
	"math"
	"math/rand"
	"time"
)

// CalculateExponentialBackoffWithJitter computes a jittered exponential backoff delay.
// - count: Retry attempt number (1-based, e.g., 1 for first retry)
// - base: Base delay (e.g., 2 * time.Second)
// - max: Maximum allowable delay (e.g., 5 * time.Minute)
func CalculateExponentialBackoffWithJitter(count int, base time.Duration, max time.Duration) time.Duration {
	if count <= 0 || base <= 0 {
		return 0
	}

	// Cap the exponent so the multiplication cannot overflow.
	exp := math.Min(float64(count-1), 30)
	baseDelay := time.Duration(float64(base) * math.Pow(2, exp))
	if baseDelay > max || baseDelay <= 0 {
		baseDelay = max
	}

	// -12.5% to +12.5%
	spread := int64(baseDelay / 4)
	var jitter time.Duration
	if spread > 0 {
		jitter = time.Duration(rand.Int63n(spread)) - baseDelay/8
	}
	delay := baseDelay + jitter

	if delay > max {
		delay = max
	}
	return delay
}
