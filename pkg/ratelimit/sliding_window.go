package ratelimit

import (
	"strings"
	"sync"
	"time"
)

const (
	DefaultCapacity = 100
	DefaultWindow   = time.Minute
)

// window holds the admission timestamps of one identifier, oldest first.
type window struct {
	mu       sync.Mutex
	requests []time.Time
	retired  bool // set by Cleanup once the window leaves the index
}

// evict drops timestamps strictly older than cutoff. Caller holds w.mu.
func (w *window) evict(cutoff time.Time) {
	i := 0
	for i < len(w.requests) && w.requests[i].Before(cutoff) {
		i++
	}
	if i == len(w.requests) {
		w.requests = nil
		return
	}
	w.requests = w.requests[i:]
}

// SlidingWindowLimiter admits at most capacity requests per identifier in any
// trailing window. Each identifier has its own lock.
type SlidingWindowLimiter struct {
	capacity int
	window   time.Duration
	now      func() time.Time
	windows  sync.Map // string -> *window
}

type Option func(*SlidingWindowLimiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *SlidingWindowLimiter) { l.now = now }
}

// New builds a limiter. Non-positive values fall back to 100 requests per minute.
func New(capacity int, windowSize time.Duration, opts ...Option) *SlidingWindowLimiter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if windowSize <= 0 {
		windowSize = DefaultWindow
	}
	l := &SlidingWindowLimiter{capacity: capacity, window: windowSize, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *SlidingWindowLimiter) Capacity() int { return l.capacity }

func (l *SlidingWindowLimiter) Window() time.Duration { return l.window }

// acquire returns the live window for identifier with its lock held.
func (l *SlidingWindowLimiter) acquire(identifier string, create bool) *window {
	for {
		var w *window
		if create {
			v, _ := l.windows.LoadOrStore(identifier, &window{})
			w = v.(*window)
		} else {
			v, ok := l.windows.Load(identifier)
			if !ok {
				return nil
			}
			w = v.(*window)
		}
		w.mu.Lock()
		if !w.retired {
			return w
		}
		// Cleanup removed this window between Load and Lock.
		w.mu.Unlock()
	}
}

// Allow records a request for identifier and reports whether it was admitted.
func (l *SlidingWindowLimiter) Allow(identifier string) bool {
	if strings.TrimSpace(identifier) == "" {
		return false
	}
	w := l.acquire(identifier, true)
	defer w.mu.Unlock()

	now := l.now()
	w.evict(now.Add(-l.window))
	if len(w.requests) >= l.capacity {
		return false
	}
	w.requests = append(w.requests, now)
	return true
}

// RequestCount returns how many requests are inside the current window.
func (l *SlidingWindowLimiter) RequestCount(identifier string) int {
	w := l.acquire(identifier, false)
	if w == nil {
		return 0
	}
	defer w.mu.Unlock()

	w.evict(l.now().Add(-l.window))
	return len(w.requests)
}

// Remaining returns how many more requests identifier may make right now.
func (l *SlidingWindowLimiter) Remaining(identifier string) int {
	remaining := l.capacity - l.RequestCount(identifier)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TimeUntilReset returns when the oldest request in the window expires.
// ok is false when identifier has no requests in the window.
func (l *SlidingWindowLimiter) TimeUntilReset(identifier string) (time.Duration, bool) {
	w := l.acquire(identifier, false)
	if w == nil {
		return 0, false
	}
	defer w.mu.Unlock()

	now := l.now()
	w.evict(now.Add(-l.window))
	if len(w.requests) == 0 {
		return 0, false
	}
	reset := w.requests[0].Add(l.window).Sub(now)
	if reset < 0 {
		reset = 0
	}
	return reset, true
}

// Cleanup removes identifiers whose window has emptied and returns how many were removed.
func (l *SlidingWindowLimiter) Cleanup() int {
	removed := 0
	cutoff := l.now().Add(-l.window)
	l.windows.Range(func(key, value any) bool {
		w := value.(*window)
		w.mu.Lock()
		w.evict(cutoff)
		if len(w.requests) == 0 && !w.retired {
			w.retired = true
			l.windows.CompareAndDelete(key, w)
			removed++
		}
		w.mu.Unlock()
		return true
	})
	return removed
}

// Tracked returns the number of identifiers currently held in memory.
func (l *SlidingWindowLimiter) Tracked() int {
	n := 0
	l.windows.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
