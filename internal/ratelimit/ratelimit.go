// Package ratelimit provides a keyed fixed-window attempt counter.
//
// Counters live in memory; an expired window is indistinguishable from a
// missing key and restarts the count at zero. Expiry is evaluated lazily by
// comparing the stored window start to the current time, never by timers.
package ratelimit

import (
	"sync"
	"time"
)

// counter tracks attempts within one fixed window
type counter struct {
	count       int
	windowStart time.Time
}

// Limiter answers "is this key allowed another attempt right now?".
// The increment-and-compare runs under a single lock acquisition, so
// concurrent attempts for the same key cannot lose updates and slip past
// the budget.
type Limiter struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
}

// NewLimiter creates a new Limiter
func NewLimiter() *Limiter {
	return &Limiter{
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

// Allow reports whether key may make another attempt within a budget of
// maxAttempts per window. An allowed call counts as an attempt.
func (l *Limiter) Allow(key string, maxAttempts int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	c, ok := l.counters[key]
	if !ok || now.Sub(c.windowStart) >= window {
		// Missing or expired: restart the window
		l.counters[key] = &counter{count: 1, windowStart: now}
		return true
	}

	if c.count >= maxAttempts {
		return false
	}

	c.count++
	return true
}

// Remaining returns the number of attempts left for key in its current
// window, capped at zero
func (l *Limiter) Remaining(key string, maxAttempts int, window time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok || l.now().Sub(c.windowStart) >= window {
		return maxAttempts
	}

	remaining := maxAttempts - c.count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RetryAfter returns how long until the current window for key elapses.
// Zero means the next attempt is already allowed.
func (l *Limiter) RetryAfter(key string, window time.Duration) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok {
		return 0
	}

	elapsed := l.now().Sub(c.windowStart)
	if elapsed >= window {
		return 0
	}
	return window - elapsed
}

// Prune drops counters whose window elapsed at least maxWindow ago.
// Callers invoke it opportunistically; the limiter runs no background
// goroutine of its own.
func (l *Limiter) Prune(maxWindow time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, c := range l.counters {
		if now.Sub(c.windowStart) >= maxWindow {
			delete(l.counters, key)
			removed++
		}
	}
	return removed
}
