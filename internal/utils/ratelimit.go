package utils

import (
	"context"
	"sync"
	"time"
)

// IntervalLimiter enforces a minimum spacing between successive operations.
// The batch pipeline uses it to throttle analysis concurrency groups so the
// provider is not hit with back-to-back bursts.
type IntervalLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// NewIntervalLimiter creates a limiter with the given minimum spacing.
// A zero or negative interval disables throttling.
func NewIntervalLimiter(interval time.Duration) *IntervalLimiter {
	return &IntervalLimiter{interval: interval}
}

// Wait blocks until at least the configured interval has elapsed since the
// previous permitted operation, or until the context is cancelled.
func (l *IntervalLimiter) Wait(ctx context.Context) error {
	if l.interval <= 0 {
		return nil
	}

	l.mu.Lock()
	now := time.Now()
	var wait time.Duration
	if !l.last.IsZero() {
		if elapsed := now.Sub(l.last); elapsed < l.interval {
			wait = l.interval - elapsed
		}
	}
	l.last = now.Add(wait)
	l.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
