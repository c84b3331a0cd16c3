package fetcher

import (
	"context"
	"sync"
	"time"
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RateLimiter admits at most max acquisitions per sliding window.
type RateLimiter struct {
	max   int
	per   time.Duration
	now   func() time.Time
	sleep SleepFunc

	mu     sync.Mutex
	stamps []time.Time
}

// LimiterOption customises a RateLimiter.
type LimiterOption func(*RateLimiter)

// WithClock overrides the limiter clock.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *RateLimiter) { l.now = now }
}

// WithSleep overrides how the limiter waits.
func WithSleep(sleep SleepFunc) LimiterOption {
	return func(l *RateLimiter) { l.sleep = sleep }
}

// NewRateLimiter constructs a sliding-window limiter. Non-positive inputs disable limiting.
func NewRateLimiter(max int, per time.Duration, opts ...LimiterOption) *RateLimiter {
	l := &RateLimiter{
		max:   max,
		per:   per,
		now:   time.Now,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until a slot is free in the trailing window and reserves it.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	if l == nil || l.max <= 0 || l.per <= 0 {
		return nil
	}

	for {
		wait, ok := l.reserve()
		if ok {
			return nil
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// reserve never holds the mutex while the caller sleeps.
func (l *RateLimiter) reserve() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := l.stamps[:0]
	for _, ts := range l.stamps {
		if now.Sub(ts) < l.per {
			kept = append(kept, ts)
		}
	}
	l.stamps = kept

	if len(l.stamps) < l.max {
		l.stamps = append(l.stamps, now)
		return 0, true
	}

	wait := l.per - now.Sub(l.stamps[0])
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
