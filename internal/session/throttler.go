package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Throttler admits at most RateLimit request starts within any trailing Period.
type Throttler struct {
	mu     sync.Mutex
	period time.Duration
	// times is a ring of the most recent admissions; head is the oldest.
	times []time.Time
	head  int

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
	// After returns a channel that fires after d. Defaults to time.After.
	After func(d time.Duration) <-chan time.Time
}

// NewThrottler creates a sliding-window throttler.
func NewThrottler(rateLimit int, period time.Duration) (*Throttler, error) {
	if rateLimit <= 0 {
		return nil, fmt.Errorf("%w: rate limit must be positive, got %d", ErrInvalidConfiguration, rateLimit)
	}
	if period <= 0 {
		return nil, fmt.Errorf("%w: period must be positive, got %s", ErrInvalidConfiguration, period)
	}

	return &Throttler{
		period: period,
		times:  make([]time.Time, rateLimit),
	}, nil
}

// RateLimit returns the number of admissions allowed per period.
func (t *Throttler) RateLimit() int {
	return len(t.times)
}

// Period returns the window length.
func (t *Throttler) Period() time.Duration {
	return t.period
}

// Acquire blocks until a new request may start, then records its start time.
// A cancelled wait returns ctx.Err() and leaves the window unchanged.
func (t *Throttler) Acquire(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		wait, ok := t.tryAdmit()
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.after(wait):
		}
	}
}

// Wait reports how long Acquire would currently block.
func (t *Throttler) Wait() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := t.now().Sub(t.times[t.head].Add(t.period))
	if elapsed >= 0 {
		return 0
	}
	return -elapsed
}

func (t *Throttler) tryAdmit() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	// The oldest slot expires once a full period has passed since it started.
	elapsed := now.Sub(t.times[t.head].Add(t.period))
	if elapsed >= 0 {
		t.times[t.head] = now
		t.head = (t.head + 1) % len(t.times)
		return 0, true
	}
	return -elapsed, false
}

func (t *Throttler) now() time.Time {
	if t.Clock != nil {
		return t.Clock()
	}
	return time.Now()
}

func (t *Throttler) after(d time.Duration) <-chan time.Time {
	if t.After != nil {
		return t.After(d)
	}
	return time.After(d)
}
