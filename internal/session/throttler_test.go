package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After advances the clock by d and fires immediately.
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func fakeThrottler(t *testing.T, rateLimit int, period time.Duration) (*Throttler, *fakeClock) {
	t.Helper()

	throttler, err := NewThrottler(rateLimit, period)
	require.NoError(t, err)

	clock := newFakeClock()
	throttler.Clock = clock.Now
	throttler.After = clock.After
	return throttler, clock
}

func TestNewThrottlerRejectsNonPositiveLimits(t *testing.T) {
	for _, tc := range []struct {
		name      string
		rateLimit int
		period    time.Duration
	}{
		{name: "ZeroRate", rateLimit: 0, period: time.Second},
		{name: "NegativeRate", rateLimit: -3, period: time.Second},
		{name: "ZeroPeriod", rateLimit: 3, period: 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			throttler, err := NewThrottler(tc.rateLimit, tc.period)
			require.ErrorIs(t, err, ErrInvalidConfiguration)
			require.Nil(t, throttler)
		})
	}
}

func TestThrottlerDelaysRequestBeyondRateLimit(t *testing.T) {
	throttler, clock := fakeThrottler(t, 3, time.Second)
	ctx := context.Background()

	var starts []time.Time
	for i := 0; i < 4; i++ {
		require.NoError(t, throttler.Acquire(ctx))
		starts = append(starts, clock.Now())
	}

	require.Equal(t, starts[0], starts[1])
	require.Equal(t, starts[0], starts[2])
	require.GreaterOrEqual(t, starts[3].Sub(starts[0]), time.Second)
}

func TestThrottlerDelaysRequestBeyondRateLimitRealClock(t *testing.T) {
	throttler, err := NewThrottler(3, 100*time.Millisecond)
	require.NoError(t, err)

	ctx := context.Background()
	first := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, throttler.Acquire(ctx))
	}
	require.Less(t, time.Since(first), 100*time.Millisecond)

	require.NoError(t, throttler.Acquire(ctx))
	require.GreaterOrEqual(t, time.Since(first), 100*time.Millisecond)
}

func TestThrottlerSlidingWindowNeverExceedsLimit(t *testing.T) {
	const (
		rateLimit = 3
		period    = 500 * time.Millisecond
	)
	throttler, clock := fakeThrottler(t, rateLimit, period)
	ctx := context.Background()

	var starts []time.Time
	for i := 0; i < 25; i++ {
		require.NoError(t, throttler.Acquire(ctx))
		starts = append(starts, clock.Now())
	}

	for i, start := range starts {
		inWindow := 0
		for _, other := range starts[i:] {
			if other.Sub(start) < period {
				inWindow++
			}
		}
		require.LessOrEqual(t, inWindow, rateLimit, "window starting at admission %d", i)
	}
}

func TestThrottlerConcurrentAcquire(t *testing.T) {
	throttler, err := NewThrottler(2, 50*time.Millisecond)
	require.NoError(t, err)

	ctx := context.Background()
	started := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, throttler.Acquire(ctx))
		}()
	}
	wg.Wait()

	// Six admissions at two per window need at least two full windows.
	require.GreaterOrEqual(t, time.Since(started), 100*time.Millisecond)
}

func TestThrottlerCancelledWaitLeavesWindowUntouched(t *testing.T) {
	throttler, err := NewThrottler(1, time.Hour)
	require.NoError(t, err)

	require.NoError(t, throttler.Acquire(context.Background()))
	before := throttler.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = throttler.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	after := throttler.Wait()
	require.Greater(t, after, 59*time.Minute)
	require.LessOrEqual(t, after, before)
}

func TestThrottlerAccessors(t *testing.T) {
	throttler, err := NewThrottler(5, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, 5, throttler.RateLimit())
	require.Equal(t, 2*time.Second, throttler.Period())
	require.Zero(t, throttler.Wait())
}
