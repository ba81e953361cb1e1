package session

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"
)

const (
	// DefaultRetryTimes is the attempt budget used when RetryPolicy.Times is unset.
	DefaultRetryTimes = 5
	// DefaultBackoffSleep is the linear backoff step used when RetryPolicy.BackoffSleep is unset.
	DefaultBackoffSleep = 500 * time.Millisecond

	maxInitialSleep = time.Second
)

// RetryPolicy configures Retry.
type RetryPolicy struct {
	// Times is the maximum number of attempts.
	Times int
	// BackoffSleep is both the initial delay (capped at one second) and the
	// amount the delay grows after every attempt.
	BackoffSleep time.Duration
	// IsTransient classifies errors worth another attempt. Defaults to IsTransient.
	IsTransient func(error) bool
	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// DefaultRetryPolicy returns the policy used by sessions unless overridden.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Times:        DefaultRetryTimes,
		BackoffSleep: DefaultBackoffSleep,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Times <= 0 {
		p.Times = DefaultRetryTimes
	}
	if p.BackoffSleep < 0 {
		p.BackoffSleep = 0
	}
	if p.IsTransient == nil {
		p.IsTransient = IsTransient
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

// Retry runs op until it succeeds, fails with a non-transient error, or the
// attempt budget runs out. Non-transient errors come back as
// *UnknownSessionError without any sleep; exhaustion yields
// *ClientSessionError carrying the last transient error.
//
// The delay starts at min(1s, BackoffSleep) and grows by BackoffSleep after
// every attempt, whatever its outcome.
func Retry[T any](ctx context.Context, policy RetryPolicy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	policy = policy.withDefaults()

	sleep := min(maxInitialSleep, policy.BackoffSleep)
	var last error

	for attempt := 0; attempt < policy.Times; attempt++ {
		result, err := op(ctx, attempt)
		if err == nil {
			return result, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return zero, err
		}
		if !policy.IsTransient(err) {
			var sessionErr SessionError
			if errors.As(err, &sessionErr) {
				return zero, err
			}
			return zero, &UnknownSessionError{Err: err}
		}

		last = err
		if attempt+1 < policy.Times {
			if policy.OnRetry != nil {
				policy.OnRetry(attempt, sleep, err)
			}
			if err := policy.Sleep(ctx, sleep); err != nil {
				return zero, err
			}
		}
		sleep += policy.BackoffSleep
	}

	return zero, &ClientSessionError{Attempts: policy.Times, Last: last}
}

// IsTransient reports whether err is a network-level failure worth retrying:
// connection resets and other socket errors, payload and content-type
// errors, and timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var payloadErr *PayloadError
	if errors.As(err, &payloadErr) {
		return true
	}
	var contentTypeErr *ContentTypeError
	if errors.As(err, &contentTypeErr) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
