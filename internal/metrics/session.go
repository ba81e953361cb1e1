package metrics

import (
	"strconv"
	"time"

	"github.com/ingestkit/ingestkit/internal/observability"
)

// Outbound session metrics. Target hosts are caller input, so they go to
// logs and never to labels.
const (
	SessionRequestsTotal        = "session_requests_total"
	SessionRequestDuration      = "session_request_duration_ms"
	SessionRetriesTotal         = "session_retries_total"
	SessionRetryExhaustedTotal  = "session_retry_exhausted_total"
	SessionThrottleWaitDuration = "session_throttle_wait_ms"
)

// RecordSessionRequest records one outbound attempt. status is 0 when no
// response was received.
func RecordSessionRequest(method string, status int, duration time.Duration, success bool) {
	if observability.TelemetrySystem == nil {
		return
	}

	_ = observability.TelemetrySystem.Counter(SessionRequestsTotal, 1, sessionRequestLabels(method, status, success))
	_ = observability.TelemetrySystem.Histogram(SessionRequestDuration, duration, map[string]string{
		"method": method,
	})
}

func sessionRequestLabels(method string, status int, success bool) map[string]string {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	return map[string]string{
		"method":       method,
		"status_class": statusClass(status),
		"outcome":      outcome,
	}
}

// statusClass folds a status code into 1xx..5xx, or "none" without a response.
func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "none"
	}
	return strconv.Itoa(status/100) + "xx"
}

// RecordRetry records a transient failure that will be retried.
func RecordRetry(reason string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			SessionRetriesTotal,
			1,
			map[string]string{"reason": reason},
		)
	}
}

// RecordRetryExhausted records a request that ran out of attempts.
func RecordRetryExhausted(method string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			SessionRetryExhaustedTotal,
			1,
			map[string]string{"method": method},
		)
	}
}

// RecordThrottleWait records time spent waiting for the throttle window.
func RecordThrottleWait(waited time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(
			SessionThrottleWaitDuration,
			waited,
			nil,
		)
	}
}
