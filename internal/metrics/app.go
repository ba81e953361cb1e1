package metrics

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ingestkit/ingestkit/internal/observability"
)

// Service-level metrics
const (
	OperationsTotal       = "app_operations_total"
	OperationsErrorsTotal = "app_operations_errors_total"

	ActiveConnections = "app_active_connections"

	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	ServerStartTime = "app_server_start_time_seconds"
	ServerUptime    = "app_server_uptime_seconds"
)

// RecordOperation counts one fetch (or other top-level operation) by outcome.
func RecordOperation(operation string, success bool) {
	if observability.TelemetrySystem == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	_ = observability.TelemetrySystem.Counter(OperationsTotal, 1, map[string]string{
		"operation": operation,
		"status":    status,
	})
}

// RecordOperationError counts a failed operation by error kind. kind must
// come from a closed set (envelope codes), never from request input.
func RecordOperationError(operation, kind string) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(OperationsErrorsTotal, 1, map[string]string{
		"operation":  operation,
		"error_type": kind,
	})
}

// SetActiveConnections publishes the number of open inbound connections.
func SetActiveConnections(count int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ActiveConnections, float64(count), nil)
	}
}

// ConnectionTracker keeps the active connection gauge current. Install
// ConnState as http.Server.ConnState.
type ConnectionTracker struct {
	active atomic.Int64
}

// ConnState updates the count on connection open and close.
func (c *ConnectionTracker) ConnState(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		SetActiveConnections(c.active.Add(1))
	case http.StateHijacked, http.StateClosed:
		SetActiveConnections(c.active.Add(-1))
	}
}

// Active returns the current number of tracked connections.
func (c *ConnectionTracker) Active() int64 {
	return c.active.Load()
}

// RecordHealthCheck records one checker run from the health manager.
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	_ = observability.TelemetrySystem.Counter(HealthCheckTotal, 1, map[string]string{
		"check":  checkName,
		"status": status,
	})
	_ = observability.TelemetrySystem.Histogram(HealthCheckDuration, duration, map[string]string{
		"check": checkName,
	})
}

// SetServerStartTime records when serve started (Unix seconds).
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerStartTime, float64(timestamp), nil)
	}
}

// SetServerUptime records seconds since serve started.
func SetServerUptime(seconds int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerUptime, float64(seconds), nil)
	}
}

// TrackUptime publishes the start time once, then the uptime every interval
// until ctx is done.
func TrackUptime(ctx context.Context, startedAt time.Time, interval time.Duration) {
	SetServerStartTime(startedAt.Unix())
	SetServerUptime(0)
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			SetServerUptime(int64(now.Sub(startedAt).Seconds()))
		}
	}
}
