package observability_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ingestkit/ingestkit/internal/observability"
)

func TestLoggers(t *testing.T) {
	originalCLI, originalServer := observability.CLILogger, observability.ServerLogger
	t.Cleanup(func() {
		observability.CLILogger = originalCLI
		observability.ServerLogger = originalServer
	})

	observability.CLILogger = nil
	observability.ServerLogger = nil
	require.Nil(t, observability.Logger())

	t.Run("CLI logger creation", func(t *testing.T) {
		observability.InitCLILogger("test-service", true)
		require.NotNil(t, observability.CLILogger)
		require.Same(t, observability.CLILogger, observability.Logger())

		observability.CLILogger.Debug("Test CLI log message", zap.String("test", "value"))
	})

	t.Run("Server logger takes precedence", func(t *testing.T) {
		observability.InitServerLogger("test-service", "debug", "local", "ingestkit")
		require.NotNil(t, observability.ServerLogger)
		require.Same(t, observability.ServerLogger, observability.Logger())

		observability.ServerLogger.Info("Test structured log message",
			zap.String("component", "test"),
			zap.Int("request_id", 123))
	})
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, observability.ContextFields(ctx))
	assert.Nil(t, observability.ZapFields(ctx))

	parent := observability.WithContextFields(ctx, map[string]string{"tenant": "acme", "job": "a"})
	child := observability.WithContextFields(parent, map[string]string{"job": "b"})

	assert.Equal(t, map[string]string{"tenant": "acme", "job": "a"}, observability.ContextFields(parent))
	assert.Equal(t, map[string]string{"tenant": "acme", "job": "b"}, observability.ContextFields(child))

	fields := observability.ZapFields(child)
	require.Len(t, fields, 2)
	assert.Equal(t, "job", fields[0].Key)
	assert.Equal(t, "tenant", fields[1].Key)

	assert.Equal(t, parent, observability.WithContextFields(parent, nil))
}

func TestHeaderFields(t *testing.T) {
	header := http.Header{}
	header.Set("X-Context-Tenant-Id", "acme")
	header.Add("X-Context-Tag", "one")
	header.Add("X-Context-Tag", "two")
	header.Set("X-Request-ID", "ignored")
	header.Set("X-Context-", "empty-key")

	fields := observability.HeaderFields(header, "X-Context-")
	assert.Equal(t, map[string]string{"tenant_id": "acme", "tag": "one,two"}, fields)

	assert.Nil(t, observability.HeaderFields(header, ""))
}

func TestEmbeddedCrucible(t *testing.T) {
	version := crucible.GetVersion()
	assert.NotEmpty(t, version.Gofulmen)
	assert.NotEmpty(t, version.Crucible)
}
