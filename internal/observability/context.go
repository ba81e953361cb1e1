package observability

import (
	"context"
	"maps"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"
)

type contextFieldsKey struct{}

// WithContextFields returns a child context carrying fields layered over any
// already present. Later values win; the parent context is not modified.
func WithContextFields(ctx context.Context, fields map[string]string) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	merged := maps.Clone(ContextFields(ctx))
	if merged == nil {
		merged = make(map[string]string, len(fields))
	}
	maps.Copy(merged, fields)
	return context.WithValue(ctx, contextFieldsKey{}, merged)
}

// ContextFields returns the fields stored on ctx, or nil.
func ContextFields(ctx context.Context) map[string]string {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(contextFieldsKey{}).(map[string]string)
	return fields
}

// ZapFields renders the context fields as sorted zap fields.
func ZapFields(ctx context.Context) []zap.Field {
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, key := range keys {
		out = append(out, zap.String(key, fields[key]))
	}
	return out
}

// HeaderFields extracts headers whose lowercased name starts with prefix.
// The prefix is stripped and dashes become underscores, so
// "X-Context-Tenant-Id" with prefix "x-context-" yields "tenant_id".
func HeaderFields(header http.Header, prefix string) map[string]string {
	prefix = strings.ToLower(prefix)
	if prefix == "" {
		return nil
	}
	var fields map[string]string
	for name, values := range header {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, prefix) || len(values) == 0 {
			continue
		}
		key := strings.ReplaceAll(strings.TrimPrefix(lower, prefix), "-", "_")
		if key == "" {
			continue
		}
		if fields == nil {
			fields = make(map[string]string)
		}
		fields[key] = strings.Join(values, ",")
	}
	return fields
}
