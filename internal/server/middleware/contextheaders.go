package middleware

import (
	"net/http"

	"github.com/ingestkit/ingestkit/internal/observability"
)

// ContextHeaders copies inbound headers starting with prefix into the request
// log context. An empty prefix disables the middleware.
func ContextHeaders(prefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if prefix == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fields := observability.HeaderFields(r.Header, prefix)
			if len(fields) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(observability.WithContextFields(r.Context(), fields)))
		})
	}
}
