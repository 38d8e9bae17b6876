// Package middleware holds the HTTP middleware applied by the router: trace
// ID injection and gateway identity extraction.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/Mikububu/1-in-a-billion-paradise-sub000/internal/api/shared"
)

// NewTraceMiddleware returns middleware that stamps each request context with
// a trace ID. It runs early so every downstream log line and error response
// carries the same ID.
func NewTraceMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context())

			logger.DebugContext(ctx, "request started",
				slog.String("trace_id", shared.GetTraceID(ctx)),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
