package middleware

import (
	"log/slog"
	"net/http"

	"github.com/easelhq/easel-api/internal/api/shared"
	"github.com/easelhq/easel-api/internal/platform/logger"
)

// TraceMiddleware tags every request with a fresh trace ID. The ID rides the
// request context into handlers and error payloads, and a logger carrying it
// is attached to the same context, so store and handler records logged
// through FromContextOrDefault share the ID with the response body.
// Apply it early in the chain; everything downstream assumes the ID is set.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.SetTraceID(r.Context())
		traceID := shared.GetTraceID(ctx)

		log := slog.Default().With(slog.String("trace_id", traceID))
		ctx = logger.WithLogger(ctx, log)

		log.Debug("request started",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
