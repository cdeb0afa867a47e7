package telemetry

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/omni/beacon-gateway/internal/shared"
)

// traceHeader is the header a caller can set to propagate its own
// trace id through the gateway; when absent a new one is minted.
const traceHeader = "X-Trace-Id"

// TraceMiddleware assigns a trace id to every request's context
// (reusing one supplied via the X-Trace-Id header, or minting a new
// one) and echoes it back on the response, so a single id threads
// through logs, spans, and the client's own logs for one request.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceHeader)
		if traceID == "" {
			traceID = shared.NewTraceID()
		}
		w.Header().Set(traceHeader, traceID)
		ctx := shared.WithTraceID(r.Context(), traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithTraceID returns a child logger carrying the request's trace_id,
// falling back to "-" if none was attached to ctx.
func WithTraceID(logger *slog.Logger, ctx context.Context) *slog.Logger {
	return logger.With("trace_id", shared.TraceID(ctx))
}
