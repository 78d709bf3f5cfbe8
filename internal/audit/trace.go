package audit

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// TraceHeader carries the trace ID on HTTP requests and responses.
const TraceHeader = "X-Trace-ID"

type traceContextKey struct{}

// NewTraceID generates a new trace ID.
func NewTraceID() string {
	return "tr_" + uuid.New().String()[:12]
}

// WithTraceID returns ctx carrying traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceContextKey{}, traceID)
}

// TraceIDFromContext returns the trace ID in ctx, or "".
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceContextKey{}).(string)
	return id
}

// EnsureTraceID returns ctx with a trace ID, adding a new one if absent.
func EnsureTraceID(ctx context.Context) (context.Context, string) {
	if id := TraceIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := NewTraceID()
	return WithTraceID(ctx, id), id
}

// TraceMiddleware attaches a trace ID to every request: the caller's
// X-Trace-ID if present, otherwise a fresh one. The ID is echoed back in
// the response header.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := strings.TrimSpace(r.Header.Get(TraceHeader))
		if traceID == "" {
			traceID = NewTraceID()
		}
		w.Header().Set(TraceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(WithTraceID(r.Context(), traceID)))
	})
}
