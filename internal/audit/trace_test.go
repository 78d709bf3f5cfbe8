package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id := NewTraceID()
	if !strings.HasPrefix(id, "tr_") {
		t.Errorf("trace ID should start with 'tr_', got %q", id)
	}
	if len(id) != 15 {
		t.Errorf("trace ID should be 15 chars, got %d: %q", len(id), id)
	}
	if id == NewTraceID() {
		t.Error("trace IDs should be unique")
	}
}

func TestTraceIDContext(t *testing.T) {
	ctx := context.Background()
	if TraceIDFromContext(ctx) != "" {
		t.Error("empty context should have no trace ID")
	}

	ctx, id := EnsureTraceID(ctx)
	if id == "" || TraceIDFromContext(ctx) != id {
		t.Errorf("EnsureTraceID gave %q, context has %q", id, TraceIDFromContext(ctx))
	}

	again, id2 := EnsureTraceID(ctx)
	if id2 != id || TraceIDFromContext(again) != id {
		t.Error("EnsureTraceID should keep an existing trace ID")
	}
}

func TestTraceMiddleware(t *testing.T) {
	var seen string
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	t.Run("propagates caller trace", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set(TraceHeader, "tr_fromclient")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if seen != "tr_fromclient" {
			t.Errorf("handler saw %q", seen)
		}
		if got := rec.Header().Get(TraceHeader); got != "tr_fromclient" {
			t.Errorf("response header = %q", got)
		}
	})

	t.Run("generates trace", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		if !strings.HasPrefix(seen, "tr_") {
			t.Errorf("handler saw %q", seen)
		}
		if rec.Header().Get(TraceHeader) != seen {
			t.Error("response header should echo the generated trace ID")
		}
	})
}
