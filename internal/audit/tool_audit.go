package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// maxResultLen bounds the tool output kept in an audit event.
const maxResultLen = 500

// ToolAuditor records tool executions and queries. A nil Auditor turns
// every method into a no-op.
type ToolAuditor struct {
	auditor Auditor
}

// NewToolAuditor creates a recorder backed by auditor, which may be nil.
func NewToolAuditor(auditor Auditor) *ToolAuditor {
	return &ToolAuditor{auditor: auditor}
}

// Enabled reports whether events are persisted.
func (ta *ToolAuditor) Enabled() bool {
	return ta != nil && ta.auditor != nil
}

// ToolCall represents a tool invocation to be audited.
type ToolCall struct {
	Name       string
	Parameters map[string]any
	SessionID  string
}

// ToolResult represents the result of a tool invocation.
type ToolResult struct {
	Output string
	Error  string
}

// RecordToolCall records a tool execution event.
func (ta *ToolAuditor) RecordToolCall(ctx context.Context, call ToolCall, result ToolResult, duration time.Duration) {
	if !ta.Enabled() {
		return
	}
	event := &Event{
		EventID:   "tool_" + uuid.New().String()[:8],
		Timestamp: time.Now().UTC(),
		EventType: EventTypeToolExecution,
		TraceID:   TraceIDFromContext(ctx),
		Session:   Session{ID: sessionOrDefault(call.SessionID)},
		Tool: &ToolExecution{
			Name:       call.Name,
			Parameters: call.Parameters,
			Result:     truncateString(result.Output, maxResultLen),
			Error:      result.Error,
			Duration:   duration,
		},
		Outcome: &Outcome{
			Status:       outcomeStatus(result.Error),
			ErrorMessage: result.Error,
			Duration:     duration,
		},
	}
	if err := ta.auditor.Record(ctx, event); err != nil {
		slog.Warn("failed to record tool audit event", "tool", call.Name, "err", err)
	}
}

// QueryRecord describes one answered (or failed) natural-language query.
type QueryRecord struct {
	SessionID string
	Query     string
	Model     string
	Origin    string
	Response  string
	Err       error
}

// RecordQuery records a query event.
func (ta *ToolAuditor) RecordQuery(ctx context.Context, q QueryRecord, duration time.Duration) {
	if !ta.Enabled() {
		return
	}
	var errMsg string
	if q.Err != nil {
		errMsg = q.Err.Error()
	}
	event := &Event{
		EventID:   "qry_" + uuid.New().String()[:8],
		Timestamp: time.Now().UTC(),
		EventType: EventTypeQuery,
		TraceID:   TraceIDFromContext(ctx),
		Session:   Session{ID: sessionOrDefault(q.SessionID)},
		Input:     Input{UserQuery: q.Query, Model: q.Model, Origin: q.Origin},
		Outcome: &Outcome{
			Status:       outcomeStatus(errMsg),
			ErrorMessage: errMsg,
			Duration:     duration,
		},
	}
	if q.Response != "" {
		event.Output = &Output{Response: truncateString(q.Response, 4*maxResultLen)}
	}
	if err := ta.auditor.Record(ctx, event); err != nil {
		slog.Warn("failed to record query audit event", "err", err)
	}
}

func sessionOrDefault(id string) string {
	if id == "" {
		return "default"
	}
	return id
}
