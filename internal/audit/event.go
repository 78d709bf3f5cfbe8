// Package audit records what KubeSage was asked and which cluster tools it
// ran to answer, in a tamper-evident SQLite or PostgreSQL log.
package audit

import (
	"encoding/json"
	"time"
)

// EventType identifies the type of audit event.
type EventType string

const (
	// EventTypeQuery is one natural-language question and its answer.
	EventTypeQuery EventType = "query"
	// EventTypeToolExecution is one cluster tool call, from the model or the REST API.
	EventTypeToolExecution EventType = "tool_execution"
)

// Outcome statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Session identifies the conversation an event belongs to.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"user_id,omitempty"`
}

// Input captures the user's request.
type Input struct {
	UserQuery string `json:"user_query,omitempty"`
	Model     string `json:"model,omitempty"`
	Origin    string `json:"origin,omitempty"` // rest, websocket, cli, a2a
}

// Output captures the assistant's answer.
type Output struct {
	Response string `json:"response,omitempty"`
}

// ToolExecution captures details of a tool invocation.
type ToolExecution struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	// Result is a truncated summary of the tool's JSON output.
	Result   string        `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ms,omitempty"`
}

// Outcome captures how the request ended.
type Outcome struct {
	Status       string        `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Duration     time.Duration `json:"duration_ms"`
}

// Event is a single audit record.
type Event struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`

	// TraceID correlates a query with the tool calls made to answer it.
	TraceID string `json:"trace_id,omitempty"`

	PrevHash  string `json:"prev_hash,omitempty"`
	EventHash string `json:"event_hash,omitempty"`

	Session Session        `json:"session"`
	Input   Input          `json:"input"`
	Output  *Output        `json:"output,omitempty"`
	Tool    *ToolExecution `json:"tool,omitempty"`
	Outcome *Outcome       `json:"outcome,omitempty"`
}

// MarshalJSON returns the JSON encoding of the event.
func (e *Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(e),
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
	})
}

func outcomeStatus(errMsg string) string {
	if errMsg != "" {
		return StatusError
	}
	return StatusSuccess
}

// truncateString shortens s to at most n bytes, marking the cut.
func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
