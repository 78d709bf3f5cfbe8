package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// GenesisHash is the PrevHash of the first event in the chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ComputeEventHash hashes the canonical JSON of an event, excluding EventHash.
func ComputeEventHash(event *Event) string {
	hashInput := struct {
		EventID   string         `json:"event_id"`
		Timestamp string         `json:"timestamp"`
		EventType EventType      `json:"event_type"`
		TraceID   string         `json:"trace_id,omitempty"`
		PrevHash  string         `json:"prev_hash,omitempty"`
		Session   Session        `json:"session"`
		Input     Input          `json:"input"`
		Output    *Output        `json:"output,omitempty"`
		Tool      *ToolExecution `json:"tool,omitempty"`
		Outcome   *Outcome       `json:"outcome,omitempty"`
	}{
		EventID:   event.EventID,
		Timestamp: event.Timestamp.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
		EventType: event.EventType,
		TraceID:   event.TraceID,
		PrevHash:  event.PrevHash,
		Session:   event.Session,
		Input:     event.Input,
		Output:    event.Output,
		Tool:      event.Tool,
		Outcome:   event.Outcome,
	}

	data, err := json.Marshal(hashInput)
	if err != nil {
		data = []byte(event.EventID)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyEventHash reports whether the event's stored hash matches its content.
func VerifyEventHash(event *Event) bool {
	if event.EventHash == "" {
		return true
	}
	return ComputeEventHash(event) == event.EventHash
}

// VerifyChain checks events in insertion order. It returns the index of the
// first broken link, or -1 if the chain is intact.
func VerifyChain(events []Event) (int, error) {
	for i := range events {
		event := &events[i]
		if !VerifyEventHash(event) {
			return i, fmt.Errorf("event %s has invalid hash", event.EventID)
		}
		if i == 0 {
			if event.PrevHash != "" && event.PrevHash != GenesisHash {
				return i, fmt.Errorf("first event %s has invalid prev_hash (expected genesis)", event.EventID)
			}
			continue
		}
		if want := events[i-1].EventHash; event.PrevHash != want {
			return i, fmt.Errorf("event %s has broken chain link: prev_hash=%s, expected=%s",
				event.EventID, short(event.PrevHash), short(want))
		}
	}
	return -1, nil
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}

// ChainStatus represents the integrity status of the audit chain.
type ChainStatus struct {
	Valid        bool   `json:"valid"`
	TotalEvents  int    `json:"total_events"`
	BrokenAt     int    `json:"broken_at"`
	Error        string `json:"error,omitempty"`
	FirstEventID string `json:"first_event_id,omitempty"`
	LastEventID  string `json:"last_event_id,omitempty"`
	LastHash     string `json:"last_hash,omitempty"`
}

// VerifyChainStatus performs a full chain verification and summarises it.
func VerifyChainStatus(events []Event) ChainStatus {
	status := ChainStatus{TotalEvents: len(events), BrokenAt: -1, Valid: true}
	if len(events) == 0 {
		return status
	}
	status.FirstEventID = events[0].EventID
	status.LastEventID = events[len(events)-1].EventID
	status.LastHash = events[len(events)-1].EventHash

	if brokenAt, err := VerifyChain(events); err != nil {
		status.Valid = false
		status.BrokenAt = brokenAt
		status.Error = err.Error()
	}
	return status
}
