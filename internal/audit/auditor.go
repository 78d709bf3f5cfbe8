package audit

import "context"

// Auditor is the interface for recording audit events.
type Auditor interface {
	// Record persists an audit event, filling in its ID, timestamp and hashes.
	Record(ctx context.Context, event *Event) error

	// Query retrieves events matching the given options, newest first.
	Query(ctx context.Context, opts QueryOptions) ([]Event, error)

	// Close releases any resources held by the auditor.
	Close() error
}

var _ Auditor = (*Store)(nil)
