package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// DefaultHistoryLimit is how many events Recent returns when asked for none.
const DefaultHistoryLimit = 50

// Store persists audit events to SQLite or PostgreSQL.
type Store struct {
	db         *sql.DB
	isPostgres bool
	lastHash   string     // hash of the last recorded event
	hashMu     sync.Mutex // protects lastHash and serialises inserts
}

// StoreConfig configures the audit store.
type StoreConfig struct {
	// DSN selects the backend: "postgres://" or "postgresql://" URLs use
	// pgx, anything else is a SQLite file path.
	DSN string
}

// IsPostgres reports whether the store is backed by PostgreSQL.
func (s *Store) IsPostgres() bool { return s.isPostgres }

// IsPostgresDSN reports whether dsn names a PostgreSQL database.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// rebind rewrites ? placeholders as $N for PostgreSQL.
func rebind(isPostgres bool, query string) string {
	if !isPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// NewStore opens (and if needed creates) the audit database.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	dsn := cfg.DSN
	if dsn == "" {
		return nil, errors.New("audit store: empty DSN")
	}
	isPostgres := IsPostgresDSN(dsn)

	var db *sql.DB
	var err error
	if isPostgres {
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	} else {
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create audit directory: %w", err)
			}
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open audit database: %w", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	if err := createTables(ctx, db, isPostgres); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	s := &Store{db: db, isPostgres: isPostgres, lastHash: GenesisHash}
	if err := s.initLastHash(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init last hash: %w", err)
	}
	return s, nil
}

func (s *Store) initLastHash(ctx context.Context) error {
	var hash sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT event_hash FROM audit_events ORDER BY id DESC LIMIT 1`).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if hash.Valid && hash.String != "" {
		s.lastHash = hash.String
	}
	return nil
}

func createTables(ctx context.Context, db *sql.DB, isPostgres bool) error {
	pkDef := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if isPostgres {
		pkDef = "BIGSERIAL PRIMARY KEY"
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS audit_events (
		id %s,
		event_id TEXT UNIQUE NOT NULL,
		timestamp TEXT NOT NULL,
		event_type TEXT NOT NULL,
		trace_id TEXT,
		prev_hash TEXT,
		event_hash TEXT,
		session_id TEXT NOT NULL,
		user_query TEXT,
		model TEXT,
		tool_name TEXT,
		outcome_status TEXT,
		outcome_error TEXT,
		outcome_duration_ms INTEGER,
		raw_json TEXT NOT NULL
	)`, pkDef)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}

	for _, idx := range []string{
		`CREATE INDEX IF NOT EXISTS idx_events_session ON audit_events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON audit_events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_trace ON audit_events(trace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_tool ON audit_events(tool_name)`,
	} {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}

// Record persists an audit event.
func (s *Store) Record(ctx context.Context, event *Event) error {
	if event.EventID == "" {
		event.EventID = "evt_" + uuid.New().String()[:8]
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// Held through the insert so the chain order matches the id order.
	s.hashMu.Lock()
	defer s.hashMu.Unlock()

	event.PrevHash = s.lastHash
	event.EventHash = ComputeEventHash(event)

	rawJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var toolName string
	if event.Tool != nil {
		toolName = event.Tool.Name
	}
	var status, errMsg string
	var durationMs int64
	if event.Outcome != nil {
		status = event.Outcome.Status
		errMsg = event.Outcome.ErrorMessage
		durationMs = event.Outcome.Duration.Milliseconds()
	}

	_, err = s.db.ExecContext(ctx, rebind(s.isPostgres, `
		INSERT INTO audit_events (
			event_id, timestamp, event_type, trace_id, prev_hash, event_hash,
			session_id, user_query, model, tool_name,
			outcome_status, outcome_error, outcome_duration_ms, raw_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		event.EventID,
		formatTimestamp(event.Timestamp),
		string(event.EventType),
		event.TraceID,
		event.PrevHash,
		event.EventHash,
		event.Session.ID,
		event.Input.UserQuery,
		event.Input.Model,
		toolName,
		status,
		errMsg,
		durationMs,
		string(rawJSON),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	s.lastHash = event.EventHash
	return nil
}

// timestampLayout is fixed width so stored timestamps compare correctly as
// strings.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// QueryOptions specifies filters for querying events.
type QueryOptions struct {
	SessionID string
	EventType EventType
	TraceID   string
	ToolName  string
	Since     time.Time
	Limit     int
}

// Query returns events matching opts, newest first. Trace queries come back
// in recording order so a query reads before its tool calls.
func (s *Store) Query(ctx context.Context, opts QueryOptions) ([]Event, error) {
	query := `SELECT raw_json FROM audit_events WHERE 1=1`
	var args []any

	if opts.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, opts.SessionID)
	}
	if opts.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, string(opts.EventType))
	}
	if opts.TraceID != "" {
		query += " AND trace_id = ?"
		args = append(args, opts.TraceID)
	}
	if opts.ToolName != "" {
		query += " AND tool_name = ?"
		args = append(args, opts.ToolName)
	}
	if !opts.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, formatTimestamp(opts.Since))
	}

	if opts.TraceID != "" {
		query += " ORDER BY id ASC"
	} else {
		query += " ORDER BY id DESC"
	}
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, rebind(s.isPostgres, query), args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var event Event
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Recent returns the newest limit events of any type.
func Recent(ctx context.Context, a Auditor, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return a.Query(ctx, QueryOptions{Limit: limit})
}

// VerifyIntegrity checks the hash chain over every stored event in insertion order.
func (s *Store) VerifyIntegrity(ctx context.Context) (ChainStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT raw_json FROM audit_events ORDER BY id ASC`)
	if err != nil {
		return ChainStatus{}, fmt.Errorf("query events for verify: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return ChainStatus{}, fmt.Errorf("scan event: %w", err)
		}
		var event Event
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			return ChainStatus{}, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return ChainStatus{}, err
	}
	return VerifyChainStatus(events), nil
}

// LastHash returns the hash of the most recent event.
func (s *Store) LastHash() string {
	s.hashMu.Lock()
	defer s.hashMu.Unlock()
	return s.lastHash
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
