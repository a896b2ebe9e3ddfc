package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"overstory/pkg/db"
	"overstory/pkg/protocol"
)

// QueryOpts is the dynamic filter used by the dashboard and the events CLI.
type QueryOpts struct {
	// AgentName filters events to a specific agent.
	AgentName string

	// RunID filters events to a specific run.
	RunID string

	// Kind filters to a single event kind.
	Kind protocol.EventKind

	// Level filters to a single severity.
	Level protocol.Level

	// After keeps events created at or after this time.
	After *time.Time

	// Before keeps events created at or before this time.
	Before *time.Time

	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// Reader provides read-only access to the events database. It opens the file
// in mode=ro so a dashboard polling the store never blocks writers.
type Reader struct {
	conn *sql.DB
}

// NewReader opens the events database read-only. Errors when the file does
// not exist; a missing store means no orchestrator has run here yet.
func NewReader(dbPath string) (*Reader, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, protocol.NewStoreError("events database not found", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", dbPath)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, protocol.NewStoreError("open events db read-only", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, protocol.NewStoreError("ping events db", err)
	}
	return &Reader{conn: conn}, nil
}

// Close releases the connection. Safe to call multiple times.
func (r *Reader) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// Query retrieves events matching opts, newest first.
func (r *Reader) Query(ctx context.Context, opts QueryOpts) ([]Event, error) {
	query, args := buildQuery(opts)

	rows, err := r.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, protocol.NewStoreError("query events", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, protocol.NewStoreError("scan event", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, protocol.NewStoreError("iterate events", err)
	}
	return events, nil
}

func buildQuery(opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	query := `SELECT ` + eventColumns + ` FROM events WHERE 1=1`

	if opts.AgentName != "" {
		conditions = append(conditions, "agent_name = ?")
		args = append(args, opts.AgentName)
	}
	if opts.RunID != "" {
		conditions = append(conditions, "run_id = ?")
		args = append(args, opts.RunID)
	}
	if opts.Kind != "" {
		conditions = append(conditions, "event_kind = ?")
		args = append(args, string(opts.Kind))
	}
	if opts.Level != "" {
		conditions = append(conditions, "level = ?")
		args = append(args, string(opts.Level))
	}
	if opts.After != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, db.FormatTime(*opts.After))
	}
	if opts.Before != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, db.FormatTime(*opts.Before))
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	return query, args
}
