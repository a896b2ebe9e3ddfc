// Package eventlog is the insert-only event store shared by agent launchers,
// the watchdog, and the insight analyzer. Events are structured rows (tool
// invocations, session lifecycle, mail traffic, errors) in a SQLite database
// under the state directory; tool_start rows are correlated with their
// tool_end in-store by back-filling a duration.
package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"overstory/pkg/db"
	"overstory/pkg/protocol"
)

// Event is a single row of the event stream.
type Event struct {
	ID         int64
	RunID      string
	AgentName  string
	SessionID  string
	Kind       protocol.EventKind
	ToolName   string
	ToolArgs   string // filtered JSON, see FilterToolArgs
	DurationMS *int64
	Level      protocol.Level
	Payload    string
	CreatedAt  time.Time
}

// Store wraps the events database.
type Store struct {
	conn    *sql.DB
	nowFunc func() time.Time
}

// Open opens (or creates) the events database at path and applies the schema.
func Open(path string) (*Store, error) {
	conn, err := db.Open(path)
	if err != nil {
		return nil, protocol.NewStoreError("open events db", err)
	}
	if _, err := conn.Exec(schemaDDL); err != nil {
		conn.Close()
		return nil, protocol.NewStoreError("apply events schema", err)
	}
	return &Store{conn: conn, nowFunc: time.Now}, nil
}

// SetNowFunc overrides the clock. Tests only.
func (s *Store) SetNowFunc(f func() time.Time) { s.nowFunc = f }

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error { return db.Close(s.conn) }

// Insert appends one event and returns its assigned id. A zero CreatedAt is
// stamped with the store clock; Level defaults to info.
func (s *Store) Insert(ctx context.Context, ev Event) (int64, error) {
	if ev.AgentName == "" {
		return 0, protocol.NewValidationError("event missing agent name", nil)
	}
	if ev.Kind == "" {
		return 0, protocol.NewValidationError("event missing kind",
			map[string]string{"agent": ev.AgentName})
	}
	if ev.Level == "" {
		ev.Level = protocol.LevelInfo
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.nowFunc()
	}

	var duration any
	if ev.DurationMS != nil {
		duration = *ev.DurationMS
	}
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO events
			(run_id, agent_name, session_id, event_kind, tool_name, tool_args,
			 tool_duration_ms, level, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.AgentName, ev.SessionID, string(ev.Kind), ev.ToolName,
		ev.ToolArgs, duration, string(ev.Level), ev.Payload,
		db.FormatTime(ev.CreatedAt))
	if err != nil {
		return 0, protocol.NewStoreError("insert event", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, protocol.NewStoreError("event insert id", err)
	}
	return id, nil
}

// CorrelateToolEnd back-fills the duration of the most recent uncorrelated
// tool_start for (agent, tool). Returns the start row's id and the computed
// duration, or ok=false when no candidate exists; the caller inserts its
// tool_end either way.
func (s *Store) CorrelateToolEnd(ctx context.Context, agent, tool string) (id int64, durationMS int64, ok bool, err error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, false, protocol.NewStoreError("begin correlate", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var createdAt string
	err = tx.QueryRowContext(ctx, `
		SELECT id, created_at FROM events
		WHERE agent_name = ? AND tool_name = ? AND event_kind = ?
		  AND tool_duration_ms IS NULL
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		agent, tool, string(protocol.EventToolStart)).Scan(&id, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, protocol.NewStoreError("find tool_start", err)
	}

	started, err := db.ParseTime(createdAt)
	if err != nil {
		return 0, 0, false, protocol.NewStoreError("parse tool_start time", err)
	}
	durationMS = s.nowFunc().Sub(started).Milliseconds()
	if durationMS < 0 {
		durationMS = 0
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE events SET tool_duration_ms = ? WHERE id = ?`, durationMS, id); err != nil {
		return 0, 0, false, protocol.NewStoreError("backfill tool duration", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, false, protocol.NewStoreError("commit correlate", err)
	}
	return id, durationMS, true, nil
}

const eventColumns = `id, run_id, agent_name, session_id, event_kind,
	tool_name, tool_args, tool_duration_ms, level, payload, created_at`

// ByAgent returns the agent's events, newest first, capped at limit
// (limit <= 0 means no cap).
func (s *Store) ByAgent(ctx context.Context, agent string, limit int) ([]Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events
		WHERE agent_name = ? ORDER BY created_at DESC, id DESC`
	args := []any{agent}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryEvents(ctx, q, args...)
}

// ByRun returns every event tagged with the run id, newest first.
func (s *Store) ByRun(ctx context.Context, runID string, limit int) ([]Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events
		WHERE run_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{runID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryEvents(ctx, q, args...)
}

// Errors returns error-level events across all agents, newest first.
func (s *Store) Errors(ctx context.Context, limit int) ([]Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events
		WHERE level = ? ORDER BY created_at DESC, id DESC`
	args := []any{string(protocol.LevelError)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryEvents(ctx, q, args...)
}

// Timeline returns events at or after since in chronological order,
// id-ascending as tiebreak. The lower bound is required; an unbounded
// timeline over a long-lived store would be unboundedly large.
func (s *Store) Timeline(ctx context.Context, since time.Time) ([]Event, error) {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE created_at >= ? ORDER BY created_at ASC, id ASC`,
		db.FormatTime(since))
}

// ToolStat aggregates per-tool usage across the whole store.
type ToolStat struct {
	ToolName      string
	Count         int
	AvgDurationMS float64
	MaxDurationMS int64
}

// ToolStats returns per-tool call counts and duration aggregates over
// tool_start rows. Rows whose duration was never back-filled count toward
// Count but not the duration aggregates.
func (s *Store) ToolStats(ctx context.Context) ([]ToolStat, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT tool_name, COUNT(*),
		       COALESCE(AVG(tool_duration_ms), 0),
		       COALESCE(MAX(tool_duration_ms), 0)
		FROM events
		WHERE event_kind = ? AND tool_name != ''
		GROUP BY tool_name
		ORDER BY COUNT(*) DESC, tool_name ASC`,
		string(protocol.EventToolStart))
	if err != nil {
		return nil, protocol.NewStoreError("tool stats", err)
	}
	defer rows.Close()

	var out []ToolStat
	for rows.Next() {
		var st ToolStat
		if err := rows.Scan(&st.ToolName, &st.Count, &st.AvgDurationMS, &st.MaxDurationMS); err != nil {
			return nil, protocol.NewStoreError("scan tool stat", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, protocol.NewStoreError("iterate tool stats", err)
	}
	return out, nil
}

// PurgeByAge deletes events older than the cutoff and returns the count.
func (s *Store) PurgeByAge(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.nowFunc().Add(-olderThan)
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM events WHERE created_at < ?`, db.FormatTime(cutoff))
	if err != nil {
		return 0, protocol.NewStoreError("purge events by age", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeByAgent deletes every event for the agent and returns the count.
func (s *Store) PurgeByAgent(ctx context.Context, agent string) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM events WHERE agent_name = ?`, agent)
	if err != nil {
		return 0, protocol.NewStoreError("purge events by agent", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeAll truncates the event stream and returns the count.
func (s *Store) PurgeAll(ctx context.Context) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM events`)
	if err != nil {
		return 0, protocol.NewStoreError("purge all events", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, protocol.NewStoreError("query events", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, protocol.NewStoreError("scan event", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, protocol.NewStoreError("iterate events", err)
	}
	return out, nil
}

func scanEvent(row interface{ Scan(...any) error }) (Event, error) {
	var (
		ev        Event
		kind      string
		level     string
		duration  sql.NullInt64
		createdAt string
	)
	err := row.Scan(&ev.ID, &ev.RunID, &ev.AgentName, &ev.SessionID, &kind,
		&ev.ToolName, &ev.ToolArgs, &duration, &level, &ev.Payload, &createdAt)
	if err != nil {
		return Event{}, err
	}
	ev.Kind = protocol.EventKind(kind)
	ev.Level = protocol.Level(level)
	if duration.Valid {
		d := duration.Int64
		ev.DurationMS = &d
	}
	if ev.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return Event{}, err
	}
	return ev, nil
}
