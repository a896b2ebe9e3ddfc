// Package state implements the durable session and run store. Every spawned
// agent has exactly one row keyed by agent name; rows survive crashes and are
// the watchdog's source of recorded (as opposed to observed) truth.
//
// State transitions are forward-only and enforced inside a transaction that
// re-reads the current row, so concurrent writers cannot move a session
// backward. Escalation levels are monotonically non-decreasing while the
// session is non-terminal.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"overstory/pkg/db"
	"overstory/pkg/protocol"
)

// Session is one agent's durable lifecycle record.
type Session struct {
	Name            string
	Capability      protocol.Capability
	WorktreePath    string
	Branch          string
	TaskID          string
	Pane            string
	State           protocol.SessionState
	PID             *int
	Parent          string
	Depth           int
	RunID           string
	StartedAt       time.Time
	LastActivity    time.Time
	StalledSince    *time.Time
	EscalationLevel int
}

// Store wraps the sessions database.
type Store struct {
	conn    *sql.DB
	nowFunc func() time.Time
}

// Open opens (or creates) the sessions database at path, applies the schema
// and migrations, and imports the legacy flat file at legacyPath if the
// store is fresh. The returned bool reports whether a legacy import ran, so
// the front end can log it once. legacyPath may be empty to skip the check.
func Open(path, legacyPath string) (*Store, bool, error) {
	conn, err := db.Open(path)
	if err != nil {
		return nil, false, protocol.NewStoreError("open sessions db", err)
	}

	ctx := context.Background()
	if _, err := conn.ExecContext(ctx, schemaDDL); err != nil {
		_ = conn.Close()
		return nil, false, protocol.NewStoreError("apply sessions schema", err)
	}
	for _, m := range migrations {
		_, _ = conn.ExecContext(ctx, m)
	}

	s := &Store{conn: conn, nowFunc: time.Now}

	migrated, err := s.importLegacy(ctx, legacyPath)
	if err != nil {
		_ = conn.Close()
		return nil, false, err
	}
	return s, migrated, nil
}

// Close checkpoints and closes the database.
func (s *Store) Close() error { return db.Close(s.conn) }

// SetNowFunc overrides the clock for tests.
func (s *Store) SetNowFunc(f func() time.Time) { s.nowFunc = f }

// validate checks the cross-field invariants a session row must satisfy
// before it is written.
func validate(sess Session) error {
	if err := protocol.ValidateAgentName(sess.Name); err != nil {
		return err
	}
	if !sess.Capability.Valid() {
		return protocol.NewValidationError(
			fmt.Sprintf("unknown capability %q", sess.Capability),
			map[string]string{"agent": sess.Name})
	}
	// Depth zero is reserved for the persistent roots and vice versa.
	if (sess.Depth == 0) != sess.Capability.Persistent() {
		return protocol.NewValidationError(
			fmt.Sprintf("depth %d is invalid for capability %s", sess.Depth, sess.Capability),
			map[string]string{"agent": sess.Name, "depth": strconv.Itoa(sess.Depth)})
	}
	if sess.Depth < 0 {
		return protocol.NewValidationError("depth must be >= 0",
			map[string]string{"agent": sess.Name})
	}
	if (sess.State == protocol.StateStalled) != (sess.StalledSince != nil) {
		return protocol.NewValidationError(
			"stalled_since must be set exactly when state is stalled",
			map[string]string{"agent": sess.Name, "state": string(sess.State)})
	}
	return nil
}

// Upsert inserts or replaces the session row keyed by agent name. Zero
// StartedAt/LastActivity are filled with the current time. Escalation
// monotonicity is the watchdog's job; the store writes the field as given.
func (s *Store) Upsert(ctx context.Context, sess Session) error {
	if err := validate(sess); err != nil {
		return err
	}
	now := s.nowFunc()
	if sess.StartedAt.IsZero() {
		sess.StartedAt = now
	}
	if sess.LastActivity.IsZero() {
		sess.LastActivity = now
	}

	var pid sql.NullInt64
	if sess.PID != nil {
		pid = sql.NullInt64{Int64: int64(*sess.PID), Valid: true}
	}
	var stalled sql.NullString
	if sess.StalledSince != nil {
		stalled = sql.NullString{String: db.FormatTime(*sess.StalledSince), Valid: true}
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions
		(agent_name, capability, worktree_path, branch, task_id, pane, state,
		 pid, parent, depth, run_id, started_at, last_activity, stalled_since,
		 escalation_level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.Name, string(sess.Capability), sess.WorktreePath, sess.Branch,
		sess.TaskID, sess.Pane, string(sess.State), pid, sess.Parent,
		sess.Depth, sess.RunID, db.FormatTime(sess.StartedAt),
		db.FormatTime(sess.LastActivity), stalled, sess.EscalationLevel)
	if err != nil {
		return protocol.NewStoreError("upsert session "+sess.Name, err)
	}
	return nil
}

const sessionColumns = `agent_name, capability, worktree_path, branch, task_id,
	pane, state, pid, parent, depth, run_id, started_at, last_activity,
	stalled_since, escalation_level`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var (
		sess                    Session
		capStr, st              string
		pid                     sql.NullInt64
		startedAt, lastActivity string
		stalledSince            sql.NullString
	)
	err := row.Scan(&sess.Name, &capStr, &sess.WorktreePath, &sess.Branch,
		&sess.TaskID, &sess.Pane, &st, &pid, &sess.Parent, &sess.Depth,
		&sess.RunID, &startedAt, &lastActivity, &stalledSince,
		&sess.EscalationLevel)
	if err != nil {
		return Session{}, err
	}
	sess.Capability = protocol.Capability(capStr)
	sess.State = protocol.SessionState(st)
	if pid.Valid {
		p := int(pid.Int64)
		sess.PID = &p
	}
	if sess.StartedAt, err = db.ParseTime(startedAt); err != nil {
		return Session{}, err
	}
	if sess.LastActivity, err = db.ParseTime(lastActivity); err != nil {
		return Session{}, err
	}
	if stalledSince.Valid {
		t, err := db.ParseTime(stalledSince.String)
		if err != nil {
			return Session{}, err
		}
		sess.StalledSince = &t
	}
	return sess, nil
}

// GetByName returns the session for the named agent. Missing rows return a
// typed agent error.
func (s *Store) GetByName(ctx context.Context, name string) (Session, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE agent_name = ?`, name)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, protocol.NewAgentError(name, "session not found", nil)
	}
	if err != nil {
		return Session{}, protocol.NewStoreError("get session "+name, err)
	}
	return sess, nil
}

// GetActive returns sessions whose state is booting, working, or stalled,
// ordered by agent name.
func (s *Store) GetActive(ctx context.Context) ([]Session, error) {
	return s.query(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE state IN ('booting', 'working', 'stalled')
		ORDER BY agent_name`)
}

// GetAll returns every session ordered by agent name.
func (s *Store) GetAll(ctx context.Context) ([]Session, error) {
	return s.query(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY agent_name`)
}

// GetByRun returns sessions attached to the given run, ordered by agent name.
func (s *Store) GetByRun(ctx context.Context, runID string) ([]Session, error) {
	return s.query(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE run_id = ? ORDER BY agent_name`, runID)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Session, error) {
	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, protocol.NewStoreError("query sessions", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, protocol.NewStoreError("scan session", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, protocol.NewStoreError("iterate sessions", err)
	}
	return out, nil
}

// UpdateState applies a forward-only state transition for the named agent.
// The current state is re-read inside the transaction so a concurrent writer
// cannot slip a backward move past the rule. Illegal transitions return a
// typed lifecycle error. Entering stalled stamps stalled_since; every other
// target state clears it. The escalation level survives terminal transitions
// so observers can see how far the ladder climbed.
func (s *Store) UpdateState(ctx context.Context, name string, newState protocol.SessionState) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return protocol.NewStoreError("begin transition tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE agent_name = ?`, name).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.NewAgentError(name, "session not found", nil)
	}
	if err != nil {
		return protocol.NewStoreError("read current state", err)
	}

	from := protocol.SessionState(current)
	if !protocol.CanTransition(from, newState) {
		return protocol.NewLifecycleError(
			fmt.Sprintf("illegal state transition %s -> %s", from, newState),
			map[string]string{"agent": name, "from": string(from), "to": string(newState)})
	}

	now := db.FormatTime(s.nowFunc())
	switch {
	case newState == protocol.StateStalled:
		_, err = tx.ExecContext(ctx, `UPDATE sessions
			SET state = ?, stalled_since = ?
			WHERE agent_name = ?`, string(newState), now, name)
	case newState.Terminal():
		_, err = tx.ExecContext(ctx, `UPDATE sessions
			SET state = ?, stalled_since = NULL
			WHERE agent_name = ?`, string(newState), name)
	default:
		_, err = tx.ExecContext(ctx, `UPDATE sessions
			SET state = ?, stalled_since = NULL
			WHERE agent_name = ?`, string(newState), name)
	}
	if err != nil {
		return protocol.NewStoreError("write state transition", err)
	}
	if err := tx.Commit(); err != nil {
		return protocol.NewStoreError("commit state transition", err)
	}
	return nil
}

// UpdateLastActivity touches the activity timestamp for the named agent.
func (s *Store) UpdateLastActivity(ctx context.Context, name string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ? WHERE agent_name = ?`,
		db.FormatTime(s.nowFunc()), name)
	if err != nil {
		return protocol.NewStoreError("touch last_activity", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return protocol.NewAgentError(name, "session not found", nil)
	}
	return nil
}

// UpdateEscalation sets the escalation level and stalled_since timestamp.
// Level decreases are rejected: the ladder only climbs while a session is
// non-terminal. stalledSince may be nil to leave the column untouched.
func (s *Store) UpdateEscalation(ctx context.Context, name string, level int, stalledSince *time.Time) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return protocol.NewStoreError("begin escalation tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.QueryRowContext(ctx,
		`SELECT escalation_level FROM sessions WHERE agent_name = ?`, name).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.NewAgentError(name, "session not found", nil)
	}
	if err != nil {
		return protocol.NewStoreError("read escalation level", err)
	}

	if level < current {
		return protocol.NewLifecycleError(
			fmt.Sprintf("escalation level cannot decrease (%d -> %d)", current, level),
			map[string]string{"agent": name})
	}

	if stalledSince != nil {
		_, err = tx.ExecContext(ctx, `UPDATE sessions
			SET escalation_level = ?, stalled_since = ? WHERE agent_name = ?`,
			level, db.FormatTime(*stalledSince), name)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE sessions
			SET escalation_level = ? WHERE agent_name = ?`, level, name)
	}
	if err != nil {
		return protocol.NewStoreError("write escalation level", err)
	}
	if err := tx.Commit(); err != nil {
		return protocol.NewStoreError("commit escalation level", err)
	}
	return nil
}

// Remove deletes the named session row.
func (s *Store) Remove(ctx context.Context, name string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM sessions WHERE agent_name = ?`, name)
	if err != nil {
		return protocol.NewStoreError("remove session "+name, err)
	}
	return nil
}

// PurgeByState deletes all sessions in the given state and returns the count.
func (s *Store) PurgeByState(ctx context.Context, st protocol.SessionState) (int64, error) {
	return s.purge(ctx, `DELETE FROM sessions WHERE state = ?`, string(st))
}

// PurgeByAgent deletes the named session and returns the count (0 or 1).
func (s *Store) PurgeByAgent(ctx context.Context, name string) (int64, error) {
	return s.purge(ctx, `DELETE FROM sessions WHERE agent_name = ?`, name)
}

// PurgeAll deletes every session and returns the count.
func (s *Store) PurgeAll(ctx context.Context) (int64, error) {
	return s.purge(ctx, `DELETE FROM sessions`)
}

func (s *Store) purge(ctx context.Context, q string, args ...any) (int64, error) {
	res, err := s.conn.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, protocol.NewStoreError("purge sessions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, protocol.NewStoreError("purge rows affected", err)
	}
	return n, nil
}
