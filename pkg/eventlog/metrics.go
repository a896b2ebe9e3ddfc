package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"overstory/pkg/db"
	"overstory/pkg/protocol"
)

// SessionMetrics summarizes one completed task attempt by an agent. Rows are
// upsert-replace keyed on (agent_name, task_id): a retried task overwrites
// the earlier attempt's numbers.
type SessionMetrics struct {
	AgentName    string
	TaskID       string
	RunID        string
	ToolCalls    int
	InputTokens  int64
	OutputTokens int64
	DurationMS   int64
	Outcome      string
	CreatedAt    time.Time
}

// TokenSnapshot is a periodic usage sample taken while an agent is running.
// Insert-only; the series for an agent shows context growth over time.
type TokenSnapshot struct {
	AgentName    string
	CreatedAt    time.Time
	InputTokens  int64
	OutputTokens int64
	ContextUsed  int64
}

// UpsertMetrics records (or replaces) the metrics row for the agent's task.
func (s *Store) UpsertMetrics(ctx context.Context, m SessionMetrics) error {
	if m.AgentName == "" || m.TaskID == "" {
		return protocol.NewValidationError("metrics need agent and task",
			map[string]string{"agent": m.AgentName, "task_id": m.TaskID})
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.nowFunc()
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO session_metrics
			(agent_name, task_id, run_id, tool_calls, input_tokens,
			 output_tokens, duration_ms, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.AgentName, m.TaskID, m.RunID, m.ToolCalls, m.InputTokens,
		m.OutputTokens, m.DurationMS, m.Outcome, db.FormatTime(m.CreatedAt))
	if err != nil {
		return protocol.NewStoreError("upsert session metrics", err)
	}
	return nil
}

// GetMetrics returns the metrics row for (agent, task), or ok=false.
func (s *Store) GetMetrics(ctx context.Context, agent, taskID string) (SessionMetrics, bool, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT agent_name, task_id, run_id, tool_calls, input_tokens,
		       output_tokens, duration_ms, outcome, created_at
		FROM session_metrics WHERE agent_name = ? AND task_id = ?`, agent, taskID)

	var (
		m         SessionMetrics
		createdAt string
	)
	err := row.Scan(&m.AgentName, &m.TaskID, &m.RunID, &m.ToolCalls,
		&m.InputTokens, &m.OutputTokens, &m.DurationMS, &m.Outcome, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionMetrics{}, false, nil
	}
	if err != nil {
		return SessionMetrics{}, false, protocol.NewStoreError("get session metrics", err)
	}
	if m.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return SessionMetrics{}, false, protocol.NewStoreError("parse metrics time", err)
	}
	return m, true, nil
}

// MetricsByRun returns every metrics row tagged with the run, newest first.
func (s *Store) MetricsByRun(ctx context.Context, runID string) ([]SessionMetrics, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT agent_name, task_id, run_id, tool_calls, input_tokens,
		       output_tokens, duration_ms, outcome, created_at
		FROM session_metrics WHERE run_id = ?
		ORDER BY created_at DESC`, runID)
	if err != nil {
		return nil, protocol.NewStoreError("metrics by run", err)
	}
	defer rows.Close()

	var out []SessionMetrics
	for rows.Next() {
		var (
			m         SessionMetrics
			createdAt string
		)
		if err := rows.Scan(&m.AgentName, &m.TaskID, &m.RunID, &m.ToolCalls,
			&m.InputTokens, &m.OutputTokens, &m.DurationMS, &m.Outcome, &createdAt); err != nil {
			return nil, protocol.NewStoreError("scan metrics", err)
		}
		if m.CreatedAt, err = db.ParseTime(createdAt); err != nil {
			return nil, protocol.NewStoreError("parse metrics time", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, protocol.NewStoreError("iterate metrics", err)
	}
	return out, nil
}

// InsertSnapshot appends one token snapshot for the agent.
func (s *Store) InsertSnapshot(ctx context.Context, snap TokenSnapshot) error {
	if snap.AgentName == "" {
		return protocol.NewValidationError("snapshot missing agent name", nil)
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = s.nowFunc()
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO token_snapshots
			(agent_name, created_at, input_tokens, output_tokens, context_used)
		VALUES (?, ?, ?, ?, ?)`,
		snap.AgentName, db.FormatTime(snap.CreatedAt),
		snap.InputTokens, snap.OutputTokens, snap.ContextUsed)
	if err != nil {
		return protocol.NewStoreError("insert token snapshot", err)
	}
	return nil
}

// SnapshotsByAgent returns the agent's snapshots in chronological order.
func (s *Store) SnapshotsByAgent(ctx context.Context, agent string) ([]TokenSnapshot, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT agent_name, created_at, input_tokens, output_tokens, context_used
		FROM token_snapshots WHERE agent_name = ?
		ORDER BY created_at ASC`, agent)
	if err != nil {
		return nil, protocol.NewStoreError("snapshots by agent", err)
	}
	defer rows.Close()

	var out []TokenSnapshot
	for rows.Next() {
		var (
			snap      TokenSnapshot
			createdAt string
		)
		if err := rows.Scan(&snap.AgentName, &createdAt,
			&snap.InputTokens, &snap.OutputTokens, &snap.ContextUsed); err != nil {
			return nil, protocol.NewStoreError("scan snapshot", err)
		}
		if snap.CreatedAt, err = db.ParseTime(createdAt); err != nil {
			return nil, protocol.NewStoreError("parse snapshot time", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, protocol.NewStoreError("iterate snapshots", err)
	}
	return out, nil
}
