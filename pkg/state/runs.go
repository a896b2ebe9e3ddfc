package state

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"overstory/pkg/db"
	"overstory/pkg/protocol"
)

// Run groups agent sessions under a single coordinator activity.
type Run struct {
	ID          string
	Status      string // active | completed
	AgentCount  int
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Run status constants.
const (
	RunActive    = "active"
	RunCompleted = "completed"
)

// CreateRun inserts a new active run and returns it. At most one run may be
// active at a time; a second create while one is active is rejected.
func (s *Store) CreateRun(ctx context.Context) (Run, error) {
	if active, err := s.GetActiveRun(ctx); err != nil {
		return Run{}, err
	} else if active != nil {
		return Run{}, protocol.NewLifecycleError("a run is already active",
			map[string]string{"run_id": active.ID})
	}

	run := Run{
		ID:        uuid.NewString(),
		Status:    RunActive,
		CreatedAt: s.nowFunc(),
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO runs (run_id, status, agent_count, created_at)
		VALUES (?, ?, 0, ?)`,
		run.ID, run.Status, db.FormatTime(run.CreatedAt))
	if err != nil {
		return Run{}, protocol.NewStoreError("create run", err)
	}
	return run, nil
}

// GetRun returns the run with the given id.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT run_id, status, agent_count, created_at, completed_at
		FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, protocol.NewLifecycleError("run not found",
			map[string]string{"run_id": runID})
	}
	if err != nil {
		return Run{}, protocol.NewStoreError("get run", err)
	}
	return run, nil
}

// GetActiveRun returns the single active run, or nil when none is active.
func (s *Store) GetActiveRun(ctx context.Context) (*Run, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT run_id, status, agent_count, created_at, completed_at
		FROM runs WHERE status = ? ORDER BY created_at DESC LIMIT 1`, RunActive)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, protocol.NewStoreError("get active run", err)
	}
	return &run, nil
}

// ListRuns returns the most recent runs, newest first, capped at limit
// (limit <= 0 means no cap).
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT run_id, status, agent_count, created_at, completed_at
		FROM runs ORDER BY created_at DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.conn.QueryContext(ctx, q+` LIMIT ?`, limit)
	} else {
		rows, err = s.conn.QueryContext(ctx, q)
	}
	if err != nil {
		return nil, protocol.NewStoreError("list runs", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, protocol.NewStoreError("scan run", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, protocol.NewStoreError("iterate runs", err)
	}
	return out, nil
}

// IncrementAgentCount bumps the run's active-agent counter.
func (s *Store) IncrementAgentCount(ctx context.Context, runID string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE runs SET agent_count = agent_count + 1 WHERE run_id = ?`, runID)
	if err != nil {
		return protocol.NewStoreError("increment agent count", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return protocol.NewLifecycleError("run not found",
			map[string]string{"run_id": runID})
	}
	return nil
}

// CompleteRun marks the run completed, stamping completed_at atomically with
// the status change.
func (s *Store) CompleteRun(ctx context.Context, runID string) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE runs SET status = ?, completed_at = ?
		WHERE run_id = ? AND status = ?`,
		RunCompleted, db.FormatTime(s.nowFunc()), runID, RunActive)
	if err != nil {
		return protocol.NewStoreError("complete run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return protocol.NewLifecycleError("run not found or not active",
			map[string]string{"run_id": runID})
	}
	return nil
}

func scanRun(row interface{ Scan(...any) error }) (Run, error) {
	var (
		run         Run
		createdAt   string
		completedAt sql.NullString
	)
	err := row.Scan(&run.ID, &run.Status, &run.AgentCount, &createdAt, &completedAt)
	if err != nil {
		return Run{}, err
	}
	if run.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return Run{}, err
	}
	if completedAt.Valid {
		t, err := db.ParseTime(completedAt.String)
		if err != nil {
			return Run{}, err
		}
		run.CompletedAt = &t
	}
	return run, nil
}
