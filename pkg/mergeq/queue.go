// Package mergeq is the durable FIFO queue of agent branches awaiting
// integration. Entries are popped in insert order; the resolver owns status
// updates from merging onward.
package mergeq

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"overstory/pkg/db"
	"overstory/pkg/protocol"
)

// schemaDDL defines the merge queue. FIFO order is the auto-increment id.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS merge_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    branch TEXT NOT NULL UNIQUE,
    task_id TEXT NOT NULL DEFAULT '',
    agent_name TEXT NOT NULL DEFAULT '',
    files TEXT NOT NULL DEFAULT '[]',
    status TEXT NOT NULL DEFAULT 'pending',
    resolved_tier TEXT,
    enqueued_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_merge_queue_status ON merge_queue(status, id);
`

// Entry is one queued branch.
type Entry struct {
	ID           int64
	Branch       string
	TaskID       string
	AgentName    string
	Files        []string
	Status       protocol.MergeStatus
	ResolvedTier *protocol.Tier
	EnqueuedAt   time.Time
}

// Queue wraps the merge-queue database.
type Queue struct {
	conn    *sql.DB
	nowFunc func() time.Time
}

// Open opens (or creates) the merge queue at path and applies the schema.
func Open(path string) (*Queue, error) {
	conn, err := db.Open(path)
	if err != nil {
		return nil, protocol.NewStoreError("open merge queue", err)
	}
	if _, err := conn.Exec(schemaDDL); err != nil {
		conn.Close()
		return nil, protocol.NewStoreError("apply merge queue schema", err)
	}
	return &Queue{conn: conn, nowFunc: time.Now}, nil
}

// SetNowFunc overrides the clock. Tests only.
func (q *Queue) SetNowFunc(f func() time.Time) { q.nowFunc = f }

// Close checkpoints the WAL and closes the connection.
func (q *Queue) Close() error { return db.Close(q.conn) }

// Enqueue appends a pending entry for the branch. A branch may appear at
// most once; re-enqueueing an existing branch is rejected.
func (q *Queue) Enqueue(ctx context.Context, e Entry) (Entry, error) {
	if e.Branch == "" {
		return Entry{}, protocol.NewValidationError("merge entry needs a branch", nil)
	}
	e.Status = protocol.MergePending
	e.ResolvedTier = nil
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = q.nowFunc()
	}
	files, err := json.Marshal(emptyIfNil(e.Files))
	if err != nil {
		return Entry{}, protocol.NewMergeError(e.Branch, "", "marshal file list", err)
	}

	res, err := q.conn.ExecContext(ctx, `
		INSERT INTO merge_queue (branch, task_id, agent_name, files, status, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Branch, e.TaskID, e.AgentName, string(files),
		string(e.Status), db.FormatTime(e.EnqueuedAt))
	if err != nil {
		return Entry{}, protocol.NewMergeError(e.Branch, "", "enqueue", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return Entry{}, protocol.NewStoreError("enqueue insert id", err)
	}
	return e, nil
}

// Dequeue pops the FIFO-head pending entry, atomically flipping it to
// merging. Returns nil when the queue has no pending work.
func (q *Queue) Dequeue(ctx context.Context) (*Entry, error) {
	tx, err := q.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, protocol.NewStoreError("begin dequeue", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	row := tx.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM merge_queue
		WHERE status = ? ORDER BY id ASC LIMIT 1`,
		string(protocol.MergePending))
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, protocol.NewStoreError("dequeue head", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE merge_queue SET status = ? WHERE id = ?`,
		string(protocol.MergeMerging), entry.ID); err != nil {
		return nil, protocol.NewStoreError("mark merging", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, protocol.NewStoreError("commit dequeue", err)
	}
	entry.Status = protocol.MergeMerging
	return &entry, nil
}

// Peek returns the FIFO-head pending entry without claiming it, or nil.
func (q *Queue) Peek(ctx context.Context) (*Entry, error) {
	row := q.conn.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM merge_queue
		WHERE status = ? ORDER BY id ASC LIMIT 1`,
		string(protocol.MergePending))
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, protocol.NewStoreError("peek", err)
	}
	return &entry, nil
}

// List returns entries in FIFO order, optionally filtered by status.
func (q *Queue) List(ctx context.Context, status protocol.MergeStatus) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM merge_queue`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id ASC`

	rows, err := q.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, protocol.NewStoreError("list merge queue", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, protocol.NewStoreError("scan merge entry", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, protocol.NewStoreError("iterate merge queue", err)
	}
	return out, nil
}

// GetByBranch returns the entry for the branch.
func (q *Queue) GetByBranch(ctx context.Context, branch string) (Entry, error) {
	row := q.conn.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM merge_queue WHERE branch = ?`, branch)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, protocol.NewMergeError(branch, "", "entry not found", nil)
	}
	if err != nil {
		return Entry{}, protocol.NewStoreError("get merge entry", err)
	}
	return entry, nil
}

// UpdateStatus records the branch's new status, stamping the resolving tier
// on terminal outcomes.
func (q *Queue) UpdateStatus(ctx context.Context, branch string, status protocol.MergeStatus, tier *protocol.Tier) error {
	var tierVal any
	if tier != nil {
		tierVal = string(*tier)
	}
	res, err := q.conn.ExecContext(ctx, `
		UPDATE merge_queue SET status = ?, resolved_tier = ? WHERE branch = ?`,
		string(status), tierVal, branch)
	if err != nil {
		return protocol.NewStoreError("update merge status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return protocol.NewMergeError(branch, "", "entry not found", nil)
	}
	return nil
}

// Remove deletes the branch's entry.
func (q *Queue) Remove(ctx context.Context, branch string) error {
	res, err := q.conn.ExecContext(ctx,
		`DELETE FROM merge_queue WHERE branch = ?`, branch)
	if err != nil {
		return protocol.NewStoreError("remove merge entry", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return protocol.NewMergeError(branch, "", "entry not found", nil)
	}
	return nil
}

const entryColumns = `id, branch, task_id, agent_name, files, status,
	resolved_tier, enqueued_at`

func scanEntry(row interface{ Scan(...any) error }) (Entry, error) {
	var (
		e          Entry
		files      string
		status     string
		tier       sql.NullString
		enqueuedAt string
	)
	err := row.Scan(&e.ID, &e.Branch, &e.TaskID, &e.AgentName, &files,
		&status, &tier, &enqueuedAt)
	if err != nil {
		return Entry{}, err
	}
	if err := json.Unmarshal([]byte(files), &e.Files); err != nil {
		return Entry{}, err
	}
	e.Status = protocol.MergeStatus(status)
	if tier.Valid {
		t := protocol.Tier(tier.String)
		e.ResolvedTier = &t
	}
	if e.EnqueuedAt, err = db.ParseTime(enqueuedAt); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func emptyIfNil(files []string) []string {
	if files == nil {
		return []string{}
	}
	return files
}
