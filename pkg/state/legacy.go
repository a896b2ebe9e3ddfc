package state

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"overstory/pkg/protocol"
)

// legacySession mirrors the flat-file JSON session format used before the
// SQLite store existed.
type legacySession struct {
	Name         string `json:"agent_name"`
	Capability   string `json:"capability"`
	WorktreePath string `json:"worktree_path"`
	Branch       string `json:"branch"`
	TaskID       string `json:"task_id"`
	Pane         string `json:"pane"`
	State        string `json:"state"`
	PID          *int   `json:"pid"`
	Parent       string `json:"parent"`
	Depth        int    `json:"depth"`
	StartedAt    string `json:"started_at"`
	LastActivity string `json:"last_activity"`
}

const migratedKey = "legacy_migrated"

// importLegacy imports the legacy flat file once, on the first open of a
// fresh schema. Returns true when an import actually ran. Rows that fail
// validation are skipped rather than aborting the migration; a partly-usable
// store beats no store on upgrade.
func (s *Store) importLegacy(ctx context.Context, legacyPath string) (bool, error) {
	if legacyPath == "" {
		return false, nil
	}

	var flag string
	err := s.conn.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = ?`, migratedKey).Scan(&flag)
	if err == nil && flag == "true" {
		return false, nil
	}

	data, err := os.ReadFile(legacyPath) //nolint:gosec // path comes from the state dir config
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, protocol.NewStoreError("read legacy sessions file", err)
	}

	var rows []legacySession
	if err := json.Unmarshal(data, &rows); err != nil {
		return false, protocol.NewStoreError("parse legacy sessions file", err)
	}

	for _, r := range rows {
		sess := Session{
			Name:         r.Name,
			Capability:   protocol.Capability(r.Capability),
			WorktreePath: r.WorktreePath,
			Branch:       r.Branch,
			TaskID:       r.TaskID,
			Pane:         r.Pane,
			State:        protocol.SessionState(r.State),
			PID:          r.PID,
			Parent:       r.Parent,
			Depth:        r.Depth,
		}
		if t, err := time.Parse(time.RFC3339, r.StartedAt); err == nil {
			sess.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339, r.LastActivity); err == nil {
			sess.LastActivity = t
		}
		if sess.State == protocol.StateStalled {
			// Legacy files predate stall tracking; stamp now to keep the
			// stalled/stalled_since invariant.
			now := s.nowFunc()
			sess.StalledSince = &now
		}
		if err := s.Upsert(ctx, sess); err != nil {
			continue
		}
	}

	_, err = s.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')`, migratedKey)
	if err != nil {
		return false, protocol.NewStoreError("mark legacy migration", err)
	}
	return true, nil
}
