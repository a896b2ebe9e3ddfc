package state

// schemaDDL defines the sessions database: one row per agent session plus a
// runs table grouping sessions under a coordinator activity. Execute on every
// open; CREATE IF NOT EXISTS keeps it idempotent.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS sessions (
    agent_name TEXT PRIMARY KEY,
    capability TEXT NOT NULL,
    worktree_path TEXT NOT NULL DEFAULT '',
    branch TEXT NOT NULL DEFAULT '',
    task_id TEXT NOT NULL DEFAULT '',
    pane TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL DEFAULT 'booting',
    pid INTEGER,
    parent TEXT NOT NULL DEFAULT '',
    depth INTEGER NOT NULL DEFAULT 0,
    run_id TEXT NOT NULL DEFAULT '',
    started_at TEXT NOT NULL,
    last_activity TEXT NOT NULL,
    stalled_since TEXT,
    escalation_level INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
CREATE INDEX IF NOT EXISTS idx_sessions_run ON sessions(run_id);

CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'active',
    agent_count INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    completed_at TEXT
);

CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// migrations are idempotent column adds for databases created by earlier
// versions. ALTER TABLE errors when the column already exists; errors are
// intentionally ignored (try/ignore pattern).
var migrations = []string{
	`ALTER TABLE sessions ADD COLUMN run_id TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE sessions ADD COLUMN stalled_since TEXT`,
	`ALTER TABLE sessions ADD COLUMN escalation_level INTEGER NOT NULL DEFAULT 0`,
}
