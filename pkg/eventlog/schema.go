package eventlog

// schemaDDL defines the events database: an insert-only event stream plus
// per-session metrics and periodic token snapshots. Execute on every open;
// CREATE IF NOT EXISTS keeps it idempotent.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL DEFAULT '',
    agent_name TEXT NOT NULL,
    session_id TEXT NOT NULL DEFAULT '',
    event_kind TEXT NOT NULL,
    tool_name TEXT NOT NULL DEFAULT '',
    tool_args TEXT NOT NULL DEFAULT '',
    tool_duration_ms INTEGER,
    level TEXT NOT NULL DEFAULT 'info',
    payload TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_agent ON events(agent_name, created_at);
CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, created_at);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(event_kind, created_at);
CREATE INDEX IF NOT EXISTS idx_events_tool ON events(tool_name, agent_name);
CREATE INDEX IF NOT EXISTS idx_events_errors ON events(created_at) WHERE level = 'error';

CREATE TABLE IF NOT EXISTS session_metrics (
    agent_name TEXT NOT NULL,
    task_id TEXT NOT NULL,
    run_id TEXT NOT NULL DEFAULT '',
    tool_calls INTEGER NOT NULL DEFAULT 0,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    outcome TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    PRIMARY KEY (agent_name, task_id)
);

CREATE TABLE IF NOT EXISTS token_snapshots (
    agent_name TEXT NOT NULL,
    created_at TEXT NOT NULL,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    context_used INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (agent_name, created_at)
);
`
