package mail

// schemaDDL defines the mail database: one row per delivered message. Group
// addresses are fanned out to individual rows before insertion, so `recipient`
// is always a single agent name. Execute on every open; CREATE IF NOT EXISTS
// keeps it idempotent.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    sender TEXT NOT NULL,
    recipient TEXT NOT NULL,
    subject TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    msg_type TEXT NOT NULL DEFAULT 'status',
    priority TEXT NOT NULL DEFAULT 'normal',
    thread_id TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL DEFAULT '',
    read INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient, read, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
`
