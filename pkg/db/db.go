// Package db opens the overstory SQLite stores with production-safe
// defaults. All four stores (sessions, mail, events, merge queue) share the
// same pragmas: WAL journaling and a 5-second busy timeout.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver
)

// Open opens a SQLite database at path, verifies the connection, and applies
// WAL mode plus a 5-second busy timeout.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	ctx := context.Background()

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}

	if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}

	return conn, nil
}

// Close checkpoints the WAL into the main database file and closes the
// connection. Safe to call on an already-closed handle.
func Close(conn *sql.DB) error {
	if conn == nil {
		return nil
	}
	// Best-effort checkpoint; a locked sibling reader must not turn close
	// into a failure.
	_, _ = conn.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)")
	if err := conn.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
