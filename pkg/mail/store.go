// Package mail is the durable inter-agent mailbox. Messages are single-
// recipient rows in a SQLite database under the state directory; the Client
// layer adds group fan-out, reply threading, and atomic read-and-mark on top
// of the raw store.
package mail

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"overstory/pkg/db"
	"overstory/pkg/protocol"
)

// Message is one delivered mail row.
type Message struct {
	ID        string
	From      string
	To        string
	Subject   string
	Body      string
	Type      protocol.MessageType
	Priority  protocol.Priority
	ThreadID  string
	Payload   string
	Read      bool
	CreatedAt time.Time
}

// Filter narrows GetAll. Zero values mean no constraint.
type Filter struct {
	From   string
	To     string
	Unread bool
	Limit  int
}

// Store wraps the mail database.
type Store struct {
	conn    *sql.DB
	nowFunc func() time.Time
}

// Open opens (or creates) the mail database at path and applies the schema.
func Open(path string) (*Store, error) {
	conn, err := db.Open(path)
	if err != nil {
		return nil, protocol.NewStoreError("open mail db", err)
	}
	if _, err := conn.Exec(schemaDDL); err != nil {
		conn.Close()
		return nil, protocol.NewStoreError("apply mail schema", err)
	}
	return &Store{conn: conn, nowFunc: time.Now}, nil
}

// SetNowFunc overrides the clock. Tests only.
func (s *Store) SetNowFunc(f func() time.Time) { s.nowFunc = f }

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error { return db.Close(s.conn) }

// Insert stores one message and returns its id. A missing id and CreatedAt
// are generated; Type and Priority default to status/normal.
func (s *Store) Insert(ctx context.Context, m Message) (string, error) {
	if m.From == "" || m.To == "" {
		return "", protocol.NewValidationError("message needs sender and recipient",
			map[string]string{"from": m.From, "to": m.To})
	}
	if strings.HasPrefix(m.To, "@") {
		return "", protocol.NewMailError(m.ID,
			"group address reached the store unresolved", nil)
	}
	if m.ID == "" {
		m.ID = protocol.NewMessageID()
	}
	if m.Type == "" {
		m.Type = protocol.MsgStatus
	}
	if m.Priority == "" {
		m.Priority = protocol.PriorityNormal
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.nowFunc()
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO messages
			(id, sender, recipient, subject, body, msg_type, priority,
			 thread_id, payload, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.From, m.To, m.Subject, m.Body, string(m.Type),
		string(m.Priority), m.ThreadID, m.Payload, boolToInt(m.Read),
		db.FormatTime(m.CreatedAt))
	if err != nil {
		return "", protocol.NewStoreError("insert message", err)
	}
	return m.ID, nil
}

const messageColumns = `id, sender, recipient, subject, body, msg_type,
	priority, thread_id, payload, read, created_at`

// GetUnread returns the agent's unread messages, oldest first.
func (s *Store) GetUnread(ctx context.Context, agent string) ([]Message, error) {
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE recipient = ? AND read = 0
		ORDER BY created_at ASC, id ASC`, agent)
}

// GetAll returns messages matching the filter, newest first.
func (s *Store) GetAll(ctx context.Context, f Filter) ([]Message, error) {
	var conditions []string
	var args []any
	if f.From != "" {
		conditions = append(conditions, "sender = ?")
		args = append(args, f.From)
	}
	if f.To != "" {
		conditions = append(conditions, "recipient = ?")
		args = append(args, f.To)
	}
	if f.Unread {
		conditions = append(conditions, "read = 0")
	}

	q := `SELECT ` + messageColumns + ` FROM messages`
	if len(conditions) > 0 {
		q += " WHERE " + strings.Join(conditions, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return s.queryMessages(ctx, q, args...)
}

// GetByID returns a single message.
func (s *Store) GetByID(ctx context.Context, id string) (Message, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, protocol.NewMailError(id, "message not found", nil)
	}
	if err != nil {
		return Message{}, protocol.NewStoreError("get message", err)
	}
	return m, nil
}

// GetByThread returns every message in the thread in chronological order.
func (s *Store) GetByThread(ctx context.Context, threadID string) ([]Message, error) {
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE thread_id = ? OR id = ?
		ORDER BY created_at ASC, id ASC`, threadID, threadID)
}

// MarkRead flags one message as read.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE messages SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return protocol.NewStoreError("mark message read", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return protocol.NewMailError(id, "message not found", nil)
	}
	return nil
}

// PurgeByAge deletes messages older than the cutoff and returns the count.
func (s *Store) PurgeByAge(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.nowFunc().Add(-olderThan)
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM messages WHERE created_at < ?`, db.FormatTime(cutoff))
	if err != nil {
		return 0, protocol.NewStoreError("purge mail by age", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeByAgent deletes every message sent to or from the agent.
func (s *Store) PurgeByAgent(ctx context.Context, agent string) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM messages WHERE recipient = ? OR sender = ?`, agent, agent)
	if err != nil {
		return 0, protocol.NewStoreError("purge mail by agent", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeAll truncates the mailbox and returns the count.
func (s *Store) PurgeAll(ctx context.Context) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM messages`)
	if err != nil {
		return 0, protocol.NewStoreError("purge all mail", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, protocol.NewStoreError("query messages", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, protocol.NewStoreError("scan message", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, protocol.NewStoreError("iterate messages", err)
	}
	return out, nil
}

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var (
		m         Message
		msgType   string
		priority  string
		read      int
		createdAt string
	)
	err := row.Scan(&m.ID, &m.From, &m.To, &m.Subject, &m.Body, &msgType,
		&priority, &m.ThreadID, &m.Payload, &read, &createdAt)
	if err != nil {
		return Message{}, err
	}
	m.Type = protocol.MessageType(msgType)
	m.Priority = protocol.Priority(priority)
	m.Read = read != 0
	if m.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return Message{}, err
	}
	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
