package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"overstory/pkg/protocol"
)

// ActiveAgent is the slice of session data group resolution needs.
type ActiveAgent struct {
	Name       string
	Capability protocol.Capability
}

// Directory lists currently active agents. The session store satisfies this
// through a small adapter; tests supply a literal slice.
type Directory interface {
	ActiveAgents(ctx context.Context) ([]ActiveAgent, error)
}

// DirectoryFunc adapts a function to the Directory interface.
type DirectoryFunc func(ctx context.Context) ([]ActiveAgent, error)

// ActiveAgents implements Directory.
func (f DirectoryFunc) ActiveAgents(ctx context.Context) ([]ActiveAgent, error) {
	return f(ctx)
}

// groupCapabilities maps group addresses to the capability they select.
// @all is handled separately.
var groupCapabilities = map[string]protocol.Capability{
	"@builders":  protocol.CapBuilder,
	"@scouts":    protocol.CapScout,
	"@reviewers": protocol.CapReviewer,
	"@mergers":   protocol.CapMerger,
	"@leads":     protocol.CapLead,
}

// Client layers send/check/reply semantics over the raw store.
type Client struct {
	store *Store
	dir   Directory
}

// NewClient returns a mail client backed by the store. dir may be nil when
// group addresses are never used (replies and direct sends still work).
func NewClient(store *Store, dir Directory) *Client {
	return &Client{store: store, dir: dir}
}

// Send delivers the message, resolving a leading-@ recipient into one row
// per live group member (sender excluded). Returns the inserted ids; a group
// that resolves to nobody is a no-op with an empty list.
func (c *Client) Send(ctx context.Context, m Message) ([]string, error) {
	recipients, err := c.resolve(ctx, m.From, m.To)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(recipients))
	for _, to := range recipients {
		row := m
		row.ID = ""
		row.To = to
		id, err := c.store.Insert(ctx, row)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SendProtocol serializes a typed payload into the payload column and sends
// with the given message type.
func (c *Client) SendProtocol(ctx context.Context, m Message, msgType protocol.MessageType, payload any) ([]string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, protocol.NewMailError("", "marshal protocol payload", err)
	}
	m.Type = msgType
	m.Payload = string(data)
	return c.Send(ctx, m)
}

// Check fetches the agent's unread mail and marks every returned message
// read in the same transaction, so two concurrent checkers never both see a
// message as unread.
func (c *Client) Check(ctx context.Context, agent string) ([]Message, error) {
	tx, err := c.store.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, protocol.NewStoreError("begin check", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	rows, err := tx.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE recipient = ? AND read = 0
		ORDER BY created_at ASC, id ASC`, agent)
	if err != nil {
		return nil, protocol.NewStoreError("check unread", err)
	}
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, protocol.NewStoreError("scan message", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, protocol.NewStoreError("iterate unread", err)
	}
	rows.Close()

	for i := range out {
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET read = 1 WHERE id = ?`, out[i].ID); err != nil {
			return nil, protocol.NewStoreError("mark checked read", err)
		}
		out[i].Read = true
	}
	if err := tx.Commit(); err != nil {
		return nil, protocol.NewStoreError("commit check", err)
	}
	return out, nil
}

// CheckInject is Check formatted as a single block for injection into an
// agent's context. Returns "" when the mailbox is empty.
func (c *Client) CheckInject(ctx context.Context, agent string) (string, error) {
	msgs, err := c.Check(ctx, agent)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You have %d new message(s):\n", len(msgs))
	for i, m := range msgs {
		fmt.Fprintf(&b, "\n[%d] from %s (%s", i+1, m.From, m.Type)
		if m.Priority != protocol.PriorityNormal {
			fmt.Fprintf(&b, ", %s", m.Priority)
		}
		b.WriteString(")\n")
		if m.Subject != "" {
			fmt.Fprintf(&b, "subject: %s\n", m.Subject)
		}
		if m.Body != "" {
			b.WriteString(m.Body)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// Reply sends body back to the original message's sender, threading onto the
// original's thread root.
func (c *Client) Reply(ctx context.Context, messageID, body, from string) (string, error) {
	orig, err := c.store.GetByID(ctx, messageID)
	if err != nil {
		return "", err
	}
	threadID := orig.ThreadID
	if threadID == "" {
		threadID = orig.ID
	}
	return c.store.Insert(ctx, Message{
		From:     from,
		To:       orig.From,
		Subject:  replySubject(orig.Subject),
		Body:     body,
		Type:     orig.Type,
		Priority: orig.Priority,
		ThreadID: threadID,
	})
}

// resolve expands a group address into live member names, excluding the
// sender. Non-group recipients pass through untouched.
func (c *Client) resolve(ctx context.Context, sender, to string) ([]string, error) {
	if !strings.HasPrefix(to, "@") {
		return []string{to}, nil
	}
	if c.dir == nil {
		return nil, protocol.NewValidationError("group address with no agent directory",
			map[string]string{"to": to})
	}

	wantCap, known := groupCapabilities[to]
	if to != "@all" && !known {
		return nil, protocol.NewValidationError("unknown group address",
			map[string]string{"to": to})
	}

	agents, err := c.dir.ActiveAgents(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, a := range agents {
		if a.Name == sender {
			continue
		}
		if to == "@all" || a.Capability == wantCap {
			out = append(out, a.Name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func replySubject(subject string) string {
	if subject == "" || strings.HasPrefix(subject, "Re: ") {
		return subject
	}
	return "Re: " + subject
}
