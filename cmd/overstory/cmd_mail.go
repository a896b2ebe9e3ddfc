package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"overstory/pkg/mail"
	"overstory/pkg/protocol"
)

// sessionDirectory resolves @group addresses against the session store. The
// store is opened lazily so plain direct sends never touch sessions.db.
func sessionDirectory() mail.Directory {
	return mail.DirectoryFunc(func(ctx context.Context) ([]mail.ActiveAgent, error) {
		store, err := openSessions()
		if err != nil {
			return nil, err
		}
		defer store.Close()
		sessions, err := store.GetActive(ctx)
		if err != nil {
			return nil, err
		}
		agents := make([]mail.ActiveAgent, 0, len(sessions))
		for _, s := range sessions {
			agents = append(agents, mail.ActiveAgent{Name: s.Name, Capability: s.Capability})
		}
		return agents, nil
	})
}

func truncateBody(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// formatMailTable formats messages as a tabular string.
func formatMailTable(msgs []mail.Message) string {
	if len(msgs) == 0 {
		return "No mail.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-14s %-14s %-14s %-8s %-3s %-30s %s\n",
		"ID", "FROM", "TO", "PRIORITY", "R", "SUBJECT", "CREATED")
	for _, m := range msgs {
		read := " "
		if m.Read {
			read = "*"
		}
		fmt.Fprintf(&b, "%-14s %-14s %-14s %-8s %-3s %-30s %s\n",
			truncateBody(m.ID, 12), m.From, m.To, m.Priority, read,
			truncateBody(m.Subject, 28), m.CreatedAt.Format(time.RFC3339))
	}
	return b.String()
}

// mailRow is the JSON shape of one message.
type mailRow struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body,omitempty"`
	Type      string    `json:"type"`
	Priority  string    `json:"priority"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

func mailRows(msgs []mail.Message) []mailRow {
	rows := make([]mailRow, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, mailRow{
			ID: m.ID, From: m.From, To: m.To, Subject: m.Subject, Body: m.Body,
			Type: string(m.Type), Priority: string(m.Priority),
			ThreadID: m.ThreadID, Read: m.Read, CreatedAt: m.CreatedAt,
		})
	}
	return rows
}

func printMail(cmd *cobra.Command, msgs []mail.Message) error {
	if jsonOutput {
		data, err := json.Marshal(mailRows(msgs))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), formatMailTable(msgs))
	return nil
}

// newMailSendCmd creates "overstory mail send".
func newMailSendCmd() *cobra.Command {
	var from, to, subject, body, priority, thread string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message",
		Long:  "Delivers a message to an agent or an @group address (@all, @builders, @scouts, @reviewers, @mergers, @leads).",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openMail()
			if err != nil {
				return err
			}
			defer store.Close()

			client := mail.NewClient(store, sessionDirectory())
			ids, err := client.Send(cmd.Context(), mail.Message{
				From:     from,
				To:       to,
				Subject:  subject,
				Body:     body,
				Type:     protocol.MsgStatus,
				Priority: protocol.Priority(priority),
				ThreadID: thread,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				data, err := json.Marshal(map[string]any{"delivered": ids})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "delivered %d message(s)\n", len(ids))
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "sender agent name")
	cmd.Flags().StringVar(&to, "to", "", "recipient agent or @group")
	cmd.Flags().StringVar(&subject, "subject", "", "message subject")
	cmd.Flags().StringVar(&body, "body", "", "message body")
	cmd.Flags().StringVar(&priority, "priority", string(protocol.PriorityNormal), "low|normal|high|urgent")
	cmd.Flags().StringVar(&thread, "thread", "", "thread id to attach to")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// newMailCheckCmd creates "overstory mail check". Checking marks the
// returned messages read.
func newMailCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <agent>",
		Short: "Read and consume an agent's unread mail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openMail()
			if err != nil {
				return err
			}
			defer store.Close()

			client := mail.NewClient(store, nil)
			msgs, err := client.Check(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printMail(cmd, msgs)
		},
	}
}

// newMailListCmd creates "overstory mail list".
func newMailListCmd() *cobra.Command {
	var from, to string
	var unread bool
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List messages without marking them read",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openMail()
			if err != nil {
				return err
			}
			defer store.Close()

			msgs, err := store.GetAll(cmd.Context(), mail.Filter{
				From: from, To: to, Unread: unread, Limit: limit,
			})
			if err != nil {
				return err
			}
			return printMail(cmd, msgs)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "filter by sender")
	cmd.Flags().StringVar(&to, "to", "", "filter by recipient")
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread messages")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum messages to return")
	return cmd
}

// newMailThreadCmd creates "overstory mail thread".
func newMailThreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "thread <thread-id>",
		Short: "Show a conversation thread oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openMail()
			if err != nil {
				return err
			}
			defer store.Close()

			msgs, err := store.GetByThread(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printMail(cmd, msgs)
		},
	}
}

// newMailReplyCmd creates "overstory mail reply".
func newMailReplyCmd() *cobra.Command {
	var from, body string

	cmd := &cobra.Command{
		Use:   "reply <message-id>",
		Short: "Reply to a message within its thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openMail()
			if err != nil {
				return err
			}
			defer store.Close()

			client := mail.NewClient(store, nil)
			id, err := client.Reply(cmd.Context(), args[0], body, from)
			if err != nil {
				return err
			}
			if jsonOutput {
				data, err := json.Marshal(map[string]string{"id": id})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "sender agent name")
	cmd.Flags().StringVar(&body, "body", "", "reply body")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

// newMailCmd creates the "overstory mail" parent command.
func newMailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mail",
		Short: "Durable agent mail",
		Long:  "Send, check, and browse messages in the durable mail store.",
	}
	cmd.AddCommand(
		newMailSendCmd(),
		newMailCheckCmd(),
		newMailListCmd(),
		newMailThreadCmd(),
		newMailReplyCmd(),
	)
	return cmd
}
