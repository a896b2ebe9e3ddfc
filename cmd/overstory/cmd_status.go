package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"overstory/pkg/mail"
	"overstory/pkg/protocol"
)

// statusSnapshot is everything "overstory status" reports, gathered in one
// pass so formatting is a pure function.
type statusSnapshot struct {
	Run        string         `json:"run,omitempty"`
	Sessions   map[string]int `json:"sessions"`
	Queue      map[string]int `json:"merge_queue"`
	MailUnread int            `json:"mail_unread"`
}

func colorEnabled() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("NO_COLOR") == ""
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	stalledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	zombieStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func paint(style lipgloss.Style, s string, color bool) string {
	if !color {
		return s
	}
	return style.Render(s)
}

// formatStatus renders the human form of a snapshot.
func formatStatus(snap statusSnapshot, color bool) string {
	var b strings.Builder
	b.WriteString(paint(titleStyle, "overstory", color))
	if snap.Run != "" {
		fmt.Fprintf(&b, "  run %s", snap.Run)
	}
	b.WriteString("\n")

	total := 0
	for _, n := range snap.Sessions {
		total += n
	}
	fmt.Fprintf(&b, "sessions: %d total", total)
	for _, st := range []protocol.SessionState{
		protocol.StateBooting, protocol.StateWorking, protocol.StateCompleted,
		protocol.StateStalled, protocol.StateZombie,
	} {
		n := snap.Sessions[string(st)]
		if n == 0 {
			continue
		}
		part := fmt.Sprintf(", %d %s", n, st)
		switch st {
		case protocol.StateStalled:
			part = paint(stalledStyle, part, color)
		case protocol.StateZombie:
			part = paint(zombieStyle, part, color)
		}
		b.WriteString(part)
	}
	b.WriteString("\n")

	pending := snap.Queue[string(protocol.MergePending)]
	conflict := snap.Queue[string(protocol.MergeConflict)]
	fmt.Fprintf(&b, "merge queue: %d pending, %d conflict\n", pending, conflict)
	fmt.Fprintf(&b, "mail: %d unread\n", snap.MailUnread)
	return b.String()
}

func gatherStatus(ctx context.Context) (statusSnapshot, error) {
	snap := statusSnapshot{Sessions: map[string]int{}, Queue: map[string]int{}}

	sessions, err := openSessions()
	if err != nil {
		return snap, err
	}
	defer sessions.Close()
	all, err := sessions.GetAll(ctx)
	if err != nil {
		return snap, err
	}
	for _, s := range all {
		snap.Sessions[string(s.State)]++
	}
	if run, err := sessions.GetActiveRun(ctx); err == nil && run != nil {
		snap.Run = run.ID
	}

	queue, err := openQueue()
	if err != nil {
		return snap, err
	}
	defer queue.Close()
	for _, st := range []protocol.MergeStatus{protocol.MergePending, protocol.MergeConflict, protocol.MergeFailed} {
		entries, err := queue.List(ctx, st)
		if err != nil {
			return snap, err
		}
		snap.Queue[string(st)] = len(entries)
	}

	mailStore, err := openMail()
	if err != nil {
		return snap, err
	}
	defer mailStore.Close()
	unread, err := mailStore.GetAll(ctx, mail.Filter{Unread: true})
	if err != nil {
		return snap, err
	}
	snap.MailUnread = len(unread)
	return snap, nil
}

// newStatusCmd creates the "overstory status" subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show orchestrator state",
		Long:  "Summarizes sessions by state, the merge queue, and unread mail.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := gatherStatus(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				data, err := json.Marshal(snap)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), formatStatus(snap, colorEnabled()))
			return nil
		},
	}
}
