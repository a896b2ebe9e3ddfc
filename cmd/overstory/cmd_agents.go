package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"overstory/pkg/state"
)

// formatAge renders a duration since t in the coarsest sensible unit.
func formatAge(t time.Time, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// formatAgentsTable formats sessions as a tabular string.
func formatAgentsTable(sessions []state.Session, now time.Time) string {
	if len(sessions) == 0 {
		return "No sessions.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-12s %-10s %-5s %-14s %-8s %s\n",
		"NAME", "CAPABILITY", "STATE", "ESC", "TASK", "IDLE", "BRANCH")
	for _, s := range sessions {
		esc := "-"
		if s.EscalationLevel > 0 {
			esc = fmt.Sprintf("%d", s.EscalationLevel)
		}
		task := s.TaskID
		if task == "" {
			task = "-"
		}
		fmt.Fprintf(&b, "%-20s %-12s %-10s %-5s %-14s %-8s %s\n",
			s.Name, s.Capability, s.State, esc, task,
			formatAge(s.LastActivity, now), s.Branch)
	}
	return b.String()
}

// agentRow is the JSON shape of one session in "overstory agents --json".
type agentRow struct {
	Name            string     `json:"name"`
	Capability      string     `json:"capability"`
	State           string     `json:"state"`
	TaskID          string     `json:"task_id,omitempty"`
	Branch          string     `json:"branch,omitempty"`
	Pane            string     `json:"pane,omitempty"`
	PID             *int       `json:"pid,omitempty"`
	Parent          string     `json:"parent,omitempty"`
	Depth           int        `json:"depth"`
	EscalationLevel int        `json:"escalation_level"`
	StartedAt       time.Time  `json:"started_at"`
	LastActivity    time.Time  `json:"last_activity"`
	StalledSince    *time.Time `json:"stalled_since,omitempty"`
}

func agentRows(sessions []state.Session) []agentRow {
	rows := make([]agentRow, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, agentRow{
			Name:            s.Name,
			Capability:      string(s.Capability),
			State:           string(s.State),
			TaskID:          s.TaskID,
			Branch:          s.Branch,
			Pane:            s.Pane,
			PID:             s.PID,
			Parent:          s.Parent,
			Depth:           s.Depth,
			EscalationLevel: s.EscalationLevel,
			StartedAt:       s.StartedAt,
			LastActivity:    s.LastActivity,
			StalledSince:    s.StalledSince,
		})
	}
	return rows
}

// newAgentsCmd creates the "overstory agents" subcommand.
func newAgentsCmd() *cobra.Command {
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List agent sessions",
		Long:  "Lists registered agent sessions with capability, state, and escalation level.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openSessions()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			var sessions []state.Session
			if activeOnly {
				sessions, err = store.GetActive(ctx)
			} else {
				sessions, err = store.GetAll(ctx)
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				data, err := json.Marshal(agentRows(sessions))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), formatAgentsTable(sessions, time.Now()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&activeOnly, "active", false, "only sessions in a live state")
	return cmd
}
