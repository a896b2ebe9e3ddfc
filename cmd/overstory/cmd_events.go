package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"overstory/pkg/eventlog"
	"overstory/pkg/protocol"
)

// formatEventsTable formats events as a tabular string in the order given:
// newest first from the agent, error and filter queries, oldest first from
// the --since timeline.
func formatEventsTable(events []eventlog.Event) string {
	if len(events) == 0 {
		return "No events.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-6s %-20s %-14s %-14s %-8s %-7s %s\n",
		"ID", "TIME", "AGENT", "KIND", "TOOL", "MS", "LEVEL")
	for _, ev := range events {
		dur := "-"
		if ev.DurationMS != nil {
			dur = fmt.Sprintf("%d", *ev.DurationMS)
		}
		tool := ev.ToolName
		if tool == "" {
			tool = "-"
		}
		fmt.Fprintf(&b, "%-6d %-20s %-14s %-14s %-8s %-7s %s\n",
			ev.ID, ev.CreatedAt.Format("2006-01-02 15:04:05"), ev.AgentName,
			ev.Kind, tool, dur, ev.Level)
	}
	return b.String()
}

// eventRow is the JSON shape of one event.
type eventRow struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id,omitempty"`
	AgentName  string    `json:"agent_name"`
	SessionID  string    `json:"session_id,omitempty"`
	Kind       string    `json:"kind"`
	ToolName   string    `json:"tool_name,omitempty"`
	ToolArgs   string    `json:"tool_args,omitempty"`
	DurationMS *int64    `json:"duration_ms,omitempty"`
	Level      string    `json:"level"`
	Payload    string    `json:"payload,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func eventRowsOf(events []eventlog.Event) []eventRow {
	rows := make([]eventRow, 0, len(events))
	for _, ev := range events {
		rows = append(rows, eventRow{
			ID: ev.ID, RunID: ev.RunID, AgentName: ev.AgentName, SessionID: ev.SessionID,
			Kind: string(ev.Kind), ToolName: ev.ToolName, ToolArgs: ev.ToolArgs,
			DurationMS: ev.DurationMS, Level: string(ev.Level),
			Payload: ev.Payload, CreatedAt: ev.CreatedAt,
		})
	}
	return rows
}

// newEventsCmd creates the "overstory events" subcommand.
func newEventsCmd() *cobra.Command {
	var agent, run, kind, level, since string
	var errorsOnly bool
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query the event log",
		Long:  "Lists stored events newest first (oldest first with --since),\nfiltered by agent, run, kind, severity, or age.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openEvents()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			var events []eventlog.Event
			switch {
			case errorsOnly:
				events, err = store.Errors(ctx, limit)
			case since != "":
				d, perr := time.ParseDuration(since)
				if perr != nil {
					return protocol.NewValidationError("bad --since duration",
						map[string]string{"since": since})
				}
				events, err = store.Timeline(ctx, time.Now().Add(-d))
			case run != "" || kind != "" || level != "":
				reader, rerr := eventlog.NewReader(eventsDBPath())
				if rerr != nil {
					return rerr
				}
				defer reader.Close()
				events, err = reader.Query(ctx, eventlog.QueryOpts{
					AgentName: agent,
					RunID:     run,
					Kind:      protocol.EventKind(kind),
					Level:     protocol.Level(level),
					Limit:     limit,
				})
			case agent != "":
				events, err = store.ByAgent(ctx, agent, limit)
			default:
				reader, rerr := eventlog.NewReader(eventsDBPath())
				if rerr != nil {
					return rerr
				}
				defer reader.Close()
				events, err = reader.Query(ctx, eventlog.QueryOpts{Limit: limit})
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				data, err := json.Marshal(eventRowsOf(events))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), formatEventsTable(events))
			return nil
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "filter by agent name")
	cmd.Flags().StringVar(&run, "run", "", "filter by run id")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by event kind")
	cmd.Flags().StringVar(&level, "level", "", "filter by severity")
	cmd.Flags().StringVar(&since, "since", "", "only events newer than this duration, e.g. 1h")
	cmd.Flags().BoolVar(&errorsOnly, "errors", false, "only error-level events")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to return")
	return cmd
}
