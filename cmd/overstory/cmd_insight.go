package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"overstory/pkg/insight"
)

// formatAnalysis renders the human form of an insight report.
func formatAnalysis(agent string, a insight.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "insight for %s\n", agent)
	fmt.Fprintf(&b, "workflow: %s\n", a.Workflow)

	for _, line := range a.Insights {
		fmt.Fprintf(&b, "  - %s\n", line)
	}

	if len(a.ToolProfile) > 0 {
		b.WriteString("tools:\n")
		for _, t := range a.ToolProfile {
			fmt.Fprintf(&b, "  %-12s %4d calls  avg %.0fms\n", t.Name, t.Count, t.AvgDurationMS)
		}
	}
	if len(a.FileProfile) > 0 {
		b.WriteString("hot files:\n")
		for _, f := range a.FileProfile {
			fmt.Fprintf(&b, "  %-40s %d edits\n", f.Path, f.Edits)
		}
	}
	if a.Errors.Count > 0 {
		fmt.Fprintf(&b, "errors: %d", a.Errors.Count)
		if len(a.Errors.Tools) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(a.Errors.Tools, ", "))
		}
		b.WriteString("\n")
	}
	if len(a.DomainTags) > 0 {
		fmt.Fprintf(&b, "domains: %s\n", strings.Join(a.DomainTags, ", "))
	}
	return b.String()
}

// newInsightCmd creates the "overstory insight" subcommand.
func newInsightCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "insight <agent>",
		Short: "Analyze an agent's recorded behavior",
		Long:  "Classifies an agent's workflow and summarizes its tool usage,\nfile activity, and errors from the event log.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openEvents()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			events, err := store.ByAgent(ctx, args[0], limit)
			if err != nil {
				return err
			}
			stats, err := store.ToolStats(ctx)
			if err != nil {
				return err
			}

			analysis := insight.Analyze(events, stats)
			if jsonOutput {
				data, err := json.Marshal(analysis)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), formatAnalysis(args[0], analysis))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 500, "events to analyze")
	return cmd
}
