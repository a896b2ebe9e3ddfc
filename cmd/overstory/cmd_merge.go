package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"overstory/pkg/mail"
	"overstory/pkg/merge"
	"overstory/pkg/mergeq"
	"overstory/pkg/protocol"
)

// formatQueueTable formats queue entries as a tabular string.
func formatQueueTable(entries []mergeq.Entry) string {
	if len(entries) == 0 {
		return "Queue empty.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-4s %-40s %-14s %-16s %-10s %-12s %s\n",
		"ID", "BRANCH", "TASK", "AGENT", "STATUS", "TIER", "ENQUEUED")
	for _, e := range entries {
		tier := "-"
		if e.ResolvedTier != nil {
			tier = string(*e.ResolvedTier)
		}
		fmt.Fprintf(&b, "%-4d %-40s %-14s %-16s %-10s %-12s %s\n",
			e.ID, e.Branch, e.TaskID, e.AgentName, e.Status, tier,
			e.EnqueuedAt.Format(time.RFC3339))
	}
	return b.String()
}

// queueRow is the JSON shape of one queue entry.
type queueRow struct {
	ID           int64     `json:"id"`
	Branch       string    `json:"branch"`
	TaskID       string    `json:"task_id"`
	AgentName    string    `json:"agent_name"`
	Files        []string  `json:"files"`
	Status       string    `json:"status"`
	ResolvedTier string    `json:"resolved_tier,omitempty"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

func queueRows(entries []mergeq.Entry) []queueRow {
	rows := make([]queueRow, 0, len(entries))
	for _, e := range entries {
		row := queueRow{
			ID: e.ID, Branch: e.Branch, TaskID: e.TaskID, AgentName: e.AgentName,
			Files: e.Files, Status: string(e.Status), EnqueuedAt: e.EnqueuedAt,
		}
		if e.ResolvedTier != nil {
			row.ResolvedTier = string(*e.ResolvedTier)
		}
		rows = append(rows, row)
	}
	return rows
}

func printQueue(cmd *cobra.Command, entries []mergeq.Entry) error {
	if jsonOutput {
		data, err := json.Marshal(queueRows(entries))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), formatQueueTable(entries))
	return nil
}

// buildResolver wires a Resolver from config and the stores. The returned
// cleanup closes everything the resolver holds open.
func buildResolver() (*merge.Resolver, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	repoDir, err := os.Getwd()
	if err != nil {
		return nil, nil, protocol.NewStoreError("resolve working directory", err)
	}

	queue, err := openQueue()
	if err != nil {
		return nil, nil, err
	}
	mailStore, err := openMail()
	if err != nil {
		queue.Close()
		return nil, nil, err
	}
	events, err := openEvents()
	if err != nil {
		queue.Close()
		mailStore.Close()
		return nil, nil, err
	}

	r := &merge.Resolver{
		Queue:      queue,
		Driver:     merge.NewDriver(&merge.ExecGitRunner{}, repoDir),
		AI:         &merge.ExecAIRunner{Command: cfg.Merge.AICommand},
		Mail:       mail.NewClient(mailStore, sessionDirectory()),
		Events:     events,
		GitTimeout: cfg.Merge.GitTimeout.Std(),
		AITimeout:  cfg.Merge.AITimeout.Std(),
	}
	if len(cfg.Merge.ExpertiseCommand) > 0 {
		r.Expertise = &merge.ExecExpertise{Command: cfg.Merge.ExpertiseCommand}
	}
	cleanup := func() {
		queue.Close()
		mailStore.Close()
		events.Close()
	}
	return r, cleanup, nil
}

// newMergeEnqueueCmd creates "overstory merge enqueue".
func newMergeEnqueueCmd() *cobra.Command {
	var branch, task, agent string
	var files []string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a branch for integration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, err := openQueue()
			if err != nil {
				return err
			}
			defer queue.Close()

			entry, err := queue.Enqueue(cmd.Context(), mergeq.Entry{
				Branch:    branch,
				TaskID:    task,
				AgentName: agent,
				Files:     files,
			})
			if err != nil {
				return err
			}
			return printQueue(cmd, []mergeq.Entry{entry})
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "branch to integrate")
	cmd.Flags().StringVar(&task, "task", "", "task id the branch implements")
	cmd.Flags().StringVar(&agent, "agent", "", "agent that produced the branch")
	cmd.Flags().StringSliceVar(&files, "files", nil, "files touched on the branch")
	_ = cmd.MarkFlagRequired("branch")
	return cmd
}

// newMergeListCmd creates "overstory merge list".
func newMergeListCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show queue entries by status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			queue, err := openQueue()
			if err != nil {
				return err
			}
			defer queue.Close()

			entries, err := queue.List(cmd.Context(), protocol.MergeStatus(status))
			if err != nil {
				return err
			}
			return printQueue(cmd, entries)
		},
	}

	cmd.Flags().StringVar(&status, "status", string(protocol.MergePending),
		"pending|merging|merged|conflict|failed")
	return cmd
}

// formatResult renders one resolution outcome.
func formatResult(res *merge.Result) string {
	if res.Success {
		return fmt.Sprintf("merged %s via %s\n", res.Entry.Branch, res.Tier)
	}
	line := fmt.Sprintf("failed %s at %s", res.Entry.Branch, res.Tier)
	if len(res.ConflictFiles) > 0 {
		line += ": conflicts in " + strings.Join(res.ConflictFiles, ", ")
	}
	if res.ErrorMessage != "" {
		line += ": " + res.ErrorMessage
	}
	return line + "\n"
}

// resultRow is the JSON shape of one resolution outcome.
type resultRow struct {
	Branch        string   `json:"branch"`
	Success       bool     `json:"success"`
	Tier          string   `json:"tier"`
	ConflictFiles []string `json:"conflict_files,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// newMergeRunCmd creates "overstory merge run". Without --once it drains
// the pending queue.
func newMergeRunCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Resolve queued branches through the escalation tiers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resolver, cleanup, err := buildResolver()
			if err != nil {
				return err
			}
			defer cleanup()

			var results []resultRow
			for {
				res, err := resolver.ProcessNext(cmd.Context())
				if err != nil {
					return err
				}
				if res == nil {
					break
				}
				if jsonOutput {
					results = append(results, resultRow{
						Branch:        res.Entry.Branch,
						Success:       res.Success,
						Tier:          string(res.Tier),
						ConflictFiles: res.ConflictFiles,
						Error:         res.ErrorMessage,
					})
				} else {
					fmt.Fprint(cmd.OutOrStdout(), formatResult(res))
				}
				if once {
					break
				}
			}

			if jsonOutput {
				data, err := json.Marshal(map[string]any{"results": results})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "resolve only the queue head")
	return cmd
}

// newMergeRemoveCmd creates "overstory merge remove".
func newMergeRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <branch>",
		Short: "Drop a branch from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := openQueue()
			if err != nil {
				return err
			}
			defer queue.Close()
			return queue.Remove(cmd.Context(), args[0])
		},
	}
}

// newMergeCmd creates the "overstory merge" parent command.
func newMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Tiered merge integration",
		Long:  "Queue agent branches and resolve them through clean merge,\nauto-resolution, AI resolution, and reimagining.",
	}
	cmd.AddCommand(
		newMergeEnqueueCmd(),
		newMergeListCmd(),
		newMergeRunCmd(),
		newMergeRemoveCmd(),
	)
	return cmd
}
