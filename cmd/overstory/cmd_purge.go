package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"overstory/pkg/protocol"
)

func printPurged(cmd *cobra.Command, store string, n int64) error {
	if jsonOutput {
		data, err := json.Marshal(map[string]any{"store": store, "purged": n})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "purged %d %s row(s)\n", n, store)
	return nil
}

// newPurgeMailCmd creates "overstory purge mail".
func newPurgeMailCmd() *cobra.Command {
	var agent, olderThan string
	var all bool

	cmd := &cobra.Command{
		Use:   "mail",
		Short: "Delete mail rows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openMail()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			var n int64
			switch {
			case all:
				n, err = store.PurgeAll(ctx)
			case agent != "":
				n, err = store.PurgeByAgent(ctx, agent)
			case olderThan != "":
				d, perr := time.ParseDuration(olderThan)
				if perr != nil {
					return protocol.NewValidationError("bad --older-than duration",
						map[string]string{"older_than": olderThan})
				}
				n, err = store.PurgeByAge(ctx, d)
			default:
				return protocol.NewValidationError("one of --all, --agent, --older-than is required", nil)
			}
			if err != nil {
				return err
			}
			return printPurged(cmd, "mail", n)
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "messages sent to or from this agent")
	cmd.Flags().StringVar(&olderThan, "older-than", "", "messages older than this duration, e.g. 168h")
	cmd.Flags().BoolVar(&all, "all", false, "every message")
	return cmd
}

// newPurgeEventsCmd creates "overstory purge events".
func newPurgeEventsCmd() *cobra.Command {
	var agent, olderThan string
	var all bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Delete event rows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openEvents()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			var n int64
			switch {
			case all:
				n, err = store.PurgeAll(ctx)
			case agent != "":
				n, err = store.PurgeByAgent(ctx, agent)
			case olderThan != "":
				d, perr := time.ParseDuration(olderThan)
				if perr != nil {
					return protocol.NewValidationError("bad --older-than duration",
						map[string]string{"older_than": olderThan})
				}
				n, err = store.PurgeByAge(ctx, d)
			default:
				return protocol.NewValidationError("one of --all, --agent, --older-than is required", nil)
			}
			if err != nil {
				return err
			}
			return printPurged(cmd, "event", n)
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "events recorded by this agent")
	cmd.Flags().StringVar(&olderThan, "older-than", "", "events older than this duration, e.g. 168h")
	cmd.Flags().BoolVar(&all, "all", false, "every event")
	return cmd
}

// newPurgeSessionsCmd creates "overstory purge sessions".
func newPurgeSessionsCmd() *cobra.Command {
	var agent, stateFilter string
	var all bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Delete session rows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openSessions()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			var n int64
			switch {
			case all:
				n, err = store.PurgeAll(ctx)
			case agent != "":
				n, err = store.PurgeByAgent(ctx, agent)
			case stateFilter != "":
				n, err = store.PurgeByState(ctx, protocol.SessionState(stateFilter))
			default:
				return protocol.NewValidationError("one of --all, --agent, --state is required", nil)
			}
			if err != nil {
				return err
			}
			return printPurged(cmd, "session", n)
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "session with this agent name")
	cmd.Flags().StringVar(&stateFilter, "state", "", "sessions in this state, e.g. completed")
	cmd.Flags().BoolVar(&all, "all", false, "every session")
	return cmd
}

// newPurgeCmd creates the "overstory purge" parent command.
func newPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete old store rows",
		Long:  "Removes mail, events, or sessions by agent, age, or state.",
	}
	cmd.AddCommand(
		newPurgeMailCmd(),
		newPurgeEventsCmd(),
		newPurgeSessionsCmd(),
	)
	return cmd
}
