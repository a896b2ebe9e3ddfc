package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"overstory/internal/version"
)

// jsonOutput is set by the persistent --json flag; reportError reads it
// after Execute returns.
var jsonOutput bool

// newRootCmd creates the root overstory command with all subcommands
// attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "overstory",
		Short:         "Overstory agent orchestration core",
		Long:          "overstory supervises a team of coding agents:\nsession lifecycle, durable mail, tiered merge integration, and the watchdog.",
		Version:       fmt.Sprintf("overstory %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringVar(&stateDir, "state-dir", defaultStateDir(), "state directory")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable output")

	cmd.AddCommand(
		newStatusCmd(),
		newAgentsCmd(),
		newMailCmd(),
		newMergeCmd(),
		newWatchdogCmd(),
		newEventsCmd(),
		newInsightCmd(),
		newPurgeCmd(),
		newDashCmd(),
	)

	return cmd
}
