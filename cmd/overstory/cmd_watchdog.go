package main

import (
	"log"
	"path/filepath"

	"github.com/spf13/cobra"

	"overstory/pkg/tmux"
	"overstory/pkg/watchdog"
)

// newWatchdogCmd creates the "overstory watchdog" subcommand. Without
// --once it polls until the context is cancelled.
func newWatchdogCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "watchdog",
		Short: "Monitor agent sessions",
		Long:  "Polls active sessions for stalls, escalates through nudge, triage,\nand termination, and records failures for later analysis.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sessions, err := openSessions()
			if err != nil {
				return err
			}
			defer sessions.Close()
			events, err := openEvents()
			if err != nil {
				return err
			}
			defer events.Close()

			logDir := filepath.Join(stateDir, "logs")
			w := &watchdog.Watchdog{
				Sessions: sessions,
				Mux:      tmux.NewDriver(cfg.TmuxSession),
				Killer:   &watchdog.ProcKiller{GracePeriod: cfg.Watchdog.GracePeriod.Std()},
				Triager:  &watchdog.ExecTriager{Command: cfg.Watchdog.TriageCommand, LogDir: logDir},
				Events:   events,
				Failures: &watchdog.FileFailureLog{Path: filepath.Join(logDir, "failures.ndjson")},

				StallThreshold: cfg.Watchdog.StallThreshold.Std(),
				HardKill:       cfg.Watchdog.HardKill.Std(),
				PollInterval:   cfg.Watchdog.PollInterval.Std(),
			}

			if once {
				return w.Tick(cmd.Context())
			}
			log.Printf("watchdog: polling every %s", cfg.Watchdog.PollInterval.Std())
			return w.Run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single poll cycle and exit")
	return cmd
}
