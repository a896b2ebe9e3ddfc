package main

import (
	"os"
	"path/filepath"

	"overstory/pkg/config"
	"overstory/pkg/eventlog"
	"overstory/pkg/mail"
	"overstory/pkg/mergeq"
	"overstory/pkg/state"
)

// stateDir is set by the persistent --state-dir flag.
var stateDir string

func defaultStateDir() string {
	if dir := os.Getenv("OVERSTORY_STATE_DIR"); dir != "" {
		return dir
	}
	return ".overstory"
}

func loadConfig() (config.Config, error) {
	return config.Load(filepath.Join(stateDir, "config.yaml"))
}

func openSessions() (*state.Store, error) {
	store, _, err := state.Open(
		filepath.Join(stateDir, "sessions.db"),
		filepath.Join(stateDir, "sessions.json"),
	)
	return store, err
}

func openMail() (*mail.Store, error) {
	return mail.Open(filepath.Join(stateDir, "mail.db"))
}

func eventsDBPath() string {
	return filepath.Join(stateDir, "events.db")
}

func openEvents() (*eventlog.Store, error) {
	return eventlog.Open(eventsDBPath())
}

func openQueue() (*mergeq.Queue, error) {
	return mergeq.Open(filepath.Join(stateDir, "merge-queue.db"))
}
