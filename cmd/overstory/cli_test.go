package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"overstory/pkg/protocol"
	"overstory/pkg/state"
)

// runCLI executes the root command with args and returns captured stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

// seedSession writes one session row into the state dir.
func seedSession(t *testing.T, dir string, sess state.Session) {
	t.Helper()
	old := stateDir
	stateDir = dir
	defer func() { stateDir = old }()

	store, err := openSessions()
	if err != nil {
		t.Fatalf("open sessions: %v", err)
	}
	defer store.Close()
	if err := store.Upsert(context.Background(), sess); err != nil {
		t.Fatalf("upsert %s: %v", sess.Name, err)
	}
}

func builderSession(name string, st protocol.SessionState) state.Session {
	sess := state.Session{
		Name:         name,
		Capability:   protocol.CapBuilder,
		Branch:       "overstory/" + name + "/task-1",
		TaskID:       "task-1",
		Pane:         name,
		State:        st,
		Depth:        1,
		LastActivity: time.Now(),
	}
	if st == protocol.StateStalled {
		since := time.Now().Add(-time.Minute)
		sess.StalledSince = &since
	}
	return sess
}
