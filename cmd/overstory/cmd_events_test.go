package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"overstory/pkg/eventlog"
	"overstory/pkg/protocol"
)

// seedEvent writes one event row into the state dir.
func seedEvent(t *testing.T, dir string, ev eventlog.Event) {
	t.Helper()
	old := stateDir
	stateDir = dir
	defer func() { stateDir = old }()

	store, err := openEvents()
	if err != nil {
		t.Fatalf("open events: %v", err)
	}
	defer store.Close()
	if _, err := store.Insert(context.Background(), ev); err != nil {
		t.Fatalf("insert event: %v", err)
	}
}

func TestEventsCmd_ByAgent(t *testing.T) {
	dir := t.TempDir()
	seedEvent(t, dir, eventlog.Event{
		AgentName: "builder-1", Kind: protocol.EventToolStart, ToolName: "Edit",
	})
	seedEvent(t, dir, eventlog.Event{
		AgentName: "scout-1", Kind: protocol.EventToolStart, ToolName: "Read",
	})

	out, err := runCLI(t, "--state-dir", dir, "events", "--agent", "builder-1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if !strings.Contains(out, "builder-1") || !strings.Contains(out, "Edit") {
		t.Errorf("agent events missing: %q", out)
	}
	if strings.Contains(out, "scout-1") {
		t.Errorf("other agent leaked in: %q", out)
	}
}

func TestEventsCmd_ErrorsOnly(t *testing.T) {
	dir := t.TempDir()
	seedEvent(t, dir, eventlog.Event{
		AgentName: "builder-1", Kind: protocol.EventToolEnd, ToolName: "Bash",
	})
	seedEvent(t, dir, eventlog.Event{
		AgentName: "builder-1", Kind: protocol.EventError,
		Level: protocol.LevelError, Payload: `{"message":"boom"}`,
	})

	out, err := runCLI(t, "--state-dir", dir, "--json", "events", "--errors")
	if err != nil {
		t.Fatalf("events --errors: %v", err)
	}
	var rows []eventRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("bad json %q: %v", out, err)
	}
	if len(rows) != 1 || rows[0].Level != "error" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestEventsCmd_KindFilterUsesReader(t *testing.T) {
	dir := t.TempDir()
	seedEvent(t, dir, eventlog.Event{
		AgentName: "builder-1", Kind: protocol.EventMailSent,
	})
	seedEvent(t, dir, eventlog.Event{
		AgentName: "builder-1", Kind: protocol.EventToolStart, ToolName: "Grep",
	})

	out, err := runCLI(t, "--state-dir", dir, "--json", "events", "--kind", "mail_sent")
	if err != nil {
		t.Fatalf("events --kind: %v", err)
	}
	var rows []eventRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("bad json %q: %v", out, err)
	}
	if len(rows) != 1 || rows[0].Kind != "mail_sent" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestEventsCmd_BadSinceDuration(t *testing.T) {
	_, err := runCLI(t, "--state-dir", t.TempDir(), "events", "--since", "yesterday")
	if err == nil {
		t.Fatal("expected error")
	}
	if protocol.KindOf(err) != protocol.KindValidation {
		t.Errorf("kind = %q", protocol.KindOf(err))
	}
}
