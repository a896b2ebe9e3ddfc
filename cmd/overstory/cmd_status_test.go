package main

import (
	"encoding/json"
	"strings"
	"testing"

	"overstory/pkg/protocol"
)

func TestStatusCmd_EmptyStores(t *testing.T) {
	out, err := runCLI(t, "--state-dir", t.TempDir(), "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "sessions: 0 total") {
		t.Errorf("output missing session count: %q", out)
	}
	if !strings.Contains(out, "merge queue: 0 pending, 0 conflict") {
		t.Errorf("output missing queue line: %q", out)
	}
	if !strings.Contains(out, "mail: 0 unread") {
		t.Errorf("output missing mail line: %q", out)
	}
}

func TestStatusCmd_CountsByState(t *testing.T) {
	dir := t.TempDir()
	seedSession(t, dir, builderSession("builder-1", protocol.StateWorking))
	seedSession(t, dir, builderSession("builder-2", protocol.StateWorking))
	seedSession(t, dir, builderSession("scout-1", protocol.StateStalled))

	out, err := runCLI(t, "--state-dir", dir, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "sessions: 3 total") {
		t.Errorf("total wrong: %q", out)
	}
	if !strings.Contains(out, "2 working") {
		t.Errorf("working count missing: %q", out)
	}
	if !strings.Contains(out, "1 stalled") {
		t.Errorf("stalled count missing: %q", out)
	}
}

func TestStatusCmd_JSON(t *testing.T) {
	dir := t.TempDir()
	seedSession(t, dir, builderSession("builder-1", protocol.StateWorking))

	out, err := runCLI(t, "--state-dir", dir, "--json", "status")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var snap statusSnapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("bad json %q: %v", out, err)
	}
	if snap.Sessions["working"] != 1 {
		t.Errorf("working = %d, want 1", snap.Sessions["working"])
	}
}

func TestFormatStatus_PlainHasNoEscapes(t *testing.T) {
	snap := statusSnapshot{
		Sessions:   map[string]int{"working": 2, "zombie": 1},
		Queue:      map[string]int{"pending": 1},
		MailUnread: 4,
	}
	out := formatStatus(snap, false)
	if strings.Contains(out, "\x1b[") {
		t.Errorf("color escapes in plain output: %q", out)
	}
	if !strings.Contains(out, "sessions: 3 total, 2 working, 1 zombie") {
		t.Errorf("session line wrong: %q", out)
	}
	if !strings.Contains(out, "mail: 4 unread") {
		t.Errorf("mail line wrong: %q", out)
	}
}
