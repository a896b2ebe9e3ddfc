package main

import (
	"strings"
	"testing"
	"time"

	"overstory/pkg/eventlog"
	"overstory/pkg/mail"
	"overstory/pkg/mergeq"
	"overstory/pkg/protocol"
	"overstory/pkg/state"
)

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly-ten", 11, "exactly-ten"},
		{"a-much-longer-string", 10, "a-much-..."},
		{"abcdef", 3, "abc"},
	}
	for _, tc := range cases {
		if got := truncate(tc.in, tc.n); got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestView_HeaderCounts(t *testing.T) {
	m := newModel(t.TempDir())
	m.snap = Snapshot{
		Run:      "0a1b2c3d4e5f",
		Sessions: []state.Session{{Name: "builder-1"}},
		Queue:    []mergeq.Entry{{Branch: "b"}, {Branch: "c"}},
		Unread:   []mail.Message{{ID: "m1"}},
	}
	out := m.View()
	for _, want := range []string{"1 sessions", "2 queued", "1 unread", "run 0a1b2..."} {
		if !strings.Contains(out, want) {
			t.Errorf("header missing %q:\n%s", want, out)
		}
	}
}

func TestView_QueuePane(t *testing.T) {
	tier := protocol.TierAIResolve
	m := newModel(t.TempDir())
	m.activeView = QueueView
	m.snap = Snapshot{Queue: []mergeq.Entry{{
		Branch:       "overstory/builder-1/task-1",
		TaskID:       "task-1",
		AgentName:    "builder-1",
		Status:       protocol.MergeMerged,
		ResolvedTier: &tier,
	}}}
	out := m.View()
	if !strings.Contains(out, "ai-resolve") {
		t.Errorf("tier missing:\n%s", out)
	}
	if !strings.Contains(out, "> ") {
		t.Errorf("cursor missing:\n%s", out)
	}
}

func TestView_EventsPane(t *testing.T) {
	m := newModel(t.TempDir())
	m.activeView = EventsView
	m.snap = Snapshot{Events: []eventlog.Event{{
		AgentName: "scout-1",
		Kind:      protocol.EventToolStart,
		ToolName:  "Grep",
		Level:     protocol.LevelInfo,
		CreatedAt: time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC),
	}}}
	out := m.View()
	if !strings.Contains(out, "scout-1") || !strings.Contains(out, "Grep") {
		t.Errorf("event row missing:\n%s", out)
	}
	if !strings.Contains(out, "09:30:00") {
		t.Errorf("timestamp missing:\n%s", out)
	}
}

func TestView_EmptyPanes(t *testing.T) {
	m := newModel(t.TempDir())
	for view, want := range map[ViewType]string{
		QueueView:  "Queue empty",
		MailView:   "No unread mail",
		EventsView: "No events",
	} {
		m.activeView = view
		if out := m.View(); !strings.Contains(out, want) {
			t.Errorf("view %v missing %q:\n%s", view, want, out)
		}
	}
}

func TestSessionRows(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rows := sessionRows([]state.Session{{
		Name:            "builder-1",
		Capability:      protocol.CapBuilder,
		State:           protocol.StateStalled,
		TaskID:          "task-3",
		Branch:          "overstory/builder-1/task-3",
		LastActivity:    now.Add(-2 * time.Minute),
		EscalationLevel: 1,
	}}, now)
	if len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}
	row := rows[0]
	if row[0] != "builder-1" || row[2] != "stalled" || row[3] != "1" || row[5] != "2m" {
		t.Errorf("row = %v", row)
	}
}

func TestInitWatcher_MissingDir(t *testing.T) {
	if w := initWatcher("/no/such/dir"); w != nil {
		w.Close()
		t.Error("expected nil watcher for missing directory")
	}
}

func TestWatchStateDir_ExistingDir(t *testing.T) {
	if cmd := watchStateDir(t.TempDir()); cmd == nil {
		t.Error("expected watch command for existing directory")
	}
}
