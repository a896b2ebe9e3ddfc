package watchdog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"overstory/pkg/eventlog"
	"overstory/pkg/protocol"
	"overstory/pkg/state"
)

type fakeMux struct {
	alive  bool
	sent   []string
	killed []string
}

func (m *fakeMux) IsPaneAlive(context.Context, string) (bool, error) { return m.alive, nil }

func (m *fakeMux) SendKeys(_ context.Context, pane, text string) error {
	m.sent = append(m.sent, pane+": "+text)
	return nil
}

func (m *fakeMux) KillPane(_ context.Context, pane string) error {
	m.killed = append(m.killed, pane)
	return nil
}

type fakeKiller struct{ killed []int }

func (k *fakeKiller) KillTree(pid int) error {
	k.killed = append(k.killed, pid)
	return nil
}

type fakeEvents struct{ events []eventlog.Event }

func (e *fakeEvents) Insert(_ context.Context, ev eventlog.Event) (int64, error) {
	e.events = append(e.events, ev)
	return int64(len(e.events)), nil
}

func (e *fakeEvents) kinds() []protocol.EventKind {
	var out []protocol.EventKind
	for _, ev := range e.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fakeFailures struct{ reasons []string }

func (f *fakeFailures) RecordFailure(_ context.Context, agent, reason string) error {
	f.reasons = append(f.reasons, agent+": "+reason)
	return nil
}

type fakeTriager struct {
	verdict Verdict
	calls   int
}

func (t *fakeTriager) Assess(context.Context, state.Session, string) (Verdict, error) {
	t.calls++
	return t.verdict, nil
}

func watchdogFixture(t *testing.T) (*Watchdog, *state.Store, *fakeMux, *fakeKiller, *fakeEvents, *fakeFailures) {
	t.Helper()
	store, _, err := state.Open(filepath.Join(t.TempDir(), "sessions.db"), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mux := &fakeMux{alive: true}
	killer := &fakeKiller{}
	events := &fakeEvents{}
	failures := &fakeFailures{}
	w := &Watchdog{
		Sessions: store,
		Mux:      mux,
		Killer:   killer,
		Events:   events,
		Failures: failures,
	}
	return w, store, mux, killer, events, failures
}

func seedBuilder(t *testing.T, store *state.Store, name string, lastActivity time.Time) {
	t.Helper()
	err := store.Upsert(context.Background(), state.Session{
		Name:         name,
		Capability:   protocol.CapBuilder,
		State:        protocol.StateWorking,
		Pane:         "pane-" + name,
		Depth:        1,
		LastActivity: lastActivity,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func getSession(t *testing.T, store *state.Store, name string) state.Session {
	t.Helper()
	sess, err := store.GetByName(context.Background(), name)
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	return sess
}

func TestTickHealthySessionUntouched(t *testing.T) {
	w, store, mux, _, _, _ := watchdogFixture(t)
	now := time.Now().UTC()
	w.SetNowFunc(func() time.Time { return now })
	seedBuilder(t, store, "builder-1", now.Add(-time.Minute))

	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	sess := getSession(t, store, "builder-1")
	if sess.State != protocol.StateWorking || sess.EscalationLevel != 0 {
		t.Errorf("session = %+v", sess)
	}
	if len(mux.sent) != 0 {
		t.Errorf("healthy session nudged: %v", mux.sent)
	}
}

func TestEscalationLadderClimbs(t *testing.T) {
	w, store, mux, _, events, failures := watchdogFixture(t)
	now := time.Now().UTC()
	w.SetNowFunc(func() time.Time { return now })
	seedBuilder(t, store, "builder-1", now.Add(-20*time.Minute))
	ctx := context.Background()

	// Level 0: stall is recorded and the first nudge goes out.
	if err := w.Tick(ctx); err != nil {
		t.Fatalf("Tick 1: %v", err)
	}
	sess := getSession(t, store, "builder-1")
	if sess.State != protocol.StateStalled || sess.EscalationLevel != 1 || sess.StalledSince == nil {
		t.Fatalf("after tick 1: %+v", sess)
	}
	if len(mux.sent) != 1 {
		t.Fatalf("tick 1 nudges = %v", mux.sent)
	}

	// Level 1: another nudge, level climbs.
	if err := w.Tick(ctx); err != nil {
		t.Fatalf("Tick 2: %v", err)
	}
	sess = getSession(t, store, "builder-1")
	if sess.EscalationLevel != 2 {
		t.Fatalf("after tick 2: level = %d", sess.EscalationLevel)
	}
	if len(mux.sent) != 2 {
		t.Fatalf("nudges = %v", mux.sent)
	}
	var sawNudgeEvent bool
	for _, k := range events.kinds() {
		if k == protocol.EventMailSent {
			sawNudgeEvent = true
		}
	}
	if !sawNudgeEvent {
		t.Error("nudge event not recorded")
	}

	// Level 2 without a triager: bump to 3.
	if err := w.Tick(ctx); err != nil {
		t.Fatalf("Tick 3: %v", err)
	}
	if sess = getSession(t, store, "builder-1"); sess.EscalationLevel != 3 {
		t.Fatalf("after tick 3: level = %d", sess.EscalationLevel)
	}

	// Level 3: terminate.
	if err := w.Tick(ctx); err != nil {
		t.Fatalf("Tick 4: %v", err)
	}
	sess = getSession(t, store, "builder-1")
	if sess.State != protocol.StateZombie {
		t.Errorf("after tick 4: state = %s", sess.State)
	}
	if len(mux.killed) != 1 || mux.killed[0] != "pane-builder-1" {
		t.Errorf("killed panes = %v", mux.killed)
	}
	if len(failures.reasons) != 1 {
		t.Errorf("failures = %v", failures.reasons)
	}
}

func TestDeadPaneTerminatesImmediately(t *testing.T) {
	w, store, mux, killer, _, failures := watchdogFixture(t)
	now := time.Now().UTC()
	w.SetNowFunc(func() time.Time { return now })
	mux.alive = false

	pid := 4321
	err := store.Upsert(context.Background(), state.Session{
		Name:         "builder-1",
		Capability:   protocol.CapBuilder,
		State:        protocol.StateWorking,
		Pane:         "pane-builder-1",
		PID:          &pid,
		Depth:        1,
		LastActivity: now.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	sess := getSession(t, store, "builder-1")
	if sess.State != protocol.StateZombie {
		t.Errorf("state = %s, want zombie", sess.State)
	}
	if len(killer.killed) != 1 || killer.killed[0] != 4321 {
		t.Errorf("killed pids = %v", killer.killed)
	}
	if len(failures.reasons) != 1 {
		t.Errorf("failures = %v", failures.reasons)
	}
}

func TestHardKillOverridesLadder(t *testing.T) {
	w, store, _, _, _, _ := watchdogFixture(t)
	now := time.Now().UTC()
	w.SetNowFunc(func() time.Time { return now })
	seedBuilder(t, store, "builder-1", now.Add(-45*time.Minute))

	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	sess := getSession(t, store, "builder-1")
	if sess.State != protocol.StateZombie {
		t.Errorf("state = %s, want zombie past hard-kill threshold", sess.State)
	}
}

func TestTriageVerdicts(t *testing.T) {
	cases := []struct {
		verdict    Verdict
		wantState  protocol.SessionState
		wantLevel  int
		wantNudges int
	}{
		{VerdictExtend, protocol.StateStalled, 2, 0},
		{VerdictRetry, protocol.StateStalled, 2, 1},
		{VerdictTerminate, protocol.StateZombie, 2, 0},
	}
	for _, tc := range cases {
		t.Run(string(tc.verdict), func(t *testing.T) {
			w, store, mux, _, _, _ := watchdogFixture(t)
			now := time.Now().UTC()
			w.SetNowFunc(func() time.Time { return now })
			triager := &fakeTriager{verdict: tc.verdict}
			w.Triager = triager

			stalled := now.Add(-15 * time.Minute)
			err := store.Upsert(context.Background(), state.Session{
				Name:            "builder-1",
				Capability:      protocol.CapBuilder,
				State:           protocol.StateStalled,
				Pane:            "pane-builder-1",
				Depth:           1,
				LastActivity:    stalled,
				StalledSince:    &stalled,
				EscalationLevel: 2,
			})
			if err != nil {
				t.Fatalf("Upsert: %v", err)
			}

			if err := w.Tick(context.Background()); err != nil {
				t.Fatalf("Tick: %v", err)
			}
			if triager.calls != 1 {
				t.Errorf("triage calls = %d", triager.calls)
			}
			sess := getSession(t, store, "builder-1")
			if sess.State != tc.wantState || sess.EscalationLevel != tc.wantLevel {
				t.Errorf("session = state %s level %d, want %s %d",
					sess.State, sess.EscalationLevel, tc.wantState, tc.wantLevel)
			}
			if len(mux.sent) != tc.wantNudges {
				t.Errorf("nudges = %v", mux.sent)
			}
		})
	}
}
