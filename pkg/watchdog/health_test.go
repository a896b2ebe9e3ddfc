package watchdog

import (
	"testing"
	"time"

	"overstory/pkg/protocol"
	"overstory/pkg/state"
)

func TestEvaluateRules(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Minute)
	old := now.Add(-20 * time.Minute)

	cases := []struct {
		name       string
		sess       state.Session
		isAlive    bool
		wantStatus HealthStatus
		wantAction Action
	}{
		{
			name:       "dead pane wins over recorded state",
			sess:       state.Session{State: protocol.StateWorking, LastActivity: fresh},
			isAlive:    false,
			wantStatus: Zombie,
			wantAction: ActionTerminate,
		},
		{
			name:       "completed is healthy even when old",
			sess:       state.Session{State: protocol.StateCompleted, LastActivity: old},
			isAlive:    true,
			wantStatus: Healthy,
			wantAction: ActionNone,
		},
		{
			name:       "first stall gets a nudge",
			sess:       state.Session{State: protocol.StateWorking, LastActivity: old},
			isAlive:    true,
			wantStatus: Stale,
			wantAction: ActionNudge,
		},
		{
			name:       "stalled at level one escalates",
			sess:       state.Session{State: protocol.StateStalled, LastActivity: old, EscalationLevel: 1},
			isAlive:    true,
			wantStatus: Stale,
			wantAction: ActionEscalate,
		},
		{
			name:       "stalled at level two escalates",
			sess:       state.Session{State: protocol.StateStalled, LastActivity: old, EscalationLevel: 2},
			isAlive:    true,
			wantStatus: Stale,
			wantAction: ActionEscalate,
		},
		{
			name:       "exhausted ladder terminates",
			sess:       state.Session{State: protocol.StateStalled, LastActivity: old, EscalationLevel: 3},
			isAlive:    true,
			wantStatus: Zombie,
			wantAction: ActionTerminate,
		},
		{
			name:       "active session is healthy",
			sess:       state.Session{State: protocol.StateWorking, LastActivity: fresh},
			isAlive:    true,
			wantStatus: Healthy,
			wantAction: ActionNone,
		},
		{
			name:       "recent activity clears nothing at high level",
			sess:       state.Session{State: protocol.StateStalled, LastActivity: fresh, EscalationLevel: 3},
			isAlive:    true,
			wantStatus: Zombie,
			wantAction: ActionTerminate,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hc := Evaluate(tc.sess, tc.isAlive, now, 10*time.Minute)
			if hc.Status != tc.wantStatus || hc.SuggestedAction != tc.wantAction {
				t.Errorf("Evaluate = %s/%s, want %s/%s",
					hc.Status, hc.SuggestedAction, tc.wantStatus, tc.wantAction)
			}
			if hc.CheckedAt != now {
				t.Errorf("CheckedAt = %v", hc.CheckedAt)
			}
		})
	}
}

func TestEvaluateDefaultThreshold(t *testing.T) {
	now := time.Now().UTC()
	sess := state.Session{State: protocol.StateWorking, LastActivity: now.Add(-11 * time.Minute)}
	hc := Evaluate(sess, true, now, 0)
	if hc.Status != Stale || hc.SuggestedAction != ActionNudge {
		t.Errorf("Evaluate with default threshold = %s/%s", hc.Status, hc.SuggestedAction)
	}
}

func TestRunComplete(t *testing.T) {
	coordinator := state.Session{Capability: protocol.CapCoordinator, State: protocol.StateWorking}
	doneBuilder := state.Session{Capability: protocol.CapBuilder, State: protocol.StateCompleted}
	busyBuilder := state.Session{Capability: protocol.CapBuilder, State: protocol.StateWorking}

	if !RunComplete([]state.Session{coordinator, doneBuilder}) {
		t.Error("persistent agents should not block completion")
	}
	if RunComplete([]state.Session{doneBuilder, busyBuilder}) {
		t.Error("working builder should block completion")
	}
	if !RunComplete(nil) {
		t.Error("empty run is complete")
	}
}
