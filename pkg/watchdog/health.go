// Package watchdog monitors agent sessions and enforces the zero-failure-crash
// rule: observable liveness (pane, then pid) always overrides recorded state.
// The health evaluator is a pure function; the daemon applies a progressive
// escalation ladder and never lets a monitoring failure crash the monitor.
package watchdog

import (
	"fmt"
	"time"

	"overstory/pkg/protocol"
	"overstory/pkg/state"
)

// DefaultStallThreshold is how long a session may go without activity before
// it is considered stale.
const DefaultStallThreshold = 10 * time.Minute

// HealthStatus classifies a session's observed condition.
type HealthStatus string

// Health statuses.
const (
	Healthy HealthStatus = "healthy"
	Stale   HealthStatus = "stale"
	Zombie  HealthStatus = "zombie"
)

// Action is what the daemon should do about a session this tick.
type Action string

// Suggested actions.
const (
	ActionNone      Action = "none"
	ActionNudge     Action = "nudge"
	ActionEscalate  Action = "escalate"
	ActionTerminate Action = "terminate"
)

// HealthCheck is the evaluator's verdict for one session.
type HealthCheck struct {
	Status          HealthStatus
	Reason          string
	SuggestedAction Action
	CheckedAt       time.Time
}

// Evaluate applies the fixed health rules in order, first match wins. isAlive
// is the observable liveness probe result and outranks everything recorded in
// the session row.
func Evaluate(sess state.Session, isAlive bool, now time.Time, stallThreshold time.Duration) HealthCheck {
	if stallThreshold <= 0 {
		stallThreshold = DefaultStallThreshold
	}
	hc := HealthCheck{CheckedAt: now}

	switch {
	case !isAlive:
		hc.Status = Zombie
		hc.Reason = "process not observable"
		hc.SuggestedAction = ActionTerminate
	case sess.State == protocol.StateCompleted:
		hc.Status = Healthy
		hc.Reason = "completed"
		hc.SuggestedAction = ActionNone
	case now.Sub(sess.LastActivity) > stallThreshold && sess.EscalationLevel == 0:
		hc.Status = Stale
		hc.Reason = fmt.Sprintf("no activity for %s", now.Sub(sess.LastActivity).Round(time.Second))
		hc.SuggestedAction = ActionNudge
	case now.Sub(sess.LastActivity) > stallThreshold && sess.EscalationLevel <= 2:
		hc.Status = Stale
		hc.Reason = fmt.Sprintf("still stalled at escalation level %d", sess.EscalationLevel)
		hc.SuggestedAction = ActionEscalate
	case sess.EscalationLevel >= protocol.MaxEscalationLevel:
		hc.Status = Zombie
		hc.Reason = "escalation exhausted"
		hc.SuggestedAction = ActionTerminate
	default:
		hc.Status = Healthy
		hc.Reason = "active"
		hc.SuggestedAction = ActionNone
	}
	return hc
}
