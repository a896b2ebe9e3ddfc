package watchdog

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"overstory/pkg/eventlog"
	"overstory/pkg/protocol"
	"overstory/pkg/state"
)

// Daemon loop defaults. Thresholds are configuration; the health rules are
// fixed.
const (
	DefaultPollInterval = 30 * time.Second
	DefaultHardKill     = 30 * time.Minute
	DefaultMuxTimeout   = 5 * time.Second
)

// Multiplexer is the pane surface the watchdog needs: liveness probe, nudge
// delivery, and pane teardown. The tmux driver satisfies it.
type Multiplexer interface {
	IsPaneAlive(ctx context.Context, pane string) (bool, error)
	SendKeys(ctx context.Context, pane, text string) error
	KillPane(ctx context.Context, pane string) error
}

// EventSink receives watchdog events. *eventlog.Store satisfies it.
type EventSink interface {
	Insert(ctx context.Context, ev eventlog.Event) (int64, error)
}

// FailureSink records terminations for later pattern analysis.
type FailureSink interface {
	RecordFailure(ctx context.Context, agent, reason string) error
}

// Watchdog polls active sessions and applies the escalation ladder. Sessions
// is required. Mux and Killer may be nil: without Mux, pane probes, nudges and
// pane kills are skipped; without Killer, no process tree is signaled.
// Triager, Events and Failures are optional and their failures are swallowed.
// Monitoring never crashes the monitor.
type Watchdog struct {
	Sessions *state.Store
	Mux      Multiplexer
	Killer   ProcessKiller
	Triager  Triager
	Events   EventSink
	Failures FailureSink

	StallThreshold time.Duration
	HardKill       time.Duration
	PollInterval   time.Duration
	MuxTimeout     time.Duration

	nowFunc func() time.Time
}

// SetNowFunc overrides the clock, for tests.
func (w *Watchdog) SetNowFunc(f func() time.Time) { w.nowFunc = f }

func (w *Watchdog) now() time.Time {
	if w.nowFunc != nil {
		return w.nowFunc()
	}
	return time.Now().UTC()
}

// Run polls until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	interval := w.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := w.Tick(ctx); err != nil {
			log.Printf("watchdog: tick: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one monitoring pass over every active session. Per-session
// failures are logged and do not stop the pass.
func (w *Watchdog) Tick(ctx context.Context) error {
	sessions, err := w.Sessions.GetActive(ctx)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if err := w.check(ctx, sess); err != nil {
			log.Printf("watchdog: %s: %v", sess.Name, err)
		}
	}
	return nil
}

// check probes one session, evaluates health, and applies the ladder.
func (w *Watchdog) check(ctx context.Context, sess state.Session) error {
	now := w.now()
	alive := w.probeAlive(ctx, sess)
	hc := Evaluate(sess, alive, now, w.StallThreshold)

	hardKill := w.HardKill
	if hardKill <= 0 {
		hardKill = DefaultHardKill
	}
	if hc.SuggestedAction != ActionTerminate &&
		sess.State != protocol.StateCompleted &&
		now.Sub(sess.LastActivity) > hardKill {
		hc.Status = Zombie
		hc.Reason = "hard-kill threshold exceeded"
		hc.SuggestedAction = ActionTerminate
	}

	w.logHealth(ctx, sess, hc)

	switch hc.SuggestedAction {
	case ActionTerminate:
		return w.terminate(ctx, sess, hc.Reason)
	case ActionNudge, ActionEscalate:
		return w.escalate(ctx, sess, now)
	default:
		return nil
	}
}

// probeAlive implements the signal priority: pane liveness, then pid, then
// recorded state.
func (w *Watchdog) probeAlive(ctx context.Context, sess state.Session) bool {
	if sess.Pane != "" && w.Mux != nil {
		mctx, cancel := w.muxCtx(ctx)
		alive, err := w.Mux.IsPaneAlive(mctx, sess.Pane)
		cancel()
		if err == nil {
			return alive
		}
	}
	if sess.PID != nil {
		return processAlive(*sess.PID)
	}
	return !sess.State.Terminal()
}

// escalate applies the ladder step for the session's current level.
func (w *Watchdog) escalate(ctx context.Context, sess state.Session, now time.Time) error {
	switch sess.EscalationLevel {
	case 0:
		log.Printf("watchdog: %s stalled, raising escalation", sess.Name)
		if sess.State != protocol.StateStalled {
			if err := w.Sessions.UpdateState(ctx, sess.Name, protocol.StateStalled); err != nil {
				return err
			}
		}
		w.nudge(ctx, sess)
		return w.Sessions.UpdateEscalation(ctx, sess.Name, 1, &now)
	case 1:
		w.nudge(ctx, sess)
		return w.Sessions.UpdateEscalation(ctx, sess.Name, 2, sess.StalledSince)
	case 2:
		if w.Triager == nil {
			return w.Sessions.UpdateEscalation(ctx, sess.Name, 3, sess.StalledSince)
		}
		return w.triage(ctx, sess)
	default:
		return w.terminate(ctx, sess, "escalation exhausted")
	}
}

// triage asks the AI tier what to do with a level-2 session. The extend
// verdict grants a free tick.
func (w *Watchdog) triage(ctx context.Context, sess state.Session) error {
	var tail string
	if et, ok := w.Triager.(*ExecTriager); ok {
		tail = et.TailLog(sess)
	}
	verdict, err := w.Triager.Assess(ctx, sess, tail)
	if err != nil {
		verdict = VerdictExtend
	}
	w.logEvent(ctx, sess, protocol.EventCustom, protocol.LevelWarn,
		map[string]string{"triage_verdict": string(verdict)})

	switch verdict {
	case VerdictTerminate:
		return w.terminate(ctx, sess, "triage verdict: terminate")
	case VerdictRetry:
		w.nudge(ctx, sess)
		return nil
	default:
		return nil
	}
}

// terminate kills the process tree, closes the pane, marks the session
// zombie, and records the failure.
func (w *Watchdog) terminate(ctx context.Context, sess state.Session, reason string) error {
	if sess.PID != nil && w.Killer != nil {
		if err := w.Killer.KillTree(*sess.PID); err != nil {
			log.Printf("watchdog: kill tree %d: %v", *sess.PID, err)
		}
	}
	if sess.Pane != "" && w.Mux != nil {
		mctx, cancel := w.muxCtx(ctx)
		if err := w.Mux.KillPane(mctx, sess.Pane); err != nil {
			log.Printf("watchdog: kill pane %s: %v", sess.Pane, err)
		}
		cancel()
	}

	if err := w.Sessions.UpdateState(ctx, sess.Name, protocol.StateZombie); err != nil {
		return err
	}

	if w.Failures != nil {
		_ = w.Failures.RecordFailure(ctx, sess.Name, reason)
	}
	w.logEvent(ctx, sess, protocol.EventError, protocol.LevelError,
		map[string]string{"reason": reason, "action": "terminate"})
	return nil
}

func (w *Watchdog) nudge(ctx context.Context, sess state.Session) {
	if sess.Pane == "" || w.Mux == nil {
		return
	}
	mctx, cancel := w.muxCtx(ctx)
	defer cancel()
	text := "No recent activity detected. Continue your task or send a status message."
	if err := w.Mux.SendKeys(mctx, sess.Pane, text); err != nil {
		log.Printf("watchdog: nudge %s: %v", sess.Name, err)
		return
	}
	w.logEvent(ctx, sess, protocol.EventMailSent, protocol.LevelWarn,
		map[string]string{"nudge": "pane"})
}

func (w *Watchdog) muxCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := w.MuxTimeout
	if timeout <= 0 {
		timeout = DefaultMuxTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (w *Watchdog) logHealth(ctx context.Context, sess state.Session, hc HealthCheck) {
	level := protocol.LevelDebug
	if hc.Status != Healthy {
		level = protocol.LevelWarn
	}
	w.logEvent(ctx, sess, protocol.EventCustom, level, map[string]string{
		"status": string(hc.Status),
		"reason": hc.Reason,
		"action": string(hc.SuggestedAction),
	})
}

// logEvent is fire-and-forget.
func (w *Watchdog) logEvent(ctx context.Context, sess state.Session, kind protocol.EventKind, level protocol.Level, payload map[string]string) {
	if w.Events == nil {
		return
	}
	data, _ := json.Marshal(payload)
	_, _ = w.Events.Insert(ctx, eventlog.Event{
		RunID:     sess.RunID,
		AgentName: sess.Name,
		Kind:      kind,
		Level:     level,
		Payload:   string(data),
	})
}

// RunComplete reports whether every non-persistent session has completed.
// Coordinator and monitor agents outlive runs and are not counted.
func RunComplete(sessions []state.Session) bool {
	for _, sess := range sessions {
		if sess.Capability.Persistent() {
			continue
		}
		if sess.State != protocol.StateCompleted {
			return false
		}
	}
	return true
}
