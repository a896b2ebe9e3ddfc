package watchdog

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"overstory/pkg/state"
)

// Verdict is the outcome of an AI triage of a stalled session.
type Verdict string

// Known triage verdicts. Anything the subprocess emits outside this set is
// treated as VerdictExtend.
const (
	VerdictRetry     Verdict = "retry"
	VerdictTerminate Verdict = "terminate"
	VerdictExtend    Verdict = "extend"
)

// Triager judges whether a stalled session deserves another chance. The
// production implementation shells out; tests return canned verdicts.
type Triager interface {
	Assess(ctx context.Context, sess state.Session, logTail string) (Verdict, error)
}

// logTailLines is how much session log the triage prompt carries.
const logTailLines = 50

// ExecTriager invokes an external command with a triage prompt on stdin and
// parses a single-token verdict from stdout.
type ExecTriager struct {
	Command []string
	// LogDir holds per-agent session logs named <agent>.log.
	LogDir string
}

// Assess implements Triager. Every failure mode (no command, missing log,
// subprocess error, unparsable output) resolves to VerdictExtend: triage must
// never be the reason an agent dies.
func (t *ExecTriager) Assess(ctx context.Context, sess state.Session, logTail string) (Verdict, error) {
	if len(t.Command) == 0 {
		return VerdictExtend, nil
	}

	var b strings.Builder
	b.WriteString("An agent session appears stalled. Decide its fate.\n")
	b.WriteString("Agent: " + sess.Name + " (" + string(sess.Capability) + ")\n")
	if sess.TaskID != "" {
		b.WriteString("Task: " + sess.TaskID + "\n")
	}
	b.WriteString("Answer with exactly one word: retry, terminate, or extend.\n\n")
	b.WriteString("--- recent session log ---\n")
	b.WriteString(logTail)

	cmd := exec.CommandContext(ctx, t.Command[0], t.Command[1:]...) //nolint:gosec // command comes from operator config
	cmd.Stdin = strings.NewReader(b.String())
	out, err := cmd.Output()
	if err != nil {
		return VerdictExtend, nil
	}
	return ParseVerdict(string(out)), nil
}

// TailLog reads the last logTailLines lines of the agent's session log.
// Missing or unreadable logs yield the empty string.
func (t *ExecTriager) TailLog(sess state.Session) string {
	if t.LogDir == "" {
		return ""
	}
	data, err := os.ReadFile(t.LogDir + "/" + sess.Name + ".log")
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > logTailLines {
		lines = lines[len(lines)-logTailLines:]
	}
	return strings.Join(lines, "\n")
}

// ParseVerdict scans output for the first recognizable verdict token.
// Unrecognized output maps to VerdictExtend.
func ParseVerdict(output string) Verdict {
	for _, field := range strings.Fields(strings.ToLower(output)) {
		switch Verdict(strings.Trim(field, ".,:;!\"'")) {
		case VerdictRetry:
			return VerdictRetry
		case VerdictTerminate:
			return VerdictTerminate
		case VerdictExtend:
			return VerdictExtend
		}
	}
	return VerdictExtend
}
