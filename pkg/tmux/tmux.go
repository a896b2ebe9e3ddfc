// Package tmux drives a terminal multiplexer session. Each agent gets its
// own tmux window inside one shared session; the watchdog and launcher talk
// to panes only through the Driver so the concrete multiplexer stays
// swappable.
package tmux

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"overstory/pkg/protocol"
)

// DefaultCmdTimeout bounds every tmux invocation.
const DefaultCmdTimeout = 5 * time.Second

// sendKeysDebounce is the delay between pasting text into a pane and
// pressing Enter. TUI programs need time to process pasted text before the
// Enter arrives.
const sendKeysDebounce = 200 * time.Millisecond

// Runner abstracts command execution for testability.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner implements Runner using os/exec.
type ExecRunner struct{}

// Run executes a command and returns its combined output, trimmed.
func (e *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// Driver manages agent panes inside a single named tmux session.
type Driver struct {
	Session string
	Runner  Runner

	// CmdTimeout bounds each tmux invocation; 0 means DefaultCmdTimeout.
	CmdTimeout time.Duration

	// Sleeper overrides the debounce sleep, for tests.
	Sleeper func(time.Duration)
}

// NewDriver returns a Driver for the named session using the real tmux
// binary.
func NewDriver(session string) *Driver {
	return &Driver{Session: session, Runner: &ExecRunner{}}
}

func (d *Driver) run(ctx context.Context, args ...string) (string, error) {
	timeout := d.CmdTimeout
	if timeout <= 0 {
		timeout = DefaultCmdTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Runner.Run(ctx, "tmux", args...)
}

func (d *Driver) target(pane string) string {
	return d.Session + ":" + pane
}

func (d *Driver) sleep(dur time.Duration) {
	if d.Sleeper != nil {
		d.Sleeper(dur)
		return
	}
	time.Sleep(dur)
}

// sessionExists checks whether the driver's session is running.
func (d *Driver) sessionExists(ctx context.Context) bool {
	_, err := d.run(ctx, "has-session", "-t", d.Session)
	return err == nil
}

// paneCommand prefixes command with an env wrapper so the agent process
// starts with the injected variables and no intermediate shell phase.
func paneCommand(command string, env map[string]string) string {
	if len(env) == 0 {
		return command
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := []string{"env"}
	for _, k := range keys {
		parts = append(parts, k+"="+shellQuote(env[k]))
	}
	return strings.Join(parts, " ") + " " + command
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`&|;<>(){}*?[]~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// CreatePane starts command in a new window named name with cwd as its
// working directory. The first pane also creates the session. Creating a
// pane whose name already exists is an error.
func (d *Driver) CreatePane(ctx context.Context, name, cwd, command string, env map[string]string) error {
	alive, err := d.IsPaneAlive(ctx, name)
	if err != nil {
		return err
	}
	if alive {
		return protocol.NewAgentError(name, "pane already exists", nil)
	}

	full := paneCommand(command, env)
	if !d.sessionExists(ctx) {
		if out, err := d.run(ctx, "new-session", "-d", "-s", d.Session, "-n", name, "-c", cwd, full); err != nil {
			return protocol.NewAgentError(name, "tmux new-session: "+out, err)
		}
		return nil
	}
	if out, err := d.run(ctx, "new-window", "-t", d.Session, "-n", name, "-c", cwd, full); err != nil {
		return protocol.NewAgentError(name, "tmux new-window: "+out, err)
	}
	return nil
}

// KillPane destroys the named pane's window. Killing a pane that is already
// gone is not an error.
func (d *Driver) KillPane(ctx context.Context, name string) error {
	alive, err := d.IsPaneAlive(ctx, name)
	if err != nil || !alive {
		return err
	}
	if out, err := d.run(ctx, "kill-window", "-t", d.target(name)); err != nil {
		return protocol.NewAgentError(name, "tmux kill-window: "+out, err)
	}
	return nil
}

// IsPaneAlive reports whether the named pane exists and its process has not
// exited. A missing session or window is alive=false, not an error.
func (d *Driver) IsPaneAlive(ctx context.Context, name string) (bool, error) {
	if !d.sessionExists(ctx) {
		return false, nil
	}
	out, err := d.run(ctx, "display-message", "-p", "-t", d.target(name), "#{pane_dead}")
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(out) != "1", nil
}

// SendKeys pastes text into the pane in literal mode and presses Enter after
// a short debounce. Literal mode keeps tmux from interpreting the text as
// key names.
func (d *Driver) SendKeys(ctx context.Context, name, text string) error {
	target := d.target(name)
	if out, err := d.run(ctx, "send-keys", "-t", target, "-l", text); err != nil {
		return protocol.NewAgentError(name, "tmux send-keys: "+out, err)
	}
	d.sleep(sendKeysDebounce)
	if out, err := d.run(ctx, "send-keys", "-t", target, "Enter"); err != nil {
		return protocol.NewAgentError(name, "tmux send-keys Enter: "+out, err)
	}
	return nil
}

// Capture returns the pane's visible content. lines > 0 extends the capture
// that many lines back into the scrollback.
func (d *Driver) Capture(ctx context.Context, name string, lines int) (string, error) {
	args := []string{"capture-pane", "-p", "-t", d.target(name)}
	if lines > 0 {
		args = append(args, "-S", "-"+strconv.Itoa(lines))
	}
	out, err := d.run(ctx, args...)
	if err != nil {
		return "", protocol.NewAgentError(name, "tmux capture-pane: "+out, err)
	}
	return out, nil
}

// ListPanes returns the window names of the driver's session. A missing
// session yields an empty list.
func (d *Driver) ListPanes(ctx context.Context) ([]string, error) {
	if !d.sessionExists(ctx) {
		return nil, nil
	}
	out, err := d.run(ctx, "list-windows", "-t", d.Session, "-F", "#{window_name}")
	if err != nil {
		return nil, fmt.Errorf("tmux list-windows: %w", err)
	}
	var panes []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			panes = append(panes, line)
		}
	}
	return panes, nil
}
