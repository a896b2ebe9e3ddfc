package merge

import (
	"context"
	"os/exec"
	"strings"

	"overstory/pkg/protocol"
)

// ResolveRequest carries one conflicted file to the AI subprocess.
type ResolveRequest struct {
	Path            string
	Ours            string
	Theirs          string
	Conflicted      string // working-tree content with markers
	PastResolutions []Resolution
}

// ReimagineRequest carries one modified file for full re-implementation.
type ReimagineRequest struct {
	Path   string
	Ours   string
	Theirs string
}

// AIRunner produces proposed file content for the escalation tiers. The
// production implementation shells out to an external command; tests supply
// canned responses.
type AIRunner interface {
	ResolveConflict(ctx context.Context, req ResolveRequest) (string, error)
	Reimagine(ctx context.Context, req ReimagineRequest) (string, error)
}

// ExecAIRunner invokes an external command, writing a structured prompt to
// stdin and reading the proposed file content from stdout.
type ExecAIRunner struct {
	// Command and arguments, e.g. {"claude", "-p"}.
	Command []string
}

// ResolveConflict implements AIRunner.
func (r *ExecAIRunner) ResolveConflict(ctx context.Context, req ResolveRequest) (string, error) {
	var b strings.Builder
	b.WriteString("Resolve the merge conflict in " + req.Path + ".\n")
	b.WriteString("Output ONLY the complete resolved file content.\n\n")
	b.WriteString("--- ours ---\n" + req.Ours + "\n")
	b.WriteString("--- theirs ---\n" + req.Theirs + "\n")
	b.WriteString("--- conflicted ---\n" + req.Conflicted + "\n")
	for _, past := range req.PastResolutions {
		b.WriteString("--- past resolution: " + past.Path + " ---\n" + past.Resolved + "\n")
	}
	return r.invoke(ctx, b.String())
}

// Reimagine implements AIRunner.
func (r *ExecAIRunner) Reimagine(ctx context.Context, req ReimagineRequest) (string, error) {
	var b strings.Builder
	b.WriteString("Two branches changed " + req.Path + " with different intents.\n")
	b.WriteString("Write a single implementation satisfying both.\n")
	b.WriteString("Output ONLY the complete file content.\n\n")
	b.WriteString("--- version A ---\n" + req.Ours + "\n")
	b.WriteString("--- version B ---\n" + req.Theirs + "\n")
	return r.invoke(ctx, b.String())
}

func (r *ExecAIRunner) invoke(ctx context.Context, prompt string) (string, error) {
	if len(r.Command) == 0 {
		return "", protocol.NewConfigError("ai resolver command not configured", nil)
	}
	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...) //nolint:gosec // command comes from operator config
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", protocol.NewMergeError("", protocol.TierAIResolve,
			"ai subprocess failed: "+strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}
