// Package merge integrates agent branches into the canonical branch through
// four escalation tiers: clean merge, marker-based auto-resolve, AI-proposed
// resolution, and full reimagination. The Resolver consumes the merge queue
// and owns each entry's final status.
package merge

import (
	"context"
	"errors"
	"strings"

	"overstory/pkg/protocol"
)

// GitRunner abstracts git command execution for testability.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (stdout string, stderr string, err error)
}

// exitCoder is satisfied by *exec.ExitError and by test doubles that want to
// simulate nonzero exits.
type exitCoder interface{ ExitCode() int }

// CmdResult is the outcome of one git invocation.
type CmdResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Driver wraps a GitRunner with the operations the resolver needs, all
// executed in the canonical repository checkout.
type Driver struct {
	git     GitRunner
	repoDir string
}

// NewDriver returns a Driver operating on the repository at repoDir.
func NewDriver(git GitRunner, repoDir string) *Driver {
	return &Driver{git: git, repoDir: repoDir}
}

// RepoDir returns the canonical checkout path.
func (d *Driver) RepoDir() string { return d.repoDir }

// run executes git and folds a nonzero exit into the CmdResult rather than
// an error. Only infrastructure failures (binary missing, context cancelled)
// surface as errors.
func (d *Driver) run(ctx context.Context, args ...string) (CmdResult, error) {
	stdout, stderr, err := d.git.Run(ctx, d.repoDir, args...)
	res := CmdResult{Stdout: stdout, Stderr: stderr}
	if err == nil {
		return res, nil
	}
	var ec exitCoder
	if errors.As(err, &ec) {
		res.ExitCode = ec.ExitCode()
		return res, nil
	}
	return res, protocol.NewWorktreeError("", d.repoDir, "git "+strings.Join(args, " "), err)
}

// Merge merges branch into the current branch.
func (d *Driver) Merge(ctx context.Context, branch string, noEdit, noFF bool) (CmdResult, error) {
	args := []string{"merge"}
	if noEdit {
		args = append(args, "--no-edit")
	}
	if noFF {
		args = append(args, "--no-ff")
	}
	args = append(args, branch)
	return d.run(ctx, args...)
}

// Show returns the content of path at rev.
func (d *Driver) Show(ctx context.Context, rev, path string) (string, error) {
	res, err := d.run(ctx, "show", rev+":"+path)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", protocol.NewWorktreeError("", d.repoDir,
			"show "+rev+":"+path+": "+strings.TrimSpace(res.Stderr), nil)
	}
	return res.Stdout, nil
}

// ConflictFiles lists paths still in conflict in the in-progress merge.
func (d *Driver) ConflictFiles(ctx context.Context) ([]string, error) {
	res, err := d.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, protocol.NewWorktreeError("", d.repoDir,
			"list conflict files: "+strings.TrimSpace(res.Stderr), nil)
	}
	var out []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

// Abort abandons the in-progress merge. Best effort: aborting when no merge
// is in progress is not an error.
func (d *Driver) Abort(ctx context.Context) {
	_, _ = d.run(ctx, "merge", "--abort")
}

// Add stages the given paths.
func (d *Driver) Add(ctx context.Context, paths ...string) error {
	res, err := d.run(ctx, append([]string{"add", "--"}, paths...)...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return protocol.NewWorktreeError("", d.repoDir,
			"stage resolved files: "+strings.TrimSpace(res.Stderr), nil)
	}
	return nil
}

// Commit commits the index. With no parents it concludes the in-progress
// merge; with explicit parents it builds a synthetic merge commit via
// write-tree/commit-tree and moves HEAD to it.
func (d *Driver) Commit(ctx context.Context, message string, parents ...string) (CmdResult, error) {
	if len(parents) == 0 {
		return d.run(ctx, "commit", "--no-edit", "-m", message)
	}

	tree, err := d.run(ctx, "write-tree")
	if err != nil {
		return tree, err
	}
	if tree.ExitCode != 0 {
		return tree, protocol.NewWorktreeError("", d.repoDir,
			"write-tree: "+strings.TrimSpace(tree.Stderr), nil)
	}

	args := []string{"commit-tree", strings.TrimSpace(tree.Stdout), "-m", message}
	for _, p := range parents {
		args = append(args, "-p", p)
	}
	commit, err := d.run(ctx, args...)
	if err != nil {
		return commit, err
	}
	if commit.ExitCode != 0 {
		return commit, protocol.NewWorktreeError("", d.repoDir,
			"commit-tree: "+strings.TrimSpace(commit.Stderr), nil)
	}

	return d.run(ctx, "update-ref", "HEAD", strings.TrimSpace(commit.Stdout))
}
