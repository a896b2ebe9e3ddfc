package merge

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"overstory/pkg/protocol"
)

// WorktreesDir is the directory under the repository root that holds agent
// worktrees.
const WorktreesDir = ".overstory/worktrees"

// BranchPrefix prefixes every agent branch.
const BranchPrefix = "overstory/"

var worktreeNamePat = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Worktrees creates and removes agent worktrees by shelling out to git in
// the canonical repository.
type Worktrees struct {
	git     GitRunner
	repoDir string
}

// NewWorktrees returns a Worktrees manager for the repository at repoDir.
func NewWorktrees(git GitRunner, repoDir string) *Worktrees {
	return &Worktrees{git: git, repoDir: repoDir}
}

// BranchFor returns the branch name for an agent working a task.
func BranchFor(agent, taskID string) string {
	return BranchPrefix + agent + "/" + taskID
}

// Add creates a worktree and branch for agent working taskID, branched from
// base. Names are validated before they reach the filesystem.
func (w *Worktrees) Add(ctx context.Context, agent, taskID, base string) (path, branch string, err error) {
	for _, name := range []string{agent, taskID} {
		if !worktreeNamePat.MatchString(name) {
			return "", "", protocol.NewValidationError("invalid worktree name",
				map[string]string{"name": name})
		}
	}
	path = filepath.Join(w.repoDir, WorktreesDir, agent+"-"+taskID)
	branch = BranchFor(agent, taskID)

	_, stderr, err := w.git.Run(ctx, w.repoDir, "worktree", "add", path, "-b", branch, base)
	if err != nil {
		return "", "", protocol.NewWorktreeError(branch, path,
			"worktree add: "+strings.TrimSpace(stderr), err)
	}
	return path, branch, nil
}

// Remove removes the worktree at path. Force, because agent worktrees are
// expected to carry uncommitted scratch state at teardown.
func (w *Worktrees) Remove(ctx context.Context, path string) error {
	_, stderr, err := w.git.Run(ctx, w.repoDir, "worktree", "remove", path, "--force")
	if err != nil {
		return protocol.NewWorktreeError("", path,
			"worktree remove: "+strings.TrimSpace(stderr), err)
	}
	return nil
}

// Prune cleans up worktree state left by a previous crash: git's internal
// bookkeeping first, then any leftover directories. Always returns nil;
// startup must not fail on cleanup.
func (w *Worktrees) Prune(ctx context.Context) error {
	_, _, _ = w.git.Run(ctx, w.repoDir, "worktree", "prune")

	dir := filepath.Join(w.repoDir, WorktreesDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if entry.IsDir() {
			_ = os.RemoveAll(filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}
