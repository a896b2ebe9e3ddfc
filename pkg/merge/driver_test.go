package merge

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"overstory/pkg/protocol"
)

// exitErr simulates a nonzero git exit without depending on os/exec.
type exitErr int

func (e exitErr) Error() string { return fmt.Sprintf("exit status %d", int(e)) }
func (e exitErr) ExitCode() int { return int(e) }

// scriptGit records every invocation and dispatches on the git subcommand.
type scriptGit struct {
	calls    [][]string
	handlers map[string]func(args []string) (string, string, error)
}

func (g *scriptGit) Run(_ context.Context, _ string, args ...string) (string, string, error) {
	g.calls = append(g.calls, args)
	if h, ok := g.handlers[args[0]]; ok {
		return h(args)
	}
	return "", "", nil
}

func (g *scriptGit) called(sub string) bool {
	for _, c := range g.calls {
		if c[0] == sub {
			return true
		}
	}
	return false
}

func TestDriverMergeFlags(t *testing.T) {
	git := &scriptGit{}
	d := NewDriver(git, "/repo")

	res, err := d.Merge(context.Background(), "feature", true, true)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit = %d", res.ExitCode)
	}
	want := "merge --no-edit --no-ff feature"
	if got := strings.Join(git.calls[0], " "); got != want {
		t.Errorf("args = %q, want %q", got, want)
	}
}

func TestDriverFoldsExitCode(t *testing.T) {
	git := &scriptGit{handlers: map[string]func([]string) (string, string, error){
		"merge": func([]string) (string, string, error) {
			return "CONFLICT (content): Merge conflict in a.go", "", exitErr(1)
		},
	}}
	d := NewDriver(git, "/repo")

	res, err := d.Merge(context.Background(), "feature", false, false)
	if err != nil {
		t.Fatalf("nonzero exit surfaced as error: %v", err)
	}
	if res.ExitCode != 1 {
		t.Errorf("exit = %d, want 1", res.ExitCode)
	}
	if !strings.Contains(res.Stdout, "CONFLICT") {
		t.Errorf("stdout = %q", res.Stdout)
	}
}

func TestDriverInfraError(t *testing.T) {
	git := &scriptGit{handlers: map[string]func([]string) (string, string, error){
		"merge": func([]string) (string, string, error) {
			return "", "", fmt.Errorf("git binary not found")
		},
	}}
	d := NewDriver(git, "/repo")

	_, err := d.Merge(context.Background(), "feature", false, false)
	if protocol.KindOf(err) != protocol.KindWorktree {
		t.Errorf("kind = %v, want worktree", protocol.KindOf(err))
	}
}

func TestDriverShow(t *testing.T) {
	git := &scriptGit{handlers: map[string]func([]string) (string, string, error){
		"show": func(args []string) (string, string, error) {
			if args[1] != "HEAD:a.go" {
				return "", "fatal: bad revision", exitErr(128)
			}
			return "package a\n", "", nil
		},
	}}
	d := NewDriver(git, "/repo")
	ctx := context.Background()

	content, err := d.Show(ctx, "HEAD", "a.go")
	if err != nil || content != "package a\n" {
		t.Errorf("Show = %q, %v", content, err)
	}
	if _, err := d.Show(ctx, "HEAD", "missing.go"); protocol.KindOf(err) != protocol.KindWorktree {
		t.Errorf("missing path: kind = %v", protocol.KindOf(err))
	}
}

func TestDriverConflictFiles(t *testing.T) {
	git := &scriptGit{handlers: map[string]func([]string) (string, string, error){
		"diff": func([]string) (string, string, error) {
			return "a.go\n\npkg/b.go\n", "", nil
		},
	}}
	d := NewDriver(git, "/repo")

	files, err := d.ConflictFiles(context.Background())
	if err != nil {
		t.Fatalf("ConflictFiles: %v", err)
	}
	if len(files) != 2 || files[0] != "a.go" || files[1] != "pkg/b.go" {
		t.Errorf("files = %v", files)
	}
}

func TestDriverCommitWithParents(t *testing.T) {
	git := &scriptGit{handlers: map[string]func([]string) (string, string, error){
		"write-tree":  func([]string) (string, string, error) { return "treesha\n", "", nil },
		"commit-tree": func([]string) (string, string, error) { return "commitsha\n", "", nil },
	}}
	d := NewDriver(git, "/repo")

	if _, err := d.Commit(context.Background(), "synthetic merge", "HEAD", "feature"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	var commitTree, updateRef []string
	for _, c := range git.calls {
		switch c[0] {
		case "commit-tree":
			commitTree = c
		case "update-ref":
			updateRef = c
		}
	}
	want := "commit-tree treesha -m synthetic merge -p HEAD -p feature"
	if got := strings.Join(commitTree, " "); got != want {
		t.Errorf("commit-tree = %q, want %q", got, want)
	}
	if got := strings.Join(updateRef, " "); got != "update-ref HEAD commitsha" {
		t.Errorf("update-ref = %q", got)
	}
}
