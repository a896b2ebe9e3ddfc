package merge

import (
	"bytes"
	"context"
	"os/exec"
)

// ExecGitRunner runs real git subprocesses. Nonzero exits come back as
// *exec.ExitError, which the Driver folds into CmdResult.ExitCode.
type ExecGitRunner struct{}

func (ExecGitRunner) Run(ctx context.Context, dir string, args ...string) (stdout, stderr string, err error) {
	var out, errOut bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	err = cmd.Run()
	return out.String(), errOut.String(), err
}
