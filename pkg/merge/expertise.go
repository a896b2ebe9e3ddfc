package merge

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"overstory/pkg/protocol"
)

// DefaultExpertiseTimeout bounds each expertise CLI invocation.
const DefaultExpertiseTimeout = 30 * time.Second

// expertiseQuery is the request written to the expertise CLI's stdin.
type expertiseQuery struct {
	Files []string `json:"files"`
}

// expertiseAdvice is the CLI's response shape.
type expertiseAdvice struct {
	SkipTiers              []string `json:"skip_tiers"`
	PredictedConflictFiles []string `json:"predicted_conflict_files"`
	PastResolutions        []struct {
		Path     string `json:"path"`
		Ours     string `json:"ours"`
		Theirs   string `json:"theirs"`
		Resolved string `json:"resolved"`
	} `json:"past_resolutions"`
}

type outcomeRecord struct {
	Branch  string   `json:"branch"`
	Files   []string `json:"files"`
	Success bool     `json:"success"`
	Tier    string   `json:"tier"`
}

// ExecExpertise talks to an external expertise CLI: `<command> query` reads
// a file list from stdin and prints advice JSON; `<command> record` reads an
// outcome record. The resolver treats both calls as advisory, so this client
// surfaces errors instead of retrying.
type ExecExpertise struct {
	Command []string
	Timeout time.Duration
}

func (e *ExecExpertise) run(ctx context.Context, sub string, input any) ([]byte, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultExpertiseTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, len(e.Command))
	args = append(args, e.Command[1:]...)
	args = append(args, sub)
	cmd := exec.CommandContext(ctx, e.Command[0], args...)
	cmd.Stdin = bytes.NewReader(payload)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return nil, protocol.NewMergeError("", "",
			"expertise "+sub+": "+strings.TrimSpace(errBuf.String()), err)
	}
	return out.Bytes(), nil
}

// QueryPatterns asks the CLI for advice about files.
func (e *ExecExpertise) QueryPatterns(ctx context.Context, files []string) (ConflictHistory, error) {
	if len(e.Command) == 0 {
		return ConflictHistory{}, nil
	}
	out, err := e.run(ctx, "query", expertiseQuery{Files: files})
	if err != nil {
		return ConflictHistory{}, err
	}
	var advice expertiseAdvice
	if err := json.Unmarshal(out, &advice); err != nil {
		return ConflictHistory{}, protocol.NewMergeError("", "", "expertise advice malformed", err)
	}

	var hist ConflictHistory
	for _, t := range advice.SkipTiers {
		hist.SkipTiers = append(hist.SkipTiers, protocol.Tier(t))
	}
	hist.PredictedConflictFiles = advice.PredictedConflictFiles
	for _, r := range advice.PastResolutions {
		hist.PastResolutions = append(hist.PastResolutions, Resolution{
			Path: r.Path, Ours: r.Ours, Theirs: r.Theirs, Resolved: r.Resolved,
		})
	}
	return hist, nil
}

// RecordOutcome reports a finished merge attempt to the CLI.
func (e *ExecExpertise) RecordOutcome(ctx context.Context, o Outcome) error {
	if len(e.Command) == 0 {
		return nil
	}
	_, err := e.run(ctx, "record", outcomeRecord{
		Branch:  o.Branch,
		Files:   o.Files,
		Success: o.Success,
		Tier:    string(o.Tier),
	})
	return err
}
