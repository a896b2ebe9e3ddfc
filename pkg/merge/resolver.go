package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"overstory/pkg/eventlog"
	"overstory/pkg/mail"
	"overstory/pkg/mergeq"
	"overstory/pkg/protocol"
)

// Default subprocess deadlines. AI resolution is per file.
const (
	DefaultGitTimeout = 30 * time.Second
	DefaultAITimeout  = 120 * time.Second
)

// Notifier posts merge outcomes back to agent mailboxes. *mail.Client
// satisfies it.
type Notifier interface {
	SendProtocol(ctx context.Context, m mail.Message, msgType protocol.MessageType, payload any) ([]string, error)
}

// EventSink receives resolution events. *eventlog.Store satisfies it.
type EventSink interface {
	Insert(ctx context.Context, ev eventlog.Event) (int64, error)
}

// Result is the outcome of resolving one queue entry.
type Result struct {
	Entry         mergeq.Entry
	Success       bool
	Tier          protocol.Tier
	ConflictFiles []string
	ErrorMessage  string
}

// Resolver integrates agent branches through the escalation tiers. Queue and
// Driver are required. AI is optional; without it the AI-resolve and
// reimagine tiers are skipped. Expertise, Mail and Events are optional and
// their failures never block a merge.
type Resolver struct {
	Queue     *mergeq.Queue
	Driver    *Driver
	AI        AIRunner
	Expertise Expertise
	Mail      Notifier
	Events    EventSink

	GitTimeout time.Duration
	AITimeout  time.Duration
}

// ProcessNext dequeues the FIFO head and resolves it. Returns (nil, nil)
// when the queue has no pending entries. The entry's status is updated
// exactly once, after all tiers have run.
func (r *Resolver) ProcessNext(ctx context.Context) (*Result, error) {
	entry, err := r.Queue.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	res := r.Resolve(ctx, *entry)

	status := protocol.MergeFailed
	var tier *protocol.Tier
	switch {
	case res.Success:
		status = protocol.MergeMerged
		t := res.Tier
		tier = &t
	case len(res.ConflictFiles) > 0:
		status = protocol.MergeConflict
	}
	if err := r.Queue.UpdateStatus(ctx, entry.Branch, status, tier); err != nil {
		return res, err
	}

	r.recordOutcome(ctx, res)
	r.notify(ctx, res)
	r.logEvent(ctx, res)
	return res, nil
}

// Resolve attempts the tiers in order against an already claimed entry. The
// merge command always runs first because the later tiers operate on the
// conflicted state it leaves behind; skip-tier advice applies to tiers 2-4.
func (r *Resolver) Resolve(ctx context.Context, entry mergeq.Entry) *Result {
	res := &Result{Entry: entry}

	var history ConflictHistory
	if r.Expertise != nil {
		if h, err := r.Expertise.QueryPatterns(ctx, entry.Files); err == nil {
			history = h
		}
	}
	skip := make(map[protocol.Tier]bool, len(history.SkipTiers))
	for _, t := range history.SkipTiers {
		skip[t] = true
	}

	merged, conflicts, err := r.cleanMerge(ctx, entry.Branch)
	if err != nil {
		r.Driver.Abort(ctx)
		res.ErrorMessage = err.Error()
		return res
	}
	if merged {
		res.Success = true
		res.Tier = protocol.TierCleanMerge
		return res
	}
	res.ConflictFiles = conflicts
	if len(conflicts) == 0 {
		// Merge failed without conflicts: bad branch name, dirty tree.
		r.Driver.Abort(ctx)
		res.ErrorMessage = "merge failed with no conflicted files"
		return res
	}

	if !skip[protocol.TierAutoResolve] {
		err := r.autoResolve(ctx, entry.Branch, conflicts)
		if err == nil {
			res.Success = true
			res.Tier = protocol.TierAutoResolve
			res.ErrorMessage = ""
			return res
		}
		res.ErrorMessage = err.Error()
	}

	if !skip[protocol.TierAIResolve] && r.AI != nil {
		err := r.aiResolve(ctx, entry.Branch, conflicts, history.PastResolutions)
		if err == nil {
			res.Success = true
			res.Tier = protocol.TierAIResolve
			res.ErrorMessage = ""
			return res
		}
		res.ErrorMessage = err.Error()
	}

	r.Driver.Abort(ctx)

	if !skip[protocol.TierReimagine] && r.AI != nil {
		files := entry.Files
		if len(files) == 0 {
			files = conflicts
		}
		err := r.reimagine(ctx, entry.Branch, files)
		if err == nil {
			res.Success = true
			res.Tier = protocol.TierReimagine
			res.ErrorMessage = ""
			return res
		}
		res.ErrorMessage = err.Error()
	}
	return res
}

// cleanMerge runs the merge command. merged reports exit 0; on conflict the
// still-in-progress merge is left in place for the next tiers.
func (r *Resolver) cleanMerge(ctx context.Context, branch string) (merged bool, conflicts []string, err error) {
	ctx, cancel := r.gitCtx(ctx)
	defer cancel()

	cmd, err := r.Driver.Merge(ctx, branch, true, true)
	if err != nil {
		return false, nil, err
	}
	if cmd.ExitCode == 0 {
		return true, nil, nil
	}

	conflicts = ParseConflictOutput(cmd.Stdout + "\n" + cmd.Stderr)
	if len(conflicts) == 0 {
		conflicts, err = r.Driver.ConflictFiles(ctx)
		if err != nil {
			return false, nil, err
		}
	}
	return false, conflicts, nil
}

// autoResolve keeps the incoming side of every conflict hunk. All files must
// parse before any is written.
func (r *Resolver) autoResolve(ctx context.Context, branch string, conflicts []string) error {
	resolved := make(map[string]string, len(conflicts))
	for _, path := range conflicts {
		content, err := os.ReadFile(filepath.Join(r.Driver.RepoDir(), path))
		if err != nil {
			return protocol.NewMergeError(branch, protocol.TierAutoResolve, "read conflicted file "+path, err)
		}
		clean, err := ResolveKeepIncoming(string(content))
		if err != nil {
			return protocol.NewMergeError(branch, protocol.TierAutoResolve, "parse markers in "+path, err)
		}
		resolved[path] = clean
	}
	return r.commitResolved(ctx, branch, protocol.TierAutoResolve, conflicts, resolved)
}

// aiResolve asks the AI subprocess for a resolution of each conflicted file
// and gates every proposal through LooksLikeCode before writing anything.
func (r *Resolver) aiResolve(ctx context.Context, branch string, conflicts []string, past []Resolution) error {
	resolved := make(map[string]string, len(conflicts))
	for _, path := range conflicts {
		ours, err := r.show(ctx, "HEAD", path)
		if err != nil {
			return err
		}
		theirs, err := r.show(ctx, "MERGE_HEAD", path)
		if err != nil {
			return err
		}
		conflicted, err := os.ReadFile(filepath.Join(r.Driver.RepoDir(), path))
		if err != nil {
			return protocol.NewMergeError(branch, protocol.TierAIResolve, "read conflicted file "+path, err)
		}

		proposal, err := r.runAI(ctx, func(ctx context.Context) (string, error) {
			return r.AI.ResolveConflict(ctx, ResolveRequest{
				Path:            path,
				Ours:            ours,
				Theirs:          theirs,
				Conflicted:      string(conflicted),
				PastResolutions: past,
			})
		})
		if err != nil {
			return err
		}
		if !LooksLikeCode(path, proposal) {
			return protocol.NewMergeError(branch, protocol.TierAIResolve, "proposal for "+path+" does not look like code", nil)
		}
		resolved[path] = proposal
	}
	return r.commitResolved(ctx, branch, protocol.TierAIResolve, conflicts, resolved)
}

// reimagine runs after the merge has been aborted: both versions of every
// modified file are re-implemented from scratch and committed as a synthetic
// merge with the canonical head and the agent branch as parents.
func (r *Resolver) reimagine(ctx context.Context, branch string, files []string) error {
	rewritten := make(map[string]string, len(files))
	for _, path := range files {
		ours, err := r.show(ctx, "HEAD", path)
		if err != nil {
			return err
		}
		theirs, err := r.show(ctx, branch, path)
		if err != nil {
			return err
		}

		content, err := r.runAI(ctx, func(ctx context.Context) (string, error) {
			return r.AI.Reimagine(ctx, ReimagineRequest{Path: path, Ours: ours, Theirs: theirs})
		})
		if err != nil {
			return err
		}
		if !LooksLikeCode(path, content) {
			return protocol.NewMergeError(branch, protocol.TierReimagine, "reimagined "+path+" does not look like code", nil)
		}
		rewritten[path] = content
	}

	for path, content := range rewritten {
		full := filepath.Join(r.Driver.RepoDir(), path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return protocol.NewMergeError(branch, protocol.TierReimagine, "create parent dir for "+path, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return protocol.NewMergeError(branch, protocol.TierReimagine, "write "+path, err)
		}
	}

	gctx, cancel := r.gitCtx(ctx)
	defer cancel()
	if err := r.Driver.Add(gctx, files...); err != nil {
		return err
	}
	msg := fmt.Sprintf("Merge branch '%s' (reimagined)", branch)
	cmd, err := r.Driver.Commit(gctx, msg, "HEAD", branch)
	if err != nil {
		return err
	}
	if cmd.ExitCode != 0 {
		return protocol.NewMergeError(branch, protocol.TierReimagine, "synthetic merge commit failed", nil)
	}
	return nil
}

// commitResolved writes the resolved contents, stages them and concludes the
// in-progress merge.
func (r *Resolver) commitResolved(ctx context.Context, branch string, tier protocol.Tier, paths []string, resolved map[string]string) error {
	for _, path := range paths {
		full := filepath.Join(r.Driver.RepoDir(), path)
		if err := os.WriteFile(full, []byte(resolved[path]), 0o644); err != nil {
			return protocol.NewMergeError(branch, tier, "write resolved "+path, err)
		}
	}

	gctx, cancel := r.gitCtx(ctx)
	defer cancel()
	if err := r.Driver.Add(gctx, paths...); err != nil {
		return err
	}
	cmd, err := r.Driver.Commit(gctx, fmt.Sprintf("Merge branch '%s' (%s)", branch, tier))
	if err != nil {
		return err
	}
	if cmd.ExitCode != 0 {
		return protocol.NewMergeError(branch, tier, "merge commit failed", nil)
	}
	return nil
}

func (r *Resolver) show(ctx context.Context, rev, path string) (string, error) {
	ctx, cancel := r.gitCtx(ctx)
	defer cancel()
	return r.Driver.Show(ctx, rev, path)
}

func (r *Resolver) runAI(ctx context.Context, f func(context.Context) (string, error)) (string, error) {
	timeout := r.AITimeout
	if timeout <= 0 {
		timeout = DefaultAITimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return f(ctx)
}

func (r *Resolver) gitCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := r.GitTimeout
	if timeout <= 0 {
		timeout = DefaultGitTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *Resolver) recordOutcome(ctx context.Context, res *Result) {
	if r.Expertise == nil {
		return
	}
	_ = r.Expertise.RecordOutcome(ctx, Outcome{
		Branch:  res.Entry.Branch,
		Files:   res.Entry.Files,
		Success: res.Success,
		Tier:    res.Tier,
	})
}

// mergeOutcome is the payload of merged / merge_failed mail.
type mergeOutcome struct {
	Branch        string        `json:"branch"`
	TaskID        string        `json:"task_id,omitempty"`
	Tier          protocol.Tier `json:"tier,omitempty"`
	ConflictFiles []string      `json:"conflict_files,omitempty"`
	Error         string        `json:"error,omitempty"`
}

func (r *Resolver) notify(ctx context.Context, res *Result) {
	if r.Mail == nil || res.Entry.AgentName == "" {
		return
	}
	msgType := protocol.MsgMerged
	subject := "merged: " + res.Entry.Branch
	if !res.Success {
		msgType = protocol.MsgMergeFailed
		subject = "merge failed: " + res.Entry.Branch
	}
	_, _ = r.Mail.SendProtocol(ctx, mail.Message{
		From:    "merge-resolver",
		To:      res.Entry.AgentName,
		Subject: subject,
	}, msgType, mergeOutcome{
		Branch:        res.Entry.Branch,
		TaskID:        res.Entry.TaskID,
		Tier:          res.Tier,
		ConflictFiles: res.ConflictFiles,
		Error:         res.ErrorMessage,
	})
}

func (r *Resolver) logEvent(ctx context.Context, res *Result) {
	if r.Events == nil {
		return
	}
	level := protocol.LevelInfo
	if !res.Success {
		level = protocol.LevelError
	}
	payload, _ := json.Marshal(mergeOutcome{
		Branch:        res.Entry.Branch,
		TaskID:        res.Entry.TaskID,
		Tier:          res.Tier,
		ConflictFiles: res.ConflictFiles,
		Error:         res.ErrorMessage,
	})
	_, _ = r.Events.Insert(ctx, eventlog.Event{
		AgentName: res.Entry.AgentName,
		Kind:      protocol.EventCustom,
		Level:     level,
		Payload:   string(payload),
	})
}
