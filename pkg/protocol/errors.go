package protocol

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind is the machine-readable classification of a core error.
type ErrorKind string

// Error kind constants.
const (
	KindConfig     ErrorKind = "config"
	KindValidation ErrorKind = "validation"
	KindAgent      ErrorKind = "agent"
	KindMail       ErrorKind = "mail"
	KindMerge      ErrorKind = "merge"
	KindLifecycle  ErrorKind = "lifecycle"
	KindWorktree   ErrorKind = "worktree"
	KindStore      ErrorKind = "store"
)

// Error is the single error type of the core. Every failure crossing a
// package boundary carries a kind tag, a human message, and a context map
// for structured reporting. Discriminate with errors.As and the Kind field.
type Error struct {
	Kind    ErrorKind
	Message string
	Context map[string]string
	Err     error // wrapped cause, may be nil
}

// Error renders "<kind>: <message> (k=v ...)" with sorted context keys.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Context[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, msg string, ctx map[string]string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Context: ctx, Err: err}
}

// NewConfigError reports malformed or missing configuration.
func NewConfigError(msg string, err error) *Error {
	return newError(KindConfig, msg, nil, err)
}

// NewValidationError reports caller arguments that violate a documented
// contract.
func NewValidationError(msg string, ctx map[string]string) *Error {
	return newError(KindValidation, msg, ctx, nil)
}

// NewAgentError reports an agent lifecycle problem for the named agent.
func NewAgentError(agent, msg string, err error) *Error {
	return newError(KindAgent, msg, map[string]string{"agent": agent}, err)
}

// NewMailError reports a mail store or client failure. id may be empty when
// the failure predates id assignment.
func NewMailError(id, msg string, err error) *Error {
	ctx := map[string]string{}
	if id != "" {
		ctx["message_id"] = id
	}
	return newError(KindMail, msg, ctx, err)
}

// NewMergeError reports a merge queue or resolver failure on a branch.
// tier may be empty for queue-level failures.
func NewMergeError(branch string, tier Tier, msg string, err error) *Error {
	ctx := map[string]string{"branch": branch}
	if tier != "" {
		ctx["tier"] = string(tier)
	}
	return newError(KindMerge, msg, ctx, err)
}

// NewLifecycleError reports a checkpoint/resume failure or a state
// transition rule violation.
func NewLifecycleError(msg string, ctx map[string]string) *Error {
	return newError(KindLifecycle, msg, ctx, nil)
}

// NewWorktreeError reports a git or worktree operation failure.
func NewWorktreeError(branch, path, msg string, err error) *Error {
	ctx := map[string]string{}
	if branch != "" {
		ctx["branch"] = branch
	}
	if path != "" {
		ctx["path"] = path
	}
	return newError(KindWorktree, msg, ctx, err)
}

// NewStoreError reports a low-level database failure.
func NewStoreError(msg string, err error) *Error {
	return newError(KindStore, msg, nil, err)
}

// KindOf returns the ErrorKind of err if it is (or wraps) a core Error, and
// "" otherwise.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
