// Package protocol defines the shared vocabulary of the overstory core:
// agent capabilities, session states and their transition rules, mail and
// event enumerations, typed errors, and id generation. Every other package
// speaks in these types; none of them carries any I/O.
package protocol

import "fmt"

// Capability is the role tag of an agent. It controls spawn rights, tool
// policy, and whether the agent participates in run-level completion checks.
type Capability string

// Capability constants.
const (
	CapCoordinator Capability = "coordinator"
	CapSupervisor  Capability = "supervisor"
	CapLead        Capability = "lead"
	CapBuilder     Capability = "builder"
	CapScout       Capability = "scout"
	CapReviewer    Capability = "reviewer"
	CapMerger      Capability = "merger"
	CapMonitor     Capability = "monitor"
)

// Capabilities lists every valid capability tag.
var Capabilities = []Capability{
	CapCoordinator, CapSupervisor, CapLead, CapBuilder,
	CapScout, CapReviewer, CapMerger, CapMonitor,
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	for _, k := range Capabilities {
		if c == k {
			return true
		}
	}
	return false
}

// Persistent reports whether sessions with this capability outlive individual
// runs. Persistent agents are excluded from run completion checks but still
// monitored for liveness.
func (c Capability) Persistent() bool {
	return c == CapCoordinator || c == CapMonitor
}

// SessionState is the lifecycle state of an agent session.
type SessionState string

// Session state constants.
const (
	StateBooting   SessionState = "booting"
	StateWorking   SessionState = "working"
	StateCompleted SessionState = "completed"
	StateStalled   SessionState = "stalled"
	StateZombie    SessionState = "zombie"
)

// Terminal reports whether s is a terminal state.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateZombie
}

// allowedTransitions is the forward-only state DAG. Zombie is reachable from
// every non-terminal state because observable death overrides recorded state.
var allowedTransitions = map[SessionState][]SessionState{
	StateBooting: {StateWorking, StateStalled, StateZombie},
	StateWorking: {StateCompleted, StateStalled, StateZombie},
	StateStalled: {StateWorking, StateZombie},
}

// CanTransition reports whether from -> to is a legal state transition.
// Self-transitions are not legal; terminal states have no successors.
func CanTransition(from, to SessionState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MaxEscalationLevel is the terminal rung of the watchdog ladder.
const MaxEscalationLevel = 3

// MessageType classifies a mail message's structured payload.
type MessageType string

// Mail message type constants.
const (
	MsgStatus      MessageType = "status"
	MsgQuestion    MessageType = "question"
	MsgResult      MessageType = "result"
	MsgError       MessageType = "error"
	MsgWorkerDone  MessageType = "worker_done"
	MsgMergeReady  MessageType = "merge_ready"
	MsgMerged      MessageType = "merged"
	MsgMergeFailed MessageType = "merge_failed"
	MsgEscalation  MessageType = "escalation"
	MsgHealthCheck MessageType = "health_check"
	MsgDispatch    MessageType = "dispatch"
	MsgAssign      MessageType = "assign"
)

// Priority orders mail within a mailbox for display purposes only; delivery
// order remains createdAt ascending.
type Priority string

// Mail priority constants.
const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// EventKind classifies a stored event.
type EventKind string

// Event kind constants.
const (
	EventToolStart    EventKind = "tool_start"
	EventToolEnd      EventKind = "tool_end"
	EventSessionStart EventKind = "session_start"
	EventSessionEnd   EventKind = "session_end"
	EventMailSent     EventKind = "mail_sent"
	EventMailReceived EventKind = "mail_received"
	EventError        EventKind = "error"
	EventCustom       EventKind = "custom"
)

// Level is the severity of a stored event.
type Level string

// Event level constants.
const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// MergeStatus is the lifecycle state of a merge queue entry.
type MergeStatus string

// Merge queue status constants.
const (
	MergePending  MergeStatus = "pending"
	MergeMerging  MergeStatus = "merging"
	MergeMerged   MergeStatus = "merged"
	MergeConflict MergeStatus = "conflict"
	MergeFailed   MergeStatus = "failed"
)

// Tier identifies a merge resolution tier.
type Tier string

// Merge tier constants, in escalation order.
const (
	TierCleanMerge  Tier = "clean-merge"
	TierAutoResolve Tier = "auto-resolve"
	TierAIResolve   Tier = "ai-resolve"
	TierReimagine   Tier = "reimagine"
)

// Tiers lists the merge tiers in escalation order.
var Tiers = []Tier{TierCleanMerge, TierAutoResolve, TierAIResolve, TierReimagine}

// ValidateAgentName rejects names that could escape filesystem or tmux
// target scoping. Names are used in paths (.overstory/agents/<name>) and as
// tmux pane targets.
func ValidateAgentName(name string) error {
	if name == "" {
		return NewValidationError("agent name is empty", nil)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return NewValidationError(
				fmt.Sprintf("agent name %q contains invalid character %q", name, r),
				map[string]string{"name": name},
			)
		}
	}
	return nil
}
