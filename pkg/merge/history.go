package merge

import (
	"context"

	"overstory/pkg/protocol"
)

// Resolution is one previously accepted conflict resolution, replayed to the
// AI tier as an example of how conflicts in this repository get settled.
type Resolution struct {
	Path     string
	Ours     string
	Theirs   string
	Resolved string
}

// ConflictHistory is what the expertise layer knows about the files in a
// merge before the resolver starts: tiers known to fail on these paths,
// resolutions that worked before, and files predicted to conflict.
type ConflictHistory struct {
	SkipTiers              []protocol.Tier
	PastResolutions        []Resolution
	PredictedConflictFiles []string
}

// Outcome records how one merge attempt ended.
type Outcome struct {
	Branch  string
	Files   []string
	Success bool
	Tier    protocol.Tier
}

// Expertise accumulates merge outcomes and advises future attempts. Both
// methods are advisory: the resolver proceeds on a zero ConflictHistory when
// QueryPatterns fails and discards RecordOutcome errors.
type Expertise interface {
	QueryPatterns(ctx context.Context, files []string) (ConflictHistory, error)
	RecordOutcome(ctx context.Context, o Outcome) error
}
