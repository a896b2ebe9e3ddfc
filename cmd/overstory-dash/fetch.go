package main

import (
	"context"
	"path/filepath"
	"time"

	"overstory/pkg/eventlog"
	"overstory/pkg/mail"
	"overstory/pkg/mergeq"
	"overstory/pkg/protocol"
	"overstory/pkg/state"
)

// queueStatuses is the display order of the merge queue pane.
var queueStatuses = []protocol.MergeStatus{
	protocol.MergePending, protocol.MergeMerging,
	protocol.MergeConflict, protocol.MergeFailed, protocol.MergeMerged,
}

// fetchTimeout bounds one snapshot round-trip across the four stores.
const fetchTimeout = 5 * time.Second

// eventTail is how many recent events the events pane shows.
const eventTail = 30

// Snapshot is everything one refresh pulls from the state directory. Stores
// that do not exist yet contribute empty slices; an orchestrator that has
// never run here is not an error.
type Snapshot struct {
	Run      string           `json:"run,omitempty"`
	Sessions []state.Session  `json:"sessions"`
	Queue    []mergeq.Entry   `json:"merge_queue"`
	Unread   []mail.Message   `json:"unread_mail"`
	Events   []eventlog.Event `json:"events"`
}

// fetchSnapshot reads all four stores. Each store is opened, read, and
// closed so the dashboard never holds write locks between refreshes.
func fetchSnapshot(ctx context.Context, stateDir string) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	var snap Snapshot

	sessions, _, err := state.Open(
		filepath.Join(stateDir, "sessions.db"),
		filepath.Join(stateDir, "sessions.json"),
	)
	if err != nil {
		return snap, err
	}
	snap.Sessions, err = sessions.GetAll(ctx)
	if err != nil {
		sessions.Close()
		return snap, err
	}
	if run, err := sessions.GetActiveRun(ctx); err == nil && run != nil {
		snap.Run = run.ID
	}
	sessions.Close()

	queue, err := mergeq.Open(filepath.Join(stateDir, "merge-queue.db"))
	if err != nil {
		return snap, err
	}
	for _, st := range queueStatuses {
		entries, err := queue.List(ctx, st)
		if err != nil {
			queue.Close()
			return snap, err
		}
		snap.Queue = append(snap.Queue, entries...)
	}
	queue.Close()

	mailStore, err := mail.Open(filepath.Join(stateDir, "mail.db"))
	if err != nil {
		return snap, err
	}
	snap.Unread, err = mailStore.GetAll(ctx, mail.Filter{Unread: true})
	if err != nil {
		mailStore.Close()
		return snap, err
	}
	mailStore.Close()

	// The events database may not exist yet; the reader refusing to open
	// just leaves the events pane empty.
	if reader, err := eventlog.NewReader(filepath.Join(stateDir, "events.db")); err == nil {
		snap.Events, _ = reader.Query(ctx, eventlog.QueryOpts{Limit: eventTail})
		reader.Close()
	}

	return snap, nil
}
