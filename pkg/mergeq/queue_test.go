package mergeq

import (
	"context"
	"path/filepath"
	"testing"

	"overstory/pkg/protocol"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(filepath.Join(t.TempDir(), "merge-queue.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	branches := []string{"overstory/b1/t1", "overstory/b2/t2", "overstory/b3/t3"}
	for _, br := range branches {
		if _, err := q.Enqueue(ctx, Entry{Branch: br, AgentName: "b", Files: []string{"a.go"}}); err != nil {
			t.Fatalf("Enqueue %s: %v", br, err)
		}
	}

	for i, want := range branches {
		entry, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue %d: %v", i, err)
		}
		if entry == nil || entry.Branch != want {
			t.Fatalf("Dequeue %d = %+v, want branch %s", i, entry, want)
		}
		if entry.Status != protocol.MergeMerging {
			t.Errorf("dequeued status = %v, want merging", entry.Status)
		}
	}

	entry, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue empty: %v", err)
	}
	if entry != nil {
		t.Errorf("empty queue returned %+v", entry)
	}
}

func TestEnqueueDefaultsAndRoundTrip(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	e, err := q.Enqueue(ctx, Entry{
		Branch:    "overstory/builder-1/task-9",
		TaskID:    "task-9",
		AgentName: "builder-1",
		Files:     []string{"pkg/a.go", "pkg/b.go"},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if e.ID == 0 || e.Status != protocol.MergePending || e.EnqueuedAt.IsZero() {
		t.Errorf("enqueue defaults: %+v", e)
	}

	got, err := q.GetByBranch(ctx, "overstory/builder-1/task-9")
	if err != nil {
		t.Fatalf("GetByBranch: %v", err)
	}
	if len(got.Files) != 2 || got.Files[0] != "pkg/a.go" {
		t.Errorf("files round trip: %v", got.Files)
	}
	if got.ResolvedTier != nil {
		t.Errorf("fresh entry has tier %v", *got.ResolvedTier)
	}
}

func TestEnqueueDuplicateBranch(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, Entry{Branch: "dup"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	_, err := q.Enqueue(ctx, Entry{Branch: "dup"})
	if protocol.KindOf(err) != protocol.KindMerge {
		t.Errorf("duplicate enqueue: kind = %v, want merge", protocol.KindOf(err))
	}
}

func TestEnqueueValidation(t *testing.T) {
	q := openTestQueue(t)
	_, err := q.Enqueue(context.Background(), Entry{})
	if protocol.KindOf(err) != protocol.KindValidation {
		t.Errorf("kind = %v, want validation", protocol.KindOf(err))
	}
}

func TestPeekDoesNotClaim(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, Entry{Branch: "head"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for i := 0; i < 2; i++ {
		entry, err := q.Peek(ctx)
		if err != nil {
			t.Fatalf("Peek %d: %v", i, err)
		}
		if entry == nil || entry.Branch != "head" || entry.Status != protocol.MergePending {
			t.Errorf("Peek %d = %+v", i, entry)
		}
	}
}

func TestListByStatus(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	for _, br := range []string{"a", "b", "c"} {
		if _, err := q.Enqueue(ctx, Entry{Branch: br}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	tier := protocol.TierCleanMerge
	if err := q.UpdateStatus(ctx, "a", protocol.MergeMerged, &tier); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	pending, err := q.List(ctx, protocol.MergePending)
	if err != nil {
		t.Fatalf("List pending: %v", err)
	}
	if len(pending) != 2 || pending[0].Branch != "b" {
		t.Errorf("pending = %+v", pending)
	}

	all, err := q.List(ctx, "")
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all = %d entries, want 3", len(all))
	}

	merged, err := q.GetByBranch(ctx, "a")
	if err != nil {
		t.Fatalf("GetByBranch: %v", err)
	}
	if merged.Status != protocol.MergeMerged || merged.ResolvedTier == nil || *merged.ResolvedTier != protocol.TierCleanMerge {
		t.Errorf("merged entry = %+v", merged)
	}
}

func TestUpdateStatusMissing(t *testing.T) {
	q := openTestQueue(t)
	err := q.UpdateStatus(context.Background(), "ghost", protocol.MergeFailed, nil)
	if protocol.KindOf(err) != protocol.KindMerge {
		t.Errorf("kind = %v, want merge", protocol.KindOf(err))
	}
}

func TestRemove(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, Entry{Branch: "gone"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Remove(ctx, "gone"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := q.Remove(ctx, "gone"); protocol.KindOf(err) != protocol.KindMerge {
		t.Errorf("second remove: kind = %v", protocol.KindOf(err))
	}
}
