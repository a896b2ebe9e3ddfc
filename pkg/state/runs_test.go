package state

import (
	"context"
	"testing"
	"time"

	"overstory/pkg/protocol"
)

func TestCreateRunRejectsSecondActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.ID == "" || run.Status != RunActive {
		t.Errorf("unexpected run: %+v", run)
	}

	_, err = s.CreateRun(ctx)
	if protocol.KindOf(err) != protocol.KindLifecycle {
		t.Errorf("second active create: kind = %v, want lifecycle", protocol.KindOf(err))
	}

	if err := s.CompleteRun(ctx, run.ID); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	if _, err := s.CreateRun(ctx); err != nil {
		t.Errorf("create after complete: %v", err)
	}
}

func TestGetRunAndActiveRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if active, err := s.GetActiveRun(ctx); err != nil || active != nil {
		t.Fatalf("GetActiveRun on empty store = %v, %v", active, err)
	}

	run, err := s.CreateRun(ctx)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.ID != run.ID || got.Status != RunActive || got.CompletedAt != nil {
		t.Errorf("GetRun = %+v", got)
	}

	active, err := s.GetActiveRun(ctx)
	if err != nil {
		t.Fatalf("GetActiveRun: %v", err)
	}
	if active == nil || active.ID != run.ID {
		t.Errorf("GetActiveRun = %+v", active)
	}

	_, err = s.GetRun(ctx, "no-such-run")
	if protocol.KindOf(err) != protocol.KindLifecycle {
		t.Errorf("missing run: kind = %v, want lifecycle", protocol.KindOf(err))
	}
}

func TestIncrementAgentCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.IncrementAgentCount(ctx, run.ID); err != nil {
			t.Fatalf("IncrementAgentCount: %v", err)
		}
	}
	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.AgentCount != 3 {
		t.Errorf("agent_count = %d, want 3", got.AgentCount)
	}

	err = s.IncrementAgentCount(ctx, "no-such-run")
	if protocol.KindOf(err) != protocol.KindLifecycle {
		t.Errorf("increment missing run: kind = %v", protocol.KindOf(err))
	}
}

func TestCompleteRunStampsCompletedAt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	done := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run, err := s.CreateRun(ctx)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	s.SetNowFunc(func() time.Time { return done })

	if err := s.CompleteRun(ctx, run.ID); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != RunCompleted {
		t.Errorf("status = %q", got.Status)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("completed_at = %v, want %v", got.CompletedAt, done)
	}

	// Completing twice is rejected: the row is no longer active.
	err = s.CompleteRun(ctx, run.ID)
	if protocol.KindOf(err) != protocol.KindLifecycle {
		t.Errorf("double complete: kind = %v", protocol.KindOf(err))
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		now := base.Add(time.Duration(i) * time.Hour)
		s.SetNowFunc(func() time.Time { return now })
		run, err := s.CreateRun(ctx)
		if err != nil {
			t.Fatalf("CreateRun %d: %v", i, err)
		}
		if err := s.CompleteRun(ctx, run.ID); err != nil {
			t.Fatalf("CompleteRun %d: %v", i, err)
		}
		ids = append(ids, run.ID)
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("len = %d, want 3", len(runs))
	}
	for i, run := range runs {
		if run.ID != ids[2-i] {
			t.Errorf("runs[%d] = %s, want %s", i, run.ID, ids[2-i])
		}
	}

	capped, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns capped: %v", err)
	}
	if len(capped) != 2 || capped[0].ID != ids[2] {
		t.Errorf("capped = %+v", capped)
	}
}
