package eventlog

import (
	"context"
	"testing"
	"time"
)

func TestUpsertMetricsReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := SessionMetrics{
		AgentName:    "builder-1",
		TaskID:       "task-9",
		RunID:        "run-1",
		ToolCalls:    12,
		InputTokens:  4000,
		OutputTokens: 900,
		DurationMS:   60000,
		Outcome:      "completed",
	}
	if err := s.UpsertMetrics(ctx, m); err != nil {
		t.Fatalf("UpsertMetrics: %v", err)
	}

	got, ok, err := s.GetMetrics(ctx, "builder-1", "task-9")
	if err != nil || !ok {
		t.Fatalf("GetMetrics: %v ok=%v", err, ok)
	}
	if got.ToolCalls != 12 || got.Outcome != "completed" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	// Retried task overwrites the earlier attempt.
	m.ToolCalls = 30
	m.Outcome = "zombie"
	if err := s.UpsertMetrics(ctx, m); err != nil {
		t.Fatalf("re-UpsertMetrics: %v", err)
	}
	got, ok, err = s.GetMetrics(ctx, "builder-1", "task-9")
	if err != nil || !ok {
		t.Fatalf("GetMetrics: %v ok=%v", err, ok)
	}
	if got.ToolCalls != 30 || got.Outcome != "zombie" {
		t.Errorf("upsert did not replace: %+v", got)
	}

	byRun, err := s.MetricsByRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("MetricsByRun: %v", err)
	}
	if len(byRun) != 1 {
		t.Errorf("run should have one metrics row, got %d", len(byRun))
	}
}

func TestMetricsValidation(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertMetrics(context.Background(), SessionMetrics{AgentName: "a"}); err == nil {
		t.Error("metrics without task id should be rejected")
	}
	_, ok, err := s.GetMetrics(context.Background(), "nobody", "none")
	if err != nil || ok {
		t.Errorf("missing metrics = ok=%v err=%v", ok, err)
	}
}

func TestTokenSnapshots(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := s.InsertSnapshot(ctx, TokenSnapshot{
			AgentName:    "builder-1",
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
			InputTokens:  int64(1000 * (i + 1)),
			OutputTokens: int64(100 * (i + 1)),
			ContextUsed:  int64(2000 * (i + 1)),
		}); err != nil {
			t.Fatalf("InsertSnapshot %d: %v", i, err)
		}
	}

	snaps, err := s.SnapshotsByAgent(ctx, "builder-1")
	if err != nil {
		t.Fatalf("SnapshotsByAgent: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("len = %d, want 3", len(snaps))
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i].CreatedAt.Before(snaps[i-1].CreatedAt) {
			t.Error("snapshots not chronological")
		}
		if snaps[i].ContextUsed <= snaps[i-1].ContextUsed {
			t.Error("context growth not preserved")
		}
	}
}
