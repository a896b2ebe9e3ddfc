package mail

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"overstory/pkg/protocol"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "mail.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndGetByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, Message{
		From:    "coordinator",
		To:      "builder-1",
		Subject: "task assignment",
		Body:    "implement the parser",
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}

	got, err := s.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.From != "coordinator" || got.To != "builder-1" || got.Body != "implement the parser" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Type != protocol.MsgStatus || got.Priority != protocol.PriorityNormal {
		t.Errorf("defaults not applied: type=%v priority=%v", got.Type, got.Priority)
	}
	if got.Read {
		t.Error("new message should be unread")
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at not stamped")
	}
}

func TestInsertValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, Message{To: "builder-1"})
	if protocol.KindOf(err) != protocol.KindValidation {
		t.Errorf("missing sender: kind = %v", protocol.KindOf(err))
	}

	_, err = s.Insert(ctx, Message{From: "a", To: "@builders"})
	if protocol.KindOf(err) != protocol.KindMail {
		t.Errorf("unresolved group: kind = %v", protocol.KindOf(err))
	}
}

func TestGetByIDMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetByID(context.Background(), "msg0000000000000000")
	if protocol.KindOf(err) != protocol.KindMail {
		t.Errorf("kind = %v, want mail", protocol.KindOf(err))
	}
}

func TestGetUnreadOldestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		now := base.Add(time.Duration(i) * time.Second)
		s.SetNowFunc(func() time.Time { return now })
		id, err := s.Insert(ctx, Message{From: "coordinator", To: "builder-1"})
		if err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	if err := s.MarkRead(ctx, ids[1]); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	unread, err := s.GetUnread(ctx, "builder-1")
	if err != nil {
		t.Fatalf("GetUnread: %v", err)
	}
	if len(unread) != 2 {
		t.Fatalf("len = %d, want 2", len(unread))
	}
	if unread[0].ID != ids[0] || unread[1].ID != ids[2] {
		t.Errorf("order = [%s %s], want [%s %s]", unread[0].ID, unread[1].ID, ids[0], ids[2])
	}
}

func TestGetAllFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seed := []Message{
		{From: "coordinator", To: "builder-1"},
		{From: "coordinator", To: "scout-1"},
		{From: "builder-1", To: "coordinator"},
	}
	var ids []string
	for i, m := range seed {
		id, err := s.Insert(ctx, m)
		if err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	if err := s.MarkRead(ctx, ids[0]); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 3},
		{"from coordinator", Filter{From: "coordinator"}, 2},
		{"to coordinator", Filter{To: "coordinator"}, 1},
		{"unread only", Filter{Unread: true}, 2},
		{"from and unread", Filter{From: "coordinator", Unread: true}, 1},
		{"limit", Filter{Limit: 2}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.GetAll(ctx, tt.filter)
			if err != nil {
				t.Fatalf("GetAll: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestMarkReadMissing(t *testing.T) {
	s := openTestStore(t)
	err := s.MarkRead(context.Background(), "msgnope")
	if protocol.KindOf(err) != protocol.KindMail {
		t.Errorf("kind = %v, want mail", protocol.KindOf(err))
	}
}

func TestPurge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	s.SetNowFunc(func() time.Time { return base.Add(-72 * time.Hour) })
	for i := 0; i < 2; i++ {
		if _, err := s.Insert(ctx, Message{From: "old", To: "builder-1"}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	s.SetNowFunc(func() time.Time { return base })
	if _, err := s.Insert(ctx, Message{From: "fresh", To: "builder-1"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := s.PurgeByAge(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeByAge: %v", err)
	}
	if n != 2 {
		t.Errorf("purged %d, want 2", n)
	}

	if _, err := s.Insert(ctx, Message{From: "builder-1", To: "coordinator"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	n, err = s.PurgeByAgent(ctx, "builder-1")
	if err != nil {
		t.Fatalf("PurgeByAgent: %v", err)
	}
	if n != 2 {
		t.Errorf("purged %d (to+from), want 2", n)
	}

	if _, err := s.Insert(ctx, Message{From: "a", To: "b"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	n, err = s.PurgeAll(ctx)
	if err != nil {
		t.Fatalf("PurgeAll: %v", err)
	}
	if n != 1 {
		t.Errorf("purge all = %d, want 1", n)
	}
}
