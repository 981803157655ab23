package ticketlink

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "links.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.DB().Close() })
	return s
}

func TestUpsertAndGet(t *testing.T) {
	s := newTestStore(t)

	l := &Link{
		TicketID: "501",
		ChatID:   "100",
		UserID:   "7",
		Kind:     KindQuestion,
		Title:    "Question: certificate",
		Status:   "2",
		IsActive: true,
	}
	if err := s.Upsert(l); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.Get("501")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("link not found")
	}
	if got.ChatID != "100" || got.Kind != KindQuestion || !got.IsActive {
		t.Errorf("link = %+v", got)
	}

	missing, err := s.Get("999")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown ticket, got %+v", missing)
	}
}

func TestLatestActivePicksNewestOfKind(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	s.Upsert(&Link{TicketID: "1", ChatID: "100", Kind: KindQuestion, IsActive: true, CreatedAt: base})
	s.Upsert(&Link{TicketID: "2", ChatID: "100", Kind: KindQuestion, IsActive: true, CreatedAt: base.Add(time.Minute)})
	s.Upsert(&Link{TicketID: "3", ChatID: "100", Kind: KindQuestion, IsActive: false, CreatedAt: base.Add(2 * time.Minute)})
	s.Upsert(&Link{TicketID: "4", ChatID: "100", Kind: KindDocs, IsActive: true, CreatedAt: base.Add(3 * time.Minute)})
	s.Upsert(&Link{TicketID: "5", ChatID: "200", Kind: KindQuestion, IsActive: true, CreatedAt: base.Add(4 * time.Minute)})

	got, err := s.LatestActive("100", KindQuestion)
	if err != nil {
		t.Fatalf("latest active: %v", err)
	}
	if got == nil || got.TicketID != "2" {
		t.Errorf("latest active = %+v, want ticket 2", got)
	}
}

func TestWatermarkAndStatus(t *testing.T) {
	s := newTestStore(t)
	s.Upsert(&Link{TicketID: "501", ChatID: "100", Kind: KindQuestion, IsActive: true})

	if err := s.SetWatermark("501", "19"); err != nil {
		t.Fatalf("set watermark: %v", err)
	}
	if err := s.SetStatus("501", "5", false); err != nil {
		t.Fatalf("set status: %v", err)
	}

	got, _ := s.Get("501")
	if got.LastCommentID != "19" || got.Status != "5" || got.IsActive {
		t.Errorf("link = %+v", got)
	}

	if err := s.SetWatermark("999", "1"); err == nil {
		t.Error("expected error for unknown ticket")
	}
}

func TestCountActive(t *testing.T) {
	s := newTestStore(t)
	s.Upsert(&Link{TicketID: "1", ChatID: "a", Kind: KindQuestion, IsActive: true})
	s.Upsert(&Link{TicketID: "2", ChatID: "b", Kind: KindDocs, IsActive: true})
	s.Upsert(&Link{TicketID: "3", ChatID: "c", Kind: KindQuestion, IsActive: false})

	n, err := s.CountActive()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("active = %d, want 2", n)
	}
}
