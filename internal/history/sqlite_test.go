package history

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/deskhive-io/deskhive/pkg/protocol"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.DB().Close() })
	return s
}

func TestAppendAndRecentRoundTrip(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		err := s.Append(protocol.HistoryMessage{
			ChatID:    "100",
			UserID:    "7",
			Role:      protocol.RoleUser,
			Content:   fmt.Sprintf("msg %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	got, err := s.Recent("100", 100)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d rows, want 5", len(got))
	}
	for i, m := range got {
		if m.Content != fmt.Sprintf("msg %d", i) {
			t.Errorf("row %d = %q, out of order", i, m.Content)
		}
		if m.ID == "" {
			t.Errorf("row %d has no generated id", i)
		}
	}
}

func TestRecentOrdersSubsecondTimestamps(t *testing.T) {
	s := newTestStore(t)

	// Fractional seconds whose shorter decimal would sort lexicographically
	// after the longer one (".5" vs ".52").
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	s.Append(protocol.HistoryMessage{
		ChatID: "c", Role: protocol.RoleUser, Content: "first",
		CreatedAt: base.Add(500 * time.Millisecond),
	})
	s.Append(protocol.HistoryMessage{
		ChatID: "c", Role: protocol.RoleUser, Content: "second",
		CreatedAt: base.Add(520 * time.Millisecond),
	})

	got, err := s.Recent("c", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].Content != "first" || got[1].Content != "second" {
		t.Errorf("chronological order violated: got [%s %s], want [first second]", got[0].Content, got[1].Content)
	}
}

func TestRecentKeepsInsertionOrderOnEqualTimestamps(t *testing.T) {
	s := newTestStore(t)

	at := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		s.Append(protocol.HistoryMessage{
			ChatID: "c", Role: protocol.RoleUser,
			Content: fmt.Sprintf("msg %d", i), CreatedAt: at,
		})
	}

	got, err := s.Recent("c", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	for i, m := range got {
		if m.Content != fmt.Sprintf("msg %d", i) {
			t.Errorf("row %d = %q, insertion order lost", i, m.Content)
		}
	}
}

func TestRecentLimitKeepsNewest(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		s.Append(protocol.HistoryMessage{
			ChatID:    "100",
			Role:      protocol.RoleUser,
			Content:   fmt.Sprintf("msg %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	got, err := s.Recent("100", 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3", len(got))
	}
	if got[0].Content != "msg 7" || got[2].Content != "msg 9" {
		t.Errorf("window = [%q .. %q], want newest three in order", got[0].Content, got[2].Content)
	}
}

func TestRecentScopedByChat(t *testing.T) {
	s := newTestStore(t)

	s.Append(protocol.HistoryMessage{ChatID: "100", Role: protocol.RoleUser, Content: "a"})
	s.Append(protocol.HistoryMessage{ChatID: "200", Role: protocol.RoleUser, Content: "b"})

	got, err := s.Recent("100", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].Content != "a" {
		t.Errorf("got %v, want only chat 100 rows", got)
	}
}

func TestIsFirstAssistantReplyToday(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	first, err := s.IsFirstAssistantReplyToday("100", now)
	if err != nil {
		t.Fatalf("empty chat: %v", err)
	}
	if !first {
		t.Error("empty chat should count as first reply today")
	}

	// User rows never suppress the greeting.
	s.Append(protocol.HistoryMessage{ChatID: "100", Role: protocol.RoleUser, Content: "hi", CreatedAt: now})
	first, _ = s.IsFirstAssistantReplyToday("100", now)
	if !first {
		t.Error("user message suppressed greeting")
	}

	// Yesterday's assistant row does not count.
	s.Append(protocol.HistoryMessage{ChatID: "100", Role: protocol.RoleAssistant, Content: "old", CreatedAt: now.Add(-26 * time.Hour)})
	first, _ = s.IsFirstAssistantReplyToday("100", now)
	if !first {
		t.Error("yesterday's reply suppressed greeting")
	}

	s.Append(protocol.HistoryMessage{ChatID: "100", Role: protocol.RoleAssistant, Content: "fresh", CreatedAt: now})
	first, _ = s.IsFirstAssistantReplyToday("100", now)
	if first {
		t.Error("today's reply should suppress greeting")
	}
}
