package schedule

import (
	"testing"
	"time"
)

func TestWindowContains(t *testing.T) {
	w, err := NewWindow("09:00", "18:00", "UTC")
	if err != nil {
		t.Fatalf("new window: %v", err)
	}

	cases := []struct {
		at   time.Time
		want bool
	}{
		// Monday 2026-08-24
		{time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC), true},
		{time.Date(2026, 8, 24, 17, 59, 0, 0, time.UTC), true},
		{time.Date(2026, 8, 24, 18, 0, 0, 0, time.UTC), false},
		{time.Date(2026, 8, 24, 8, 59, 0, 0, time.UTC), false},
		// Saturday
		{time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		if got := w.Contains(tc.at); got != tc.want {
			t.Errorf("Contains(%v) = %v, want %v", tc.at, got, tc.want)
		}
	}
}

func TestWindowConvertsTimezone(t *testing.T) {
	w, err := NewWindow("09:00", "18:00", "Europe/Moscow")
	if err != nil {
		t.Fatalf("new window: %v", err)
	}
	// 07:00 UTC on a Tuesday is 10:00 in Moscow.
	if !w.Contains(time.Date(2026, 8, 25, 7, 0, 0, 0, time.UTC)) {
		t.Error("expected working hours after conversion")
	}
	// 16:00 UTC is 19:00 in Moscow.
	if w.Contains(time.Date(2026, 8, 25, 16, 0, 0, 0, time.UTC)) {
		t.Error("expected off-hours after conversion")
	}
}

func TestWindowRejectsBadInput(t *testing.T) {
	if _, err := NewWindow("18:00", "09:00", "UTC"); err == nil {
		t.Error("inverted window accepted")
	}
	if _, err := NewWindow("9am", "18:00", "UTC"); err == nil {
		t.Error("bad clock accepted")
	}
	if _, err := NewWindow("09:00", "18:00", "Mars/Olympus"); err == nil {
		t.Error("bad timezone accepted")
	}
}
