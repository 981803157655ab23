// Package schedule answers one question: is it working hours right now? The
// answer picks which "ticket accepted" notice the bot sends.
package schedule

import (
	"fmt"
	"time"
)

// Window is a weekday working window in a fixed business timezone.
type Window struct {
	start    int // minutes from midnight
	end      int
	location *time.Location
}

// NewWindow parses "HH:MM" bounds and an IANA timezone name. The window
// applies Monday through Friday.
func NewWindow(start, end, tz string) (*Window, error) {
	s, err := parseClock(start)
	if err != nil {
		return nil, fmt.Errorf("schedule: start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return nil, fmt.Errorf("schedule: end: %w", err)
	}
	if e <= s {
		return nil, fmt.Errorf("schedule: window end %q not after start %q", end, start)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("schedule: timezone: %w", err)
	}
	return &Window{start: s, end: e, location: loc}, nil
}

// Contains reports whether t falls inside the working window.
func (w *Window) Contains(t time.Time) bool {
	local := t.In(w.location)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	m := local.Hour()*60 + local.Minute()
	return m >= w.start && m < w.end
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
