package ai

import (
	"strings"
	"time"
)

// Greeting returns the time-of-day salutation for t.
func Greeting(t time.Time) string {
	switch h := t.Hour(); {
	case h < 6:
		return "Good night"
	case h < 12:
		return "Good morning"
	case h < 18:
		return "Good afternoon"
	default:
		return "Good evening"
	}
}

// FormatWithName prefixes the first reply of the day with a greeting and the
// client's name. Later replies pass through unchanged.
func FormatWithName(reply, name string, now time.Time, firstToday bool) string {
	if !firstToday {
		return reply
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Greeting(now) + "!\n\n" + reply
	}
	return Greeting(now) + ", " + name + "!\n\n" + reply
}
