package ticketing

import (
	"regexp"
	"strings"
)

var markupRe = regexp.MustCompile(`\[/?(USER|URL|B|I|U|CODE|QUOTE)(?:=[^\]]+)?\]`)

// Prefixes the bot itself writes into tickets; echoing them back to the user
// would loop its own output through the conversation.
var botPrefixes = []string{
	"Clarification from client:",
	"[URGENT]",
	"[ATTACH]",
	"User asked a similar question:",
}

// Fragments of auto-generated workflow comments (assignment and deadline
// churn) that carry no information for the end user.
var systemFragments = []string{
	"was assigned as responsible",
	"deadline is required",
	"changed the deadline",
	"complete the task or move the deadline",
}

// stripMarkup removes ticket-system BB-style markup tags.
func stripMarkup(s string) string {
	return strings.TrimSpace(markupRe.ReplaceAllString(s, ""))
}

// sanitizeComment cleans a raw comment body and reports whether the comment
// should be relayed at all. Comments carrying file attachments survive the
// system-fragment filter: a staff member may attach a document with an
// auto-generated caption.
func sanitizeComment(raw string, hasFiles bool) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	for _, p := range botPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return "", false
		}
	}

	cleaned := stripMarkup(trimmed)

	// Drop a leading "Name HH:MM" quote header if present.
	lines := nonEmptyLines(cleaned)
	if len(lines) > 0 && quoteHeaderRe.MatchString(lines[0]) {
		lines = lines[1:]
	}
	text := strings.Join(lines, "\n")

	if !hasFiles {
		lowered := strings.ToLower(text)
		for _, f := range systemFragments {
			if strings.Contains(lowered, f) {
				return "", false
			}
		}
	}
	return text, true
}

var quoteHeaderRe = regexp.MustCompile(`^\S+\s?\d{1,2}:\d{2}$`)

func nonEmptyLines(s string) []string {
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(ln); t != "" {
			out = append(out, t)
		}
	}
	return out
}
