// Package history persists conversation transcripts. Every inbound user
// text and every outbound bot text lands here exactly once, in chronological
// order; classification context and the first-reply-today greeting rule both
// read from it.
package history

import (
	"time"

	"github.com/deskhive-io/deskhive/pkg/protocol"
)

// Store is the persistence interface for conversation history rows.
type Store interface {
	// Append adds one message row. An empty ID is filled in by the store.
	Append(msg protocol.HistoryMessage) error
	// Recent returns up to limit messages for a chat in chronological order.
	Recent(chatID string, limit int) ([]protocol.HistoryMessage, error)
	// IsFirstAssistantReplyToday reports whether no assistant-authored row
	// exists for the chat with the same date as now (in now's location).
	IsFirstAssistantReplyToday(chatID string, now time.Time) (bool, error)
}
