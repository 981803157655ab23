// Package ticketlink owns the binding between conversations and external
// tickets: idempotent creation, clarification comments, and reconciliation
// of asynchronous ticket updates back into the conversation.
package ticketlink

import (
	"time"
)

// Kind tags what a linked ticket is for.
type Kind string

const (
	KindQuestion Kind = "question"
	KindDocs     Kind = "docs"
)

// Link is the persisted record binding a conversation to an external ticket.
// LastCommentID is the sole dedup watermark against the poller re-scanning
// the same ticket; it only ever advances.
type Link struct {
	TicketID      string
	ChatID        string
	UserID        string
	Kind          Kind
	Title         string
	Status        string
	LastCommentID string
	IsActive      bool
	CreatedAt     time.Time
}

// Store is the persistence interface for ticket links.
type Store interface {
	// Upsert creates or replaces a link row.
	Upsert(link *Link) error
	// Get returns the link for a ticket, or nil if none is recorded.
	Get(ticketID string) (*Link, error)
	// LatestActive returns the newest active link of the given kind for a
	// chat, or nil if there is none.
	LatestActive(chatID string, kind Kind) (*Link, error)
	// SetWatermark advances last_comment_id for a ticket.
	SetWatermark(ticketID, commentID string) error
	// SetStatus records the externally observed status and active flag.
	SetStatus(ticketID, status string, active bool) error
	// CountActive returns the number of active links.
	CountActive() (int, error)
}
