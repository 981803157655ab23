// Package ticketing wraps the external ticketing system's webhook REST API.
// The core consumes it contract-only: create, comment, update feed, brief.
package ticketing

import (
	"context"
	"time"

	"github.com/deskhive-io/deskhive/pkg/protocol"
)

// CreateRequest describes a new ticket.
type CreateRequest struct {
	Title          string
	Description    string
	Responsible    string   // Responsible pool/user id; empty selects the system default
	Accomplices    []string // Additional watchers (off-tariff sales pool)
	ChatID         string   // Originating chat, embedded as a tag for the update feed
	UserID         string   // Originating participant, embedded as a tag
	ChatTitle      string
	IdempotencyKey string // At-least-once delivery with dedup on the server side
}

// Client is the boundary to the external ticketing system. Every call has a
// bounded timeout; this is the most failure-prone collaborator and it sits
// on the reconciliation poller's critical path.
type Client interface {
	// CreateTicket creates a ticket and returns its external id.
	CreateTicket(ctx context.Context, req CreateRequest) (string, error)
	// AddComment posts a comment to a ticket.
	AddComment(ctx context.Context, ticketID, text string) error
	// ListUpdatedTickets returns externally active tickets touched since the
	// given time, each with its full, sanitized, chronological comment list.
	ListUpdatedTickets(ctx context.Context, since time.Time) ([]protocol.TicketUpdate, error)
	// GetBrief returns a short ticket summary.
	GetBrief(ctx context.Context, ticketID string) (*protocol.TicketBrief, error)
	// FetchFile downloads a file attached to a ticket comment.
	FetchFile(ctx context.Context, url string) ([]byte, error)
}
