package ticketlink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/deskhive-io/deskhive/internal/ticketing"
	"github.com/deskhive-io/deskhive/pkg/protocol"
)

// clarifyPrefix marks comments the bot posts on behalf of the user; the
// ticketing client filters them back out of the update feed.
const clarifyPrefix = "Clarification from client:"

// Manager owns ticket creation and clarification comments. Idempotency is by
// construction: a ticket is created only when a routing branch explicitly
// decided to create one, never by fuzzy matching against existing tickets
// (title-fragment reuse was tried and merged unrelated questions).
type Manager struct {
	links   Store
	tickets ticketing.Client
	logger  *slog.Logger
}

// NewManager creates a Manager.
func NewManager(links Store, tickets ticketing.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{links: links, tickets: tickets, logger: logger}
}

// CreateTicket creates an external ticket and persists an active link for
// it. The conversation key is stamped into the request so the update feed
// can route comments back.
func (m *Manager) CreateTicket(ctx context.Context, key protocol.ConversationKey, kind Kind, req ticketing.CreateRequest) (string, error) {
	req.ChatID = key.ChatID
	req.UserID = key.UserID
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	id, err := m.tickets.CreateTicket(ctx, req)
	if err != nil {
		return "", fmt.Errorf("ticketlink: create: %w", err)
	}

	link := &Link{
		TicketID:  id,
		ChatID:    key.ChatID,
		UserID:    key.UserID,
		Kind:      kind,
		Title:     req.Title,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if err := m.links.Upsert(link); err != nil {
		// The external ticket exists; losing the link row only costs comment
		// dedup until the reconciler recreates it.
		m.logger.Error("ticketlink: link persist failed", "ticket", id, "error", err)
	}

	m.logger.Info("ticket created", "ticket", id, "kind", string(kind), "chat", key.ChatID)
	return id, nil
}

// AppendClarification posts the user's follow-up text as a comment on an
// existing ticket. It never changes the link's active flag.
func (m *Manager) AppendClarification(ctx context.Context, ticketID, text string) bool {
	err := m.tickets.AddComment(ctx, ticketID, clarifyPrefix+"\n"+text)
	if err != nil {
		m.logger.Error("ticketlink: append clarification failed", "ticket", ticketID, "error", err)
		return false
	}
	return true
}

// AppendAttachments posts attachment links as a single comment.
func (m *Manager) AppendAttachments(ctx context.Context, ticketID, caption string, urls []string) bool {
	text := "[ATTACH] " + caption
	for _, u := range urls {
		text += "\n- " + u
	}
	if err := m.tickets.AddComment(ctx, ticketID, text); err != nil {
		m.logger.Error("ticketlink: append attachments failed", "ticket", ticketID, "error", err)
		return false
	}
	return true
}

// LatestActiveQuestion returns the newest active question link for a chat,
// or nil.
func (m *Manager) LatestActiveQuestion(chatID string) *Link {
	l, err := m.links.LatestActive(chatID, KindQuestion)
	if err != nil {
		m.logger.Error("ticketlink: latest active lookup failed", "chat", chatID, "error", err)
		return nil
	}
	return l
}

// FindOrCreateDocsTicket returns the chat's active docs ticket, creating one
// when absent. Used for attachments that arrive with no question to bind to.
func (m *Manager) FindOrCreateDocsTicket(ctx context.Context, key protocol.ConversationKey, clientName, responsible string) (string, error) {
	if l, err := m.links.LatestActive(key.ChatID, KindDocs); err == nil && l != nil {
		return l.TicketID, nil
	}

	title := "Documents from chat " + key.ChatID
	desc := fmt.Sprintf("Name: %s\nChat: %s\nType: chat documents", clientName, key.ChatID)
	return m.CreateTicket(ctx, key, KindDocs, ticketing.CreateRequest{
		Title:       title,
		Description: desc,
		Responsible: responsible,
	})
}

// LogStats writes a one-line summary of link state, used by the daily
// report job.
func (m *Manager) LogStats() {
	n, err := m.links.CountActive()
	if err != nil {
		m.logger.Error("ticketlink: stats failed", "error", err)
		return
	}
	m.logger.Info("ticket link stats", "active_links", n)
}
