package router

import (
	"context"

	"github.com/deskhive-io/deskhive/internal/connector"
	"github.com/deskhive-io/deskhive/internal/ticketing"
	"github.com/deskhive-io/deskhive/internal/ticketlink"
	"github.com/deskhive-io/deskhive/pkg/protocol"
)

// HandleAttachment binds incoming files to a ticket immediately, bypassing
// the coalescing scheduler. Priority: active ticket wait, then the newest
// active question ticket, then a fresh ticket from the caption, then the
// per-chat docs ticket.
func (r *Router) HandleAttachment(ctx context.Context, key protocol.ConversationKey,
	caption string, attachments []connector.Attachment) {

	urls := make([]string, 0, len(attachments))
	for _, a := range attachments {
		urls = append(urls, a.URL)
	}

	if ticketID, ok := r.state.PopTicketWait(key); ok {
		if r.tickets.AppendAttachments(ctx, ticketID, caption, urls) {
			r.reply(ctx, key, "Added your files to ticket #"+ticketID+".")
		} else {
			r.reply(ctx, key, "I could not attach your files just now. Please send them again in a few minutes.")
		}
		return
	}

	if link := r.tickets.LatestActiveQuestion(key.ChatID); link != nil {
		if r.tickets.AppendAttachments(ctx, link.TicketID, caption, urls) {
			r.reply(ctx, key, "Added your files to ticket #"+link.TicketID+".")
		} else {
			r.reply(ctx, key, "I could not attach your files just now. Please send them again in a few minutes.")
		}
		return
	}

	if caption != "" {
		// Files arrived with a question of their own: open a ticket for it.
		recent := r.recentHistory(key)
		r.createTicketWithFiles(ctx, key, caption, recent, urls)
		return
	}

	// Bare files with nothing to bind to land on the chat's docs ticket.
	ticketID, err := r.tickets.FindOrCreateDocsTicket(ctx, key, r.displayName(key), r.responsibleFor(key))
	if err != nil {
		r.logger.Error("router: docs ticket failed", "chat", key.ChatID, "error", err)
		r.reply(ctx, key, "The service is temporarily unavailable. Please try again a little later.")
		return
	}
	r.tickets.AppendAttachments(ctx, ticketID, "chat documents", urls)
	r.reply(ctx, key, "Saved your files to ticket #"+ticketID+".")
}

// createTicketWithFiles opens a question ticket from the caption and attaches
// the files to it.
func (r *Router) createTicketWithFiles(ctx context.Context, key protocol.ConversationKey,
	caption string, recent []protocol.HistoryMessage, urls []string) {

	title, err := r.ai.Summarize(ctx, caption, recent)
	if err != nil || title == "" {
		title = fallbackTitle(caption)
	}

	id, err := r.tickets.CreateTicket(ctx, key, ticketlink.KindQuestion, ticketing.CreateRequest{
		Title:       "Question: " + title,
		Description: "Name: " + r.displayName(key) + "\n\n" + caption,
		Responsible: r.responsibleFor(key),
	})
	if err != nil {
		r.logger.Error("router: ticket create failed", "chat", key.ChatID, "error", err)
		r.reply(ctx, key, "The service is temporarily unavailable. Please try again a little later.")
		return
	}
	r.tickets.AppendAttachments(ctx, id, caption, urls)
	r.reply(ctx, key, r.acceptedNotice(id))
}

func (r *Router) responsibleFor(key protocol.ConversationKey) string {
	if id, ok := r.roster.ResponsibleFor(key.ChatID); ok {
		return id
	}
	return r.cfg.DefaultResponsible
}
