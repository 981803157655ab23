package ticketlink

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/deskhive-io/deskhive/internal/connector"
	"github.com/deskhive-io/deskhive/internal/convstate"
	"github.com/deskhive-io/deskhive/internal/history"
	"github.com/deskhive-io/deskhive/internal/ticketing"
	"github.com/deskhive-io/deskhive/pkg/protocol"
)

// clarifyKeywords mark a staff comment as clarification-seeking even without
// a trailing question mark.
var clarifyKeywords = []string{
	"please clarify",
	"please provide",
	"please describe",
	"please send",
	"please specify",
	"let us know",
	"could you share",
	"we need",
}

// IsClarificationSeeking reports whether a relayed comment asks the user for
// more input: trailing '?' or any of a fixed keyword set.
func IsClarificationSeeking(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return false
	}
	if strings.HasSuffix(t, "?") {
		return true
	}
	for _, kw := range clarifyKeywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}

// Reconciler pushes asynchronous ticket updates (staff comments, status
// changes) back into conversations. One Run is one poll cycle; the poll
// layer guarantees cycles never overlap.
type Reconciler struct {
	links    Store
	tickets  ticketing.Client
	gateway  connector.Sender
	state    *convstate.Store
	history  history.Store
	terminal map[string]bool
	logger   *slog.Logger

	lastChecked time.Time
}

// NewReconciler creates a Reconciler. terminalStatuses are the external
// status codes that close a ticket for good.
func NewReconciler(links Store, tickets ticketing.Client, gateway connector.Sender,
	state *convstate.Store, hist history.Store, terminalStatuses []string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	terminal := make(map[string]bool, len(terminalStatuses))
	for _, s := range terminalStatuses {
		terminal[s] = true
	}
	return &Reconciler{
		links:       links,
		tickets:     tickets,
		gateway:     gateway,
		state:       state,
		history:     hist,
		terminal:    terminal,
		logger:      logger,
		lastChecked: time.Now().Add(-time.Hour),
	}
}

// Run executes one reconciliation cycle. A delivery failure stops processing
// of that ticket only — the watermark does not advance, so the next cycle
// retries from the failed comment. This is the system's sole retry path.
func (r *Reconciler) Run(ctx context.Context) {
	// The mark must not pass the fetch time: a ticket touched while this
	// cycle is processing would otherwise fall between the old and new marks
	// and never be fetched.
	started := time.Now()
	updates, err := r.tickets.ListUpdatedTickets(ctx, r.lastChecked)
	if err != nil {
		r.logger.Error("reconcile: update feed failed", "error", err)
		return
	}
	if len(updates) == 0 {
		return
	}

	anyFailed := false
	for _, u := range updates {
		if err := ctx.Err(); err != nil {
			return
		}
		if !r.reconcileTicket(ctx, u) {
			anyFailed = true
		}
	}
	if !anyFailed {
		r.lastChecked = started
	}
}

// reconcileTicket processes one ticket update; it returns false when a
// delivery failed and the ticket should be revisited next cycle.
func (r *Reconciler) reconcileTicket(ctx context.Context, u protocol.TicketUpdate) bool {
	link, err := r.links.Get(u.TicketID)
	if err != nil {
		r.logger.Error("reconcile: link lookup failed", "ticket", u.TicketID, "error", err)
		return false
	}
	if link != nil && !link.IsActive {
		// Terminal tickets are excluded from reconciliation for good.
		return true
	}

	watermark := ""
	if link != nil {
		watermark = link.LastCommentID
	}
	fresh := commentsAfter(u.Comments, watermark)

	if len(fresh) == 0 {
		// No new comments; still mirror a status change.
		if link != nil && link.Status != u.Status {
			active := !r.terminal[u.Status]
			if err := r.links.SetStatus(u.TicketID, u.Status, active); err != nil {
				r.logger.Error("reconcile: status update failed", "ticket", u.TicketID, "error", err)
			} else {
				r.logger.Info("ticket status changed", "ticket", u.TicketID, "status", u.Status, "active", active)
			}
		}
		return true
	}

	chatID := u.ChatID
	if chatID == "" {
		chatID = u.UserID
	}
	key := protocol.ConversationKey{ChatID: chatID, UserID: u.UserID}

	// One brief per ticket, to build the reply header. Losing it only
	// degrades the header.
	var brief *protocol.TicketBrief
	if b, err := r.tickets.GetBrief(ctx, u.TicketID); err == nil {
		brief = b
	}

	for _, c := range fresh {
		if !r.relayComment(ctx, key, u, link, brief, c) {
			return false
		}
		// The watermark advances only after the whole comment (text and
		// files) was delivered.
		if link != nil {
			if err := r.links.SetWatermark(u.TicketID, c.ID); err != nil {
				r.logger.Error("reconcile: watermark update failed", "ticket", u.TicketID, "error", err)
				return false
			}
			link.LastCommentID = c.ID
		} else {
			link = &Link{
				TicketID:      u.TicketID,
				ChatID:        chatID,
				UserID:        u.UserID,
				Kind:          KindQuestion,
				Title:         briefTitle(brief),
				Status:        u.Status,
				LastCommentID: c.ID,
				IsActive:      !r.terminal[u.Status],
			}
			if err := r.links.Upsert(link); err != nil {
				r.logger.Error("reconcile: link create failed", "ticket", u.TicketID, "error", err)
				return false
			}
		}
		r.logger.Info("comment relayed", "ticket", u.TicketID, "comment", c.ID, "chat", chatID)
	}

	if r.terminal[u.Status] {
		if err := r.links.SetStatus(u.TicketID, u.Status, false); err != nil {
			r.logger.Error("reconcile: deactivate failed", "ticket", u.TicketID, "error", err)
		}
	} else if link.Status != u.Status {
		if err := r.links.SetStatus(u.TicketID, u.Status, true); err != nil {
			r.logger.Error("reconcile: status update failed", "ticket", u.TicketID, "error", err)
		}
	}
	return true
}

// relayComment delivers one comment's text and files to the conversation.
func (r *Reconciler) relayComment(ctx context.Context, key protocol.ConversationKey,
	u protocol.TicketUpdate, link *Link, brief *protocol.TicketBrief, c protocol.Comment) bool {

	text := relayText(brief, c.Text)
	var actions []connector.Action

	// The wait itself is claimed only after the prompt is delivered; a failed
	// send must not leave a wait the user never saw.
	claimWait := false
	if c.Text != "" && IsClarificationSeeking(c.Text) {
		if existing, ok := r.state.PeekTicketWait(key); ok && existing != u.TicketID {
			// Never overwrite an active wait; tell the user where their next
			// reply will land instead.
			text += fmt.Sprintf("\n\nYour next reply will be attached to ticket #%s, which is still waiting for your clarification.", existing)
		} else {
			text += "\n\nJust reply here and I will pass it on."
			actions = append(actions, connector.Action{Label: "Add clarification", Data: "clarify:" + u.TicketID})
			claimWait = true
		}
	}

	if err := r.gateway.Send(ctx, connector.OutboundMessage{ChatID: key.ChatID, Content: text, Actions: actions}); err != nil {
		r.logger.Error("reconcile: send failed", "ticket", u.TicketID, "comment", c.ID, "error", err)
		return false
	}
	if claimWait {
		r.state.TrySetTicketWait(key, u.TicketID)
	}

	for _, f := range c.Files {
		data, err := r.tickets.FetchFile(ctx, f.URL)
		if err != nil {
			r.logger.Error("reconcile: file fetch failed", "ticket", u.TicketID, "file", f.Name, "error", err)
			return false
		}
		if err := r.gateway.SendFile(ctx, connector.File{ChatID: key.ChatID, Name: f.Name, Data: data}); err != nil {
			r.logger.Error("reconcile: file send failed", "ticket", u.TicketID, "file", f.Name, "error", err)
			return false
		}
	}

	if err := r.history.Append(protocol.HistoryMessage{
		ChatID:  key.ChatID,
		UserID:  key.UserID,
		Role:    protocol.RoleAssistant,
		Content: text,
	}); err != nil {
		r.logger.Error("reconcile: history append failed", "ticket", u.TicketID, "error", err)
	}
	return true
}

// relayText builds the user-facing message for one staff comment.
func relayText(brief *protocol.TicketBrief, comment string) string {
	header := "Reply on your ticket"
	if q := briefQuestion(brief); q != "" {
		header = "Reply to your question: " + q
	}
	if comment == "" {
		return header
	}
	return header + "\n\n" + comment
}

func briefQuestion(brief *protocol.TicketBrief) string {
	if brief == nil {
		return ""
	}
	if t := strings.TrimSpace(strings.TrimPrefix(brief.Title, "Question:")); t != "" {
		return t
	}
	if brief.Description != "" {
		return strings.SplitN(brief.Description, "\n", 2)[0]
	}
	return ""
}

func briefTitle(brief *protocol.TicketBrief) string {
	if brief == nil {
		return ""
	}
	return brief.Title
}

// commentsAfter returns the comments strictly newer than the watermark, in
// order. Ids compare numerically when possible; otherwise everything after
// the watermark's position is new.
func commentsAfter(comments []protocol.Comment, watermark string) []protocol.Comment {
	if watermark == "" {
		return comments
	}
	if wm, err := strconv.ParseInt(watermark, 10, 64); err == nil {
		out := make([]protocol.Comment, 0, len(comments))
		numeric := true
		for _, c := range comments {
			id, err := strconv.ParseInt(c.ID, 10, 64)
			if err != nil {
				numeric = false
				break
			}
			if id > wm {
				out = append(out, c)
			}
		}
		if numeric {
			return out
		}
	}
	for i, c := range comments {
		if c.ID == watermark {
			return comments[i+1:]
		}
	}
	return comments
}
