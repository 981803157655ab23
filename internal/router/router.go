// Package router is the decision pipeline between inbound messages and
// everything else: conversation state, classification, the knowledge base,
// expert lookup and ticket creation. One call handles one coalesced batch.
package router

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/deskhive-io/deskhive/internal/ai"
	"github.com/deskhive-io/deskhive/internal/connector"
	"github.com/deskhive-io/deskhive/internal/convstate"
	"github.com/deskhive-io/deskhive/internal/debounce"
	"github.com/deskhive-io/deskhive/internal/expert"
	"github.com/deskhive-io/deskhive/internal/history"
	"github.com/deskhive-io/deskhive/internal/knowledge"
	"github.com/deskhive-io/deskhive/internal/roster"
	"github.com/deskhive-io/deskhive/internal/schedule"
	"github.com/deskhive-io/deskhive/internal/ticketing"
	"github.com/deskhive-io/deskhive/internal/ticketlink"
	"github.com/deskhive-io/deskhive/pkg/protocol"
)

// Gate names accepted in Config.GateOrder.
const (
	GateOffTariff    = "off_tariff"
	GateCompleteness = "completeness"
)

// Config holds the routing policy knobs.
type Config struct {
	// FAQThreshold admits a knowledge-base hit on the local_faq branch.
	FAQThreshold float64
	// OverrideThreshold is the higher bar for the knowledge base to pre-empt
	// ticket creation.
	OverrideThreshold float64
	// MixedThreshold is the lower bar used on the mixed branch.
	MixedThreshold float64
	// GateOrder is the tie-break order of the pre-ticket gates; the external
	// systems this mirrors have flip-flopped on it, so it is policy, not code.
	GateOrder []string
	// StaffUsernames are stored to history but never answered.
	StaffUsernames []string
	// SalesResponsible receives off-tariff tickets.
	SalesResponsible string
	// DefaultResponsible receives tickets for chats missing from the roster.
	DefaultResponsible string
	// HistoryLimit is how many rows of context classification sees.
	HistoryLimit int
}

func (c *Config) fill() {
	if c.FAQThreshold == 0 {
		c.FAQThreshold = 0.85
	}
	if c.OverrideThreshold == 0 {
		c.OverrideThreshold = 0.92
	}
	if c.MixedThreshold == 0 {
		c.MixedThreshold = 0.6
	}
	if len(c.GateOrder) == 0 {
		c.GateOrder = []string{GateOffTariff, GateCompleteness}
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = 20
	}
}

// senderMeta is remembered per conversation so a coalesced batch still knows
// who it is talking to.
type senderMeta struct {
	username    string
	displayName string
}

// Router dispatches inbound batches. It owns no external state beyond the
// sender metadata cache; everything else lives in the injected stores.
type Router struct {
	ai      ai.Understanding
	kb      knowledge.Service
	expert  expert.Service
	state   *convstate.Store
	history history.Store
	tickets *ticketlink.Manager
	roster  roster.Directory
	gateway connector.Sender
	window  *schedule.Window
	cfg     Config
	logger  *slog.Logger

	staff map[string]bool

	metaMu sync.Mutex
	meta   map[protocol.ConversationKey]senderMeta

	debounce *debounce.Scheduler

	now func() time.Time
}

// New wires a Router and its coalescing scheduler. quiet is the debounce
// period; window may be nil when no processing window is configured.
func New(understanding ai.Understanding, kb knowledge.Service, exp expert.Service,
	state *convstate.Store, hist history.Store, tickets *ticketlink.Manager,
	dir roster.Directory, gateway connector.Sender, window *schedule.Window,
	quiet time.Duration, cfg Config, logger *slog.Logger) *Router {

	if logger == nil {
		logger = slog.Default()
	}
	cfg.fill()

	staff := make(map[string]bool, len(cfg.StaffUsernames))
	for _, u := range cfg.StaffUsernames {
		staff[strings.ToLower(u)] = true
	}

	r := &Router{
		ai:      understanding,
		kb:      kb,
		expert:  exp,
		state:   state,
		history: hist,
		tickets: tickets,
		roster:  dir,
		gateway: gateway,
		window:  window,
		cfg:     cfg,
		logger:  logger,
		staff:   staff,
		meta:    make(map[protocol.ConversationKey]senderMeta),
		now:     time.Now,
	}
	r.debounce = debounce.New(quiet, func(key protocol.ConversationKey, combined string) {
		r.Process(context.Background(), key, combined)
	}, logger)
	return r
}

// Receive is the inbound entrypoint for connectors. Text goes through the
// coalescing scheduler; attachments are handled immediately against current
// state. Staff messages are recorded but never answered.
func (r *Router) Receive(ctx context.Context, msg connector.InboundMessage) {
	key := protocol.ConversationKey{ChatID: msg.ChatID, UserID: msg.SenderID}

	if msg.Content != "" {
		if err := r.history.Append(protocol.HistoryMessage{
			ChatID:  key.ChatID,
			UserID:  key.UserID,
			Role:    protocol.RoleUser,
			Content: msg.Content,
		}); err != nil {
			r.logger.Error("router: history append failed", "chat", key.ChatID, "error", err)
		}
	}

	if r.staff[strings.ToLower(msg.Username)] {
		return
	}

	r.metaMu.Lock()
	r.meta[key] = senderMeta{username: msg.Username, displayName: msg.DisplayName}
	r.metaMu.Unlock()

	if len(msg.Attachments) > 0 {
		r.HandleAttachment(ctx, key, msg.Content, msg.Attachments)
		return
	}
	if msg.Content == "" {
		return
	}
	r.debounce.Notify(key, msg.Content)
}

// HandleCallback reacts to action-button presses. The only action the core
// emits is "clarify:<ticket_id>".
func (r *Router) HandleCallback(ctx context.Context, key protocol.ConversationKey, data string) {
	id, ok := strings.CutPrefix(data, "clarify:")
	if !ok || id == "" {
		return
	}
	if existing, ok := r.state.TrySetTicketWait(key, id); !ok && existing != id {
		r.reply(ctx, key, "Ticket #"+existing+" is still waiting for your clarification. Reply here to answer it first.")
		return
	}
	r.reply(ctx, key, "Reply here and I will attach your message to ticket #"+id+".")
}

// Process handles one coalesced batch. It is the onReady callback of the
// scheduler and the single entrypoint the routing tests exercise.
func (r *Router) Process(ctx context.Context, key protocol.ConversationKey, text string) {
	// 1. An active ticket wait turns the batch into a clarification comment;
	// no classification happens.
	if ticketID, ok := r.state.PopTicketWait(key); ok {
		if r.tickets.AppendClarification(ctx, ticketID, text) {
			r.reply(ctx, key, "Passed your reply on to ticket #"+ticketID+".")
		} else {
			r.reply(ctx, key, "I could not reach the ticket system just now. Please send your reply again in a few minutes.")
		}
		return
	}

	// 2. A pre-ticket wait glues the old question to this answer and skips
	// the clarification gates on re-entry.
	skipClarification := false
	if original, ok := r.state.PopPreTicketWait(key); ok {
		text = original + "\n" + text
		skipClarification = true
	}

	recent := r.recentHistory(key)

	category := protocol.CategoryTicketTask
	if cat, err := r.ai.Classify(ctx, text, recent); err != nil {
		r.logger.Error("router: classify failed, defaulting to ticket", "chat", key.ChatID, "error", err)
	} else {
		category = cat
	}
	r.logger.Info("batch routed", "chat", key.ChatID, "category", string(category), "skip_clarification", skipClarification)

	switch category {
	case protocol.CategoryChitchat:
		r.handleChitchat(ctx, key, text)
	case protocol.CategoryLocalFAQ:
		r.handleLocalFAQ(ctx, key, text, recent, skipClarification)
	case protocol.CategoryExpert:
		r.handleExpert(ctx, key, text, recent, skipClarification)
	case protocol.CategoryMixed:
		r.handleMixed(ctx, key, text, recent)
	default: // ticket_task, general_question
		r.ticketFlow(ctx, key, text, recent, skipClarification)
	}
}

func (r *Router) handleChitchat(ctx context.Context, key protocol.ConversationKey, text string) {
	reply, err := r.ai.GenerateReply(ctx, "You are a friendly support assistant. Keep it short.", text)
	if err != nil {
		r.logger.Error("router: chitchat generation failed", "chat", key.ChatID, "error", err)
		r.ticketFlow(ctx, key, text, nil, false)
		return
	}
	r.replyGreeting(ctx, key, reply)
}

func (r *Router) handleLocalFAQ(ctx context.Context, key protocol.ConversationKey, text string,
	recent []protocol.HistoryMessage, skipClarification bool) {

	if entry, err := r.kb.ExactMatch(ctx, text); err == nil && entry != nil {
		r.applyPlaybook(ctx, key, text, recent, entry)
		return
	}

	hits, confidence, err := r.kb.SemanticSearch(ctx, text, 3)
	if err != nil {
		r.logger.Error("router: kb search failed", "chat", key.ChatID, "error", err)
	}
	if err == nil && confidence >= r.cfg.FAQThreshold && len(hits) > 0 {
		r.applyPlaybook(ctx, key, text, recent, &hits[0])
		return
	}

	// No confident FAQ hit: try a grounded answer, else open a ticket.
	if len(hits) > 0 {
		if reply, err := r.generateGrounded(ctx, text, hits); err == nil {
			r.replyGreeting(ctx, key, reply)
			return
		}
	}
	r.ticketFlow(ctx, key, text, recent, skipClarification)
}

// applyPlaybook acts on a confident knowledge-base entry: canned reply,
// ticket directive, or both.
func (r *Router) applyPlaybook(ctx context.Context, key protocol.ConversationKey, text string,
	recent []protocol.HistoryMessage, entry *knowledge.Entry) {

	if entry.Reply != "" {
		r.replyGreeting(ctx, key, entry.Reply)
	}
	if entry.CreateTicket {
		r.createTicket(ctx, key, text, recent, "")
	} else if entry.Reply == "" {
		// Entry is a bare document; answer from it.
		if reply, err := r.generateGrounded(ctx, text, []knowledge.Entry{*entry}); err == nil {
			r.replyGreeting(ctx, key, reply)
		} else {
			r.ticketFlow(ctx, key, text, recent, false)
		}
	}
}

func (r *Router) handleExpert(ctx context.Context, key protocol.ConversationKey, text string,
	recent []protocol.HistoryMessage, skipClarification bool) {

	answer, err := r.expert.Lookup(ctx, text)
	if err != nil {
		r.logger.Error("router: expert lookup failed, opening ticket", "chat", key.ChatID, "error", err)
		r.ticketFlow(ctx, key, text, recent, skipClarification)
		return
	}
	r.replyGreeting(ctx, key, expert.Format(answer))
}

func (r *Router) handleMixed(ctx context.Context, key protocol.ConversationKey, text string,
	recent []protocol.HistoryMessage) {

	// Informational half: knowledge base at the lower bar, else best effort.
	answered := false
	if hits, confidence, err := r.kb.SemanticSearch(ctx, text, 3); err == nil && confidence >= r.cfg.MixedThreshold && len(hits) > 0 {
		if hits[0].Reply != "" {
			r.replyGreeting(ctx, key, hits[0].Reply)
			answered = true
		} else if reply, err := r.generateGrounded(ctx, text, hits); err == nil {
			r.replyGreeting(ctx, key, reply)
			answered = true
		}
	}
	if !answered {
		if reply, err := r.ai.GenerateReply(ctx, "You are a support assistant. Answer what you can; a colleague will handle the task part.", text); err == nil {
			r.replyGreeting(ctx, key, reply)
		}
	}

	// Action half: the answer never satisfies the task request, so a ticket
	// is created unconditionally, no gates.
	r.createTicket(ctx, key, text, recent, "")
}

// ticketFlow is the create-ticket path shared by ticket_task,
// general_question and every degraded branch. The knowledge base is checked
// first as an override; the remaining gates run in configured order.
func (r *Router) ticketFlow(ctx context.Context, key protocol.ConversationKey, text string,
	recent []protocol.HistoryMessage, skipClarification bool) {

	if hits, confidence, err := r.kb.SemanticSearch(ctx, text, 1); err == nil &&
		confidence >= r.cfg.OverrideThreshold && len(hits) > 0 &&
		hits[0].Reply != "" && !hits[0].CreateTicket {
		r.replyGreeting(ctx, key, hits[0].Reply)
		return
	}

	if !skipClarification {
		for _, gate := range r.cfg.GateOrder {
			switch gate {
			case GateOffTariff:
				if off, err := r.ai.CheckOffTariff(ctx, text, recent); err != nil {
					r.logger.Error("router: off-tariff check failed", "chat", key.ChatID, "error", err)
				} else if off {
					r.createTicket(ctx, key, text, recent, r.cfg.SalesResponsible)
					return
				}
			case GateCompleteness:
				question, err := r.ai.CheckCompleteness(ctx, text, recent)
				if err != nil {
					r.logger.Error("router: completeness check failed", "chat", key.ChatID, "error", err)
					continue
				}
				if question != "" {
					r.state.SetPreTicketWait(key, text)
					r.reply(ctx, key, question)
					return
				}
			}
		}
	}

	r.createTicket(ctx, key, text, recent, "")
}

// createTicket is the terminal action of every degraded branch; its own
// failure is the only path to the "service unavailable" reply.
func (r *Router) createTicket(ctx context.Context, key protocol.ConversationKey, text string,
	recent []protocol.HistoryMessage, responsible string) {

	title, err := r.ai.Summarize(ctx, text, recent)
	if err != nil || strings.TrimSpace(title) == "" {
		title = fallbackTitle(text)
	}

	if responsible == "" {
		responsible = r.responsibleFor(key)
	}

	id, err := r.tickets.CreateTicket(ctx, key, ticketlink.KindQuestion, ticketing.CreateRequest{
		Title:       "Question: " + title,
		Description: "Name: " + r.displayName(key) + "\n\n" + text,
		Responsible: responsible,
	})
	if err != nil {
		r.logger.Error("router: ticket create failed", "chat", key.ChatID, "error", err)
		r.reply(ctx, key, "The service is temporarily unavailable. Please try again a little later.")
		return
	}

	r.reply(ctx, key, r.acceptedNotice(id))
}

// acceptedNotice picks the work-hours or off-hours wording.
func (r *Router) acceptedNotice(ticketID string) string {
	if r.window == nil || r.window.Contains(r.now()) {
		return "Your request was registered as ticket #" + ticketID + ". A specialist will reply shortly."
	}
	return "Your request was registered as ticket #" + ticketID + ". We are currently outside working hours; a specialist will reply on the next working day."
}

// generateGrounded answers from retrieved documents.
func (r *Router) generateGrounded(ctx context.Context, text string, docs []knowledge.Entry) (string, error) {
	var sb strings.Builder
	sb.WriteString("Answer using only the reference material below. If it does not cover the question, say so.\n")
	for _, d := range docs {
		sb.WriteString("\n## " + d.Title + "\n" + d.Body + "\n")
	}
	return r.ai.GenerateReply(ctx, sb.String(), text)
}

func (r *Router) recentHistory(key protocol.ConversationKey) []protocol.HistoryMessage {
	recent, err := r.history.Recent(key.ChatID, r.cfg.HistoryLimit)
	if err != nil {
		r.logger.Error("router: history read failed", "chat", key.ChatID, "error", err)
		return nil
	}
	return recent
}

func (r *Router) displayName(key protocol.ConversationKey) string {
	r.metaMu.Lock()
	defer r.metaMu.Unlock()
	return r.meta[key].displayName
}

// reply sends text and appends it to history.
func (r *Router) reply(ctx context.Context, key protocol.ConversationKey, text string) {
	if err := r.gateway.Send(ctx, connector.OutboundMessage{ChatID: key.ChatID, Content: text}); err != nil {
		r.logger.Error("router: send failed", "chat", key.ChatID, "error", err)
		return
	}
	if err := r.history.Append(protocol.HistoryMessage{
		ChatID:  key.ChatID,
		UserID:  key.UserID,
		Role:    protocol.RoleAssistant,
		Content: text,
	}); err != nil {
		r.logger.Error("router: history append failed", "chat", key.ChatID, "error", err)
	}
}

// replyGreeting is reply with the first-reply-today salutation applied.
func (r *Router) replyGreeting(ctx context.Context, key protocol.ConversationKey, text string) {
	now := r.now()
	first, err := r.history.IsFirstAssistantReplyToday(key.ChatID, now)
	if err != nil {
		r.logger.Error("router: greeting check failed", "chat", key.ChatID, "error", err)
		first = false
	}
	r.reply(ctx, key, ai.FormatWithName(text, r.displayName(key), now, first))
}

func fallbackTitle(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	if runes := []rune(line); len(runes) > 80 {
		line = string(runes[:77]) + "..."
	}
	return line
}
