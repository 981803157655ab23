package router

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/deskhive-io/deskhive/internal/connector"
	"github.com/deskhive-io/deskhive/internal/convstate"
	"github.com/deskhive-io/deskhive/internal/expert"
	"github.com/deskhive-io/deskhive/internal/history"
	"github.com/deskhive-io/deskhive/internal/knowledge"
	"github.com/deskhive-io/deskhive/internal/ticketing"
	"github.com/deskhive-io/deskhive/internal/ticketlink"
	"github.com/deskhive-io/deskhive/pkg/protocol"
)

var testKey = protocol.ConversationKey{ChatID: "100", UserID: "7"}

// fakeAI scripts the language adapter and records what was asked.
type fakeAI struct {
	category     protocol.QuestionCategory
	classifyErr  error
	classified   []string
	completeQ    string
	completeness int
	offTariff    bool
	offChecks    int
	summary      string
	reply        string
	replyErr     error
}

func (f *fakeAI) Classify(_ context.Context, text string, _ []protocol.HistoryMessage) (protocol.QuestionCategory, error) {
	f.classified = append(f.classified, text)
	if f.classifyErr != nil {
		return "", f.classifyErr
	}
	return f.category, nil
}

func (f *fakeAI) CheckCompleteness(_ context.Context, _ string, _ []protocol.HistoryMessage) (string, error) {
	f.completeness++
	return f.completeQ, nil
}

func (f *fakeAI) CheckOffTariff(_ context.Context, _ string, _ []protocol.HistoryMessage) (bool, error) {
	f.offChecks++
	return f.offTariff, nil
}

func (f *fakeAI) Summarize(_ context.Context, text string, _ []protocol.HistoryMessage) (string, error) {
	if f.summary != "" {
		return f.summary, nil
	}
	return fallbackTitle(text), nil
}

func (f *fakeAI) GenerateReply(_ context.Context, _, _ string) (string, error) {
	if f.replyErr != nil {
		return "", f.replyErr
	}
	return f.reply, nil
}

// fakeKB returns a fixed hit list and confidence.
type fakeKB struct {
	exact      *knowledge.Entry
	hits       []knowledge.Entry
	confidence float64
	err        error
}

func (f *fakeKB) ExactMatch(_ context.Context, _ string) (*knowledge.Entry, error) {
	return f.exact, f.err
}

func (f *fakeKB) SemanticSearch(_ context.Context, _ string, _ int) ([]knowledge.Entry, float64, error) {
	return f.hits, f.confidence, f.err
}

type fakeExpert struct {
	answer *expert.Answer
	err    error
}

func (f *fakeExpert) Lookup(_ context.Context, _ string) (*expert.Answer, error) {
	return f.answer, f.err
}

// fakeTickets is an in-memory ticketing.Client.
type fakeTickets struct {
	created   []ticketing.CreateRequest
	comments  []string
	nextID    int
	createErr error
}

func (f *fakeTickets) CreateTicket(_ context.Context, req ticketing.CreateRequest) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, req)
	f.nextID++
	return string(rune('0' + f.nextID)), nil
}

func (f *fakeTickets) AddComment(_ context.Context, ticketID, text string) error {
	f.comments = append(f.comments, ticketID+":"+text)
	return nil
}

func (f *fakeTickets) ListUpdatedTickets(_ context.Context, _ time.Time) ([]protocol.TicketUpdate, error) {
	return nil, nil
}

func (f *fakeTickets) GetBrief(_ context.Context, _ string) (*protocol.TicketBrief, error) {
	return nil, errors.New("not found")
}

func (f *fakeTickets) FetchFile(_ context.Context, _ string) ([]byte, error) {
	return nil, errors.New("not found")
}

type fakeSender struct {
	sent []connector.OutboundMessage
}

func (f *fakeSender) Send(_ context.Context, msg connector.OutboundMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) SendFile(_ context.Context, _ connector.File) error { return nil }

type fakeRoster map[string]string

func (f fakeRoster) ResponsibleFor(chatID string) (string, bool) {
	id, ok := f[chatID]
	return id, ok
}

type fixture struct {
	router  *Router
	ai      *fakeAI
	kb      *fakeKB
	expert  *fakeExpert
	tickets *fakeTickets
	sender  *fakeSender
	state   *convstate.Store
	links   *ticketlink.SQLiteStore
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	links, err := ticketlink.NewSQLiteStore(filepath.Join(t.TempDir(), "links.db"))
	if err != nil {
		t.Fatalf("links store: %v", err)
	}
	t.Cleanup(func() { links.DB().Close() })

	hist, err := history.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history store: %v", err)
	}
	t.Cleanup(func() { hist.DB().Close() })

	f := &fixture{
		ai:      &fakeAI{},
		kb:      &fakeKB{},
		expert:  &fakeExpert{},
		tickets: &fakeTickets{},
		sender:  &fakeSender{},
		state:   convstate.New(0),
		links:   links,
	}
	cfg.StaffUsernames = append(cfg.StaffUsernames, "staffer")
	cfg.SalesResponsible = "sales-1"
	cfg.DefaultResponsible = "default-1"

	f.router = New(f.ai, f.kb, f.expert, f.state, hist, ticketlink.NewManager(links, f.tickets, nil),
		fakeRoster{"100": "42"}, f.sender, nil, time.Hour, cfg, nil)
	// Today's date with a fixed afternoon hour keeps greeting wording stable
	// while the first-reply-today check still sees rows written "today".
	f.router.now = func() time.Time {
		y, m, d := time.Now().Date()
		return time.Date(y, m, d, 14, 0, 0, 0, time.Local)
	}
	return f
}

func (f *fixture) lastReply(t *testing.T) string {
	t.Helper()
	if len(f.sender.sent) == 0 {
		t.Fatal("no reply sent")
	}
	return f.sender.sent[len(f.sender.sent)-1].Content
}

func TestTicketWaitTurnsBatchIntoClarification(t *testing.T) {
	f := newFixture(t, Config{})
	f.state.TrySetTicketWait(testKey, "501")

	f.router.Process(context.Background(), testKey, "for bank X")

	if len(f.tickets.comments) != 1 || !strings.HasPrefix(f.tickets.comments[0], "501:") {
		t.Fatalf("comments = %v", f.tickets.comments)
	}
	if len(f.ai.classified) != 0 {
		t.Error("clarification must not be classified")
	}
	if _, ok := f.state.PeekTicketWait(testKey); ok {
		t.Error("wait not consumed")
	}
	if !strings.Contains(f.lastReply(t), "#501") {
		t.Errorf("reply = %q", f.lastReply(t))
	}
}

func TestPreTicketWaitCombinesAndSkipsGates(t *testing.T) {
	f := newFixture(t, Config{})
	f.ai.category = protocol.CategoryTicketTask
	f.ai.completeQ = "Which bank is the certificate for?"

	f.router.Process(context.Background(), testKey, "Please prepare a certificate")

	if len(f.tickets.created) != 0 {
		t.Fatal("ticket created despite pending clarification")
	}
	if f.lastReply(t) != "Which bank is the certificate for?" {
		t.Errorf("reply = %q", f.lastReply(t))
	}

	// The answer arrives: combined text re-enters classification, gates are
	// skipped, ticket is created.
	f.ai.completeQ = ""
	f.router.Process(context.Background(), testKey, "Bank X")

	want := "Please prepare a certificate\nBank X"
	if got := f.ai.classified[len(f.ai.classified)-1]; got != want {
		t.Errorf("classified %q, want %q", got, want)
	}
	if f.ai.completeness != 1 {
		t.Errorf("completeness checked %d times, want 1", f.ai.completeness)
	}
	if f.ai.offChecks != 1 {
		t.Errorf("off-tariff checked %d times, want 1", f.ai.offChecks)
	}
	if len(f.tickets.created) != 1 {
		t.Fatalf("created = %v", f.tickets.created)
	}
	if !strings.Contains(f.tickets.created[0].Description, want) {
		t.Errorf("description = %q", f.tickets.created[0].Description)
	}
}

func TestChitchatRepliesWithoutTicket(t *testing.T) {
	f := newFixture(t, Config{})
	f.ai.category = protocol.CategoryChitchat
	f.ai.reply = "Hello to you too."

	f.router.Process(context.Background(), testKey, "hi!")

	if len(f.tickets.created) != 0 {
		t.Error("chitchat created a ticket")
	}
	if !strings.Contains(f.lastReply(t), "Hello to you too.") {
		t.Errorf("reply = %q", f.lastReply(t))
	}
}

func TestLocalFAQConfidentPlaybookNeverFallsThrough(t *testing.T) {
	f := newFixture(t, Config{})
	f.ai.category = protocol.CategoryLocalFAQ
	f.kb.exact = &knowledge.Entry{Title: "vpn", Reply: "Install the profile from the portal."}

	f.router.Process(context.Background(), testKey, "how do I set up vpn")

	if len(f.tickets.created) != 0 {
		t.Error("exact-match playbook fell through to ticket creation")
	}
	if !strings.Contains(f.lastReply(t), "Install the profile from the portal.") {
		t.Errorf("reply = %q", f.lastReply(t))
	}
}

func TestLocalFAQPlaybookTicketDirective(t *testing.T) {
	f := newFixture(t, Config{})
	f.ai.category = protocol.CategoryLocalFAQ
	f.kb.exact = &knowledge.Entry{Title: "access", Reply: "I will register an access request.", CreateTicket: true}

	f.router.Process(context.Background(), testKey, "need access to the archive")

	if len(f.tickets.created) != 1 {
		t.Fatal("playbook directive did not create a ticket")
	}
}

func TestLocalFAQLowConfidenceFallsToTicket(t *testing.T) {
	f := newFixture(t, Config{})
	f.ai.category = protocol.CategoryLocalFAQ
	f.ai.replyErr = errors.New("llm down")
	f.kb.hits = []knowledge.Entry{{Title: "loose match", Body: "irrelevant"}}
	f.kb.confidence = 0.3

	f.router.Process(context.Background(), testKey, "something obscure")

	if len(f.tickets.created) != 1 {
		t.Fatalf("expected fallback ticket, created = %v", f.tickets.created)
	}
}

func TestExpertSuccessRepliesWithCitations(t *testing.T) {
	f := newFixture(t, Config{})
	f.ai.category = protocol.CategoryExpert
	f.expert.answer = &expert.Answer{Text: "Rates changed [1].", Sources: []string{"https://example.org"}}

	f.router.Process(context.Background(), testKey, "what changed in the tax code?")

	if len(f.tickets.created) != 0 {
		t.Error("expert success still created a ticket")
	}
	reply := f.lastReply(t)
	if !strings.Contains(reply, "[1] https://example.org") {
		t.Errorf("reply = %q", reply)
	}
}

func TestExpertFailureDegradesToTicket(t *testing.T) {
	f := newFixture(t, Config{})
	f.ai.category = protocol.CategoryExpert
	f.expert.err = errors.New("expert api down")

	f.router.Process(context.Background(), testKey, "what changed in the tax code?")

	if len(f.tickets.created) != 1 {
		t.Fatal("expert failure did not degrade to ticket creation")
	}
}

func TestMixedAnswersAndAlwaysCreatesTicket(t *testing.T) {
	f := newFixture(t, Config{})
	f.ai.category = protocol.CategoryMixed
	f.ai.reply = "Here is what I know."

	f.router.Process(context.Background(), testKey, "what is X and please also fix Y")

	if len(f.tickets.created) != 1 {
		t.Fatal("mixed branch must create a ticket unconditionally")
	}
	if f.ai.completeness != 0 || f.ai.offChecks != 0 {
		t.Error("mixed branch must not run the pre-ticket gates")
	}
	var texts []string
	for _, m := range f.sender.sent {
		texts = append(texts, m.Content)
	}
	joined := strings.Join(texts, "|")
	if !strings.Contains(joined, "Here is what I know.") || !strings.Contains(joined, "registered as ticket") {
		t.Errorf("sent = %q", joined)
	}
}

func TestKnowledgeBaseOverridePreemptsTicket(t *testing.T) {
	f := newFixture(t, Config{})
	f.ai.category = protocol.CategoryTicketTask
	f.kb.hits = []knowledge.Entry{{Title: "known", Reply: "No ticket needed, do this instead."}}
	f.kb.confidence = 0.95

	f.router.Process(context.Background(), testKey, "please do the thing")

	if len(f.tickets.created) != 0 {
		t.Error("override hit still created a ticket")
	}
	if f.ai.offChecks != 0 || f.ai.completeness != 0 {
		t.Error("override must pre-empt the gates")
	}
}

func TestOffTariffRoutesToSalesPool(t *testing.T) {
	f := newFixture(t, Config{})
	f.ai.category = protocol.CategoryTicketTask
	f.ai.offTariff = true

	f.router.Process(context.Background(), testKey, "build us a mobile app")

	if len(f.tickets.created) != 1 {
		t.Fatal("no ticket created")
	}
	if f.tickets.created[0].Responsible != "sales-1" {
		t.Errorf("responsible = %q, want sales-1", f.tickets.created[0].Responsible)
	}
	if f.ai.completeness != 0 {
		t.Error("off-tariff hit must stop before the completeness gate")
	}
}

func TestGateOrderIsConfigurable(t *testing.T) {
	f := newFixture(t, Config{GateOrder: []string{GateCompleteness, GateOffTariff}})
	f.ai.category = protocol.CategoryTicketTask
	f.ai.offTariff = true
	f.ai.completeQ = "When do you need it?"

	f.router.Process(context.Background(), testKey, "do something")

	// Completeness runs first under this order, so no ticket yet.
	if len(f.tickets.created) != 0 {
		t.Error("completeness-first order ignored")
	}
	if f.ai.offChecks != 0 {
		t.Error("off-tariff ran before completeness")
	}
}

func TestClassifyFailureDefaultsToTicket(t *testing.T) {
	f := newFixture(t, Config{})
	f.ai.classifyErr = errors.New("llm down")

	f.router.Process(context.Background(), testKey, "anything at all")

	if len(f.tickets.created) != 1 {
		t.Fatal("classification failure must default to the ticket branch")
	}
}

func TestTicketCreateFailureSendsLastResortReply(t *testing.T) {
	f := newFixture(t, Config{})
	f.ai.category = protocol.CategoryTicketTask
	f.tickets.createErr = errors.New("webhook down")

	f.router.Process(context.Background(), testKey, "please help")

	if !strings.Contains(f.lastReply(t), "temporarily unavailable") {
		t.Errorf("reply = %q", f.lastReply(t))
	}
}

func TestRosterResponsibleUsedForTickets(t *testing.T) {
	f := newFixture(t, Config{})
	f.ai.category = protocol.CategoryTicketTask

	f.router.Process(context.Background(), testKey, "please help")
	if f.tickets.created[0].Responsible != "42" {
		t.Errorf("responsible = %q, want roster's 42", f.tickets.created[0].Responsible)
	}

	other := protocol.ConversationKey{ChatID: "999", UserID: "1"}
	f.router.Process(context.Background(), other, "please help")
	if f.tickets.created[1].Responsible != "default-1" {
		t.Errorf("responsible = %q, want default-1", f.tickets.created[1].Responsible)
	}
}

func TestStaffMessagesStoredButNeverAnswered(t *testing.T) {
	f := newFixture(t, Config{})

	f.router.Receive(context.Background(), connector.InboundMessage{
		ChatID: "100", SenderID: "55", Username: "Staffer", Content: "internal note",
	})

	if f.router.debounce.Pending(protocol.ConversationKey{ChatID: "100", UserID: "55"}) {
		t.Error("staff message entered the debounce queue")
	}
	if len(f.sender.sent) != 0 {
		t.Error("staff message was answered")
	}
	recent, err := f.router.history.Recent("100", 10)
	if err != nil || len(recent) != 1 || recent[0].Content != "internal note" {
		t.Errorf("history = %+v, %v", recent, err)
	}
}

func TestFirstReplyTodayGetsGreeting(t *testing.T) {
	f := newFixture(t, Config{})
	f.ai.category = protocol.CategoryChitchat
	f.ai.reply = "Sure thing."

	f.router.Receive(context.Background(), connector.InboundMessage{
		ChatID: "100", SenderID: "7", Username: "anna_k", DisplayName: "Anna", Content: "ignored by test",
	})
	f.router.Process(context.Background(), testKey, "hello")

	if got := f.lastReply(t); !strings.HasPrefix(got, "Good afternoon, Anna!") {
		t.Errorf("first reply = %q", got)
	}

	f.router.Process(context.Background(), testKey, "hello again")
	if got := f.lastReply(t); strings.HasPrefix(got, "Good afternoon") {
		t.Errorf("second reply still greeted: %q", got)
	}
}

func TestCallbackSetsTicketWait(t *testing.T) {
	f := newFixture(t, Config{})

	f.router.HandleCallback(context.Background(), testKey, "clarify:501")

	if id, ok := f.state.PeekTicketWait(testKey); !ok || id != "501" {
		t.Errorf("wait = %q, %v", id, ok)
	}

	f.router.HandleCallback(context.Background(), testKey, "clarify:502")
	if id, _ := f.state.PeekTicketWait(testKey); id != "501" {
		t.Errorf("wait overwritten to %q", id)
	}
}

func TestFallbackTitleRuneSafe(t *testing.T) {
	long := strings.Repeat("д", 100)
	got := fallbackTitle(long)
	if !utf8.ValidString(got) {
		t.Errorf("title is not valid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 80 {
		t.Errorf("title rune length = %d, want 80", n)
	}

	if got := fallbackTitle("нужна справка\nдля банка"); got != "нужна справка" {
		t.Errorf("first line = %q", got)
	}
}
