// Package ai adapts an LLM provider into the small set of language
// operations the router needs. The router owns when each call happens; this
// package owns the prompts and output parsing.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deskhive-io/deskhive/internal/provider"
	"github.com/deskhive-io/deskhive/pkg/protocol"
)

// Understanding is the language boundary the router consumes.
type Understanding interface {
	Classify(ctx context.Context, text string, history []protocol.HistoryMessage) (protocol.QuestionCategory, error)
	// CheckCompleteness returns a clarifying question when the request lacks
	// details needed to open a ticket, or "" when it is complete.
	CheckCompleteness(ctx context.Context, text string, history []protocol.HistoryMessage) (string, error)
	CheckOffTariff(ctx context.Context, text string, history []protocol.HistoryMessage) (bool, error)
	// Summarize condenses a request into a one-line ticket title.
	Summarize(ctx context.Context, text string, history []protocol.HistoryMessage) (string, error)
	GenerateReply(ctx context.Context, systemContext, prompt string) (string, error)
}

const (
	classifyPrompt = `You route support requests. Reply with exactly one label:
chitchat, local_faq, expert_question, ticket_task, general_question, mixed_question_and_task.`

	completenessPrompt = `Decide whether the request has enough detail to open a ticket for a human
operator. If it does, reply with exactly OK. If not, reply with one short
clarifying question for the client.`

	offTariffPrompt = `Decide whether the request is outside the client's standard service package
and should go to the sales pool. Reply with exactly YES or NO.`

	summarizePrompt = `Condense the client's request into one short task title. Reply with the
title only.`
)

// LLM implements Understanding on top of a chat provider.
type LLM struct {
	provider provider.Provider
	logger   *slog.Logger
}

// New creates an Understanding backed by the given provider.
func New(p provider.Provider, logger *slog.Logger) *LLM {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLM{provider: p, logger: logger}
}

func (l *LLM) chat(ctx context.Context, system, text string, history []protocol.HistoryMessage) (string, error) {
	msgs := make([]protocol.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, protocol.ChatMessage{Role: "system", Content: system})
	for _, h := range history {
		msgs = append(msgs, protocol.ChatMessage{Role: h.Role, Content: h.Content})
	}
	msgs = append(msgs, protocol.ChatMessage{Role: "user", Content: text})

	resp, err := l.provider.Chat(ctx, protocol.ChatRequest{Messages: msgs})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// Classify implements Understanding. Unrecognized labels map to ticket_task,
// the safest fallback.
func (l *LLM) Classify(ctx context.Context, text string, history []protocol.HistoryMessage) (protocol.QuestionCategory, error) {
	out, err := l.chat(ctx, classifyPrompt, text, history)
	if err != nil {
		return "", fmt.Errorf("ai: classify: %w", err)
	}
	cat := protocol.ParseCategory(out)
	l.logger.Debug("classified", "raw", out, "category", string(cat))
	return cat, nil
}

// CheckCompleteness implements Understanding.
func (l *LLM) CheckCompleteness(ctx context.Context, text string, history []protocol.HistoryMessage) (string, error) {
	out, err := l.chat(ctx, completenessPrompt, text, history)
	if err != nil {
		return "", fmt.Errorf("ai: completeness: %w", err)
	}
	if strings.EqualFold(strings.TrimRight(out, "."), "ok") {
		return "", nil
	}
	return out, nil
}

// CheckOffTariff implements Understanding. Anything but an explicit YES is
// treated as in-tariff.
func (l *LLM) CheckOffTariff(ctx context.Context, text string, history []protocol.HistoryMessage) (bool, error) {
	out, err := l.chat(ctx, offTariffPrompt, text, history)
	if err != nil {
		return false, fmt.Errorf("ai: off-tariff: %w", err)
	}
	return strings.EqualFold(strings.TrimRight(out, "."), "yes"), nil
}

// Summarize implements Understanding.
func (l *LLM) Summarize(ctx context.Context, text string, history []protocol.HistoryMessage) (string, error) {
	out, err := l.chat(ctx, summarizePrompt, text, history)
	if err != nil {
		return "", fmt.Errorf("ai: summarize: %w", err)
	}
	return out, nil
}

// GenerateReply implements Understanding.
func (l *LLM) GenerateReply(ctx context.Context, systemContext, prompt string) (string, error) {
	out, err := l.chat(ctx, systemContext, prompt, nil)
	if err != nil {
		return "", fmt.Errorf("ai: generate: %w", err)
	}
	return out, nil
}
