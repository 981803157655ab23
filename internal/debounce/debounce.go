// Package debounce batches rapid consecutive inbound messages per
// conversation into one processing unit. A fixed quiet period follows every
// message; only when it elapses with no newer message does the accumulated
// batch fire.
package debounce

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/deskhive-io/deskhive/pkg/protocol"
)

// DefaultQuietPeriod is how long a conversation must stay silent before its
// buffered messages are processed.
const DefaultQuietPeriod = 15 * time.Second

// ReadyFunc is called exactly once per batch with the messages joined in
// arrival order by newlines.
type ReadyFunc func(key protocol.ConversationKey, combined string)

// Scheduler owns one pending batch and one live timer per conversation key.
type Scheduler struct {
	mu      sync.Mutex
	quiet   time.Duration
	pending map[protocol.ConversationKey]*batch
	onReady ReadyFunc
	logger  *slog.Logger
}

// batch accumulates texts for one key while its timer is live. gen is bumped
// on every reschedule; a firing timer whose gen no longer matches lost the
// race to a newer message and must not deliver.
type batch struct {
	texts []string
	timer *time.Timer
	gen   uint64
}

// New creates a scheduler. quiet <= 0 selects DefaultQuietPeriod.
func New(quiet time.Duration, onReady ReadyFunc, logger *slog.Logger) *Scheduler {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		quiet:   quiet,
		pending: make(map[protocol.ConversationKey]*batch),
		onReady: onReady,
		logger:  logger,
	}
}

// Notify appends text to the pending batch for key, cancelling any
// outstanding timer and starting a fresh one over the enlarged buffer.
func (s *Scheduler) Notify(key protocol.ConversationKey, text string) {
	s.mu.Lock()
	b, ok := s.pending[key]
	if !ok {
		b = &batch{}
		s.pending[key] = b
	} else {
		// Stop may return false if the old timer is already running its
		// callback; the gen bump below makes that run a no-op.
		b.timer.Stop()
	}
	b.texts = append(b.texts, text)
	b.gen++
	gen := b.gen
	b.timer = time.AfterFunc(s.quiet, func() { s.fire(key, gen) })
	s.mu.Unlock()
}

// Pending reports whether a batch is currently buffered for key.
func (s *Scheduler) Pending(key protocol.ConversationKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// fire claims the batch for key if this timer generation still owns it.
// Claiming removes the batch under the mutex, so a concurrent Notify either
// supersedes this timer (gen mismatch) or starts a fresh batch after the
// claim — a message is never lost between the two.
func (s *Scheduler) fire(key protocol.ConversationKey, gen uint64) {
	s.mu.Lock()
	b, ok := s.pending[key]
	if !ok || b.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	combined := strings.Join(b.texts, "\n")
	count := len(b.texts)
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			// The batch is already removed: delivery retries belong to the
			// routing layer, not here.
			s.logger.Error("debounce: handler panicked, batch dropped",
				"key", key.String(), "messages", count, "panic", r)
		}
	}()

	s.logger.Debug("debounce: batch ready", "key", key.String(), "messages", count)
	s.onReady(key, combined)
}
