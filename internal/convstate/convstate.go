// Package convstate tracks per-conversation clarification waits. At most one
// wait is active per key; every wait is consumed exactly once or expires.
package convstate

import (
	"sync"
	"time"

	"github.com/deskhive-io/deskhive/pkg/protocol"
)

// DefaultPreTicketTTL bounds how long an unanswered completeness question
// keeps its original text around.
const DefaultPreTicketTTL = 15 * time.Minute

// Store holds the two mutually exclusive wait variants. Ticket waits never
// expire (they are cleared by the next message or a callback); pre-ticket
// waits sit in a bounded TTL cache so an abandoned clarification cannot leak
// state forever.
type Store struct {
	mu          sync.Mutex
	ticketWaits map[protocol.ConversationKey]string
	preTicket   *ttlCache
}

// New creates a Store. ttl <= 0 selects DefaultPreTicketTTL.
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultPreTicketTTL
	}
	return &Store{
		ticketWaits: make(map[protocol.ConversationKey]string),
		preTicket:   newTTLCache(1024, ttl),
	}
}

// TrySetTicketWait atomically sets a ticket wait only if none exists.
// On success it returns ("", true). On conflict it returns the already
// stored ticket id and false; the caller must not overwrite it.
func (s *Store) TrySetTicketWait(key protocol.ConversationKey, ticketID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.ticketWaits[key]; ok {
		return existing, false
	}
	s.ticketWaits[key] = ticketID
	return "", true
}

// PopTicketWait atomically reads and clears the ticket wait for key.
func (s *Store) PopTicketWait(key protocol.ConversationKey) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ticketWaits[key]
	if ok {
		delete(s.ticketWaits, key)
	}
	return id, ok
}

// PeekTicketWait reads the ticket wait without consuming it. Used to decide
// whether an attachment belongs to an active wait before committing to it.
func (s *Store) PeekTicketWait(key protocol.ConversationKey) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ticketWaits[key]
	return id, ok
}

// SetPreTicketWait remembers the original question asked before any ticket
// existed. A later set for the same key replaces the question and its TTL.
func (s *Store) SetPreTicketWait(key protocol.ConversationKey, question string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preTicket.set(key, question)
}

// PopPreTicketWait atomically reads and clears the stored original question.
// Expired entries read as absent.
func (s *Store) PopPreTicketWait(key protocol.ConversationKey) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preTicket.pop(key)
}
