package convstate

import (
	"time"

	"github.com/deskhive-io/deskhive/pkg/protocol"
)

// ttlCache is a size-and-time-bounded map with lazy expiry on read and a
// sweep on insert once the size cap is reached. Callers hold the Store
// mutex; the cache itself is not synchronized.
type ttlCache struct {
	max     int
	ttl     time.Duration
	entries map[protocol.ConversationKey]ttlEntry
	now     func() time.Time // overridable in tests
}

type ttlEntry struct {
	value   string
	expires time.Time
}

func newTTLCache(max int, ttl time.Duration) *ttlCache {
	return &ttlCache{
		max:     max,
		ttl:     ttl,
		entries: make(map[protocol.ConversationKey]ttlEntry),
		now:     time.Now,
	}
}

func (c *ttlCache) set(key protocol.ConversationKey, value string) {
	if len(c.entries) >= c.max {
		c.sweep()
	}
	if len(c.entries) >= c.max {
		c.evictSoonest()
	}
	c.entries[key] = ttlEntry{value: value, expires: c.now().Add(c.ttl)}
}

func (c *ttlCache) pop(key protocol.ConversationKey) (string, bool) {
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	delete(c.entries, key)
	if c.now().After(e.expires) {
		return "", false
	}
	return e.value, true
}

// sweep drops every expired entry.
func (c *ttlCache) sweep() {
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
}

// evictSoonest removes the entry closest to expiry to make room when the
// cache is full of live entries.
func (c *ttlCache) evictSoonest() {
	var victim protocol.ConversationKey
	var soonest time.Time
	first := true
	for k, e := range c.entries {
		if first || e.expires.Before(soonest) {
			victim, soonest, first = k, e.expires, false
		}
	}
	if !first {
		delete(c.entries, victim)
	}
}
