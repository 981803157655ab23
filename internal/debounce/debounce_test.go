package debounce

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/deskhive-io/deskhive/pkg/protocol"
)

type capture struct {
	mu    sync.Mutex
	fired []string
}

func (c *capture) ready(key protocol.ConversationKey, combined string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fired = append(c.fired, combined)
}

func (c *capture) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.fired...)
}

var key = protocol.ConversationKey{ChatID: "100", UserID: "7"}

func TestCoalescesConsecutiveMessages(t *testing.T) {
	c := &capture{}
	s := New(120*time.Millisecond, c.ready, nil)

	s.Notify(key, "Please prepare a certificate")
	time.Sleep(30 * time.Millisecond)
	s.Notify(key, "for bank X")

	time.Sleep(300 * time.Millisecond)

	got := c.snapshot()
	if len(got) != 1 {
		t.Fatalf("fired %d times, want 1: %v", len(got), got)
	}
	want := "Please prepare a certificate\nfor bank X"
	if got[0] != want {
		t.Errorf("combined = %q, want %q", got[0], want)
	}
	if s.Pending(key) {
		t.Error("batch still pending after fire")
	}
}

func TestNoPartialFire(t *testing.T) {
	c := &capture{}
	s := New(100*time.Millisecond, c.ready, nil)

	// Keep resetting the timer; nothing may fire while messages keep coming.
	for i := 0; i < 5; i++ {
		s.Notify(key, fmt.Sprintf("m%d", i))
		time.Sleep(40 * time.Millisecond)
	}
	if got := c.snapshot(); len(got) != 0 {
		t.Fatalf("fired early with %v", got)
	}

	time.Sleep(250 * time.Millisecond)
	got := c.snapshot()
	if len(got) != 1 {
		t.Fatalf("fired %d times, want 1", len(got))
	}
	if got[0] != "m0\nm1\nm2\nm3\nm4" {
		t.Errorf("combined = %q", got[0])
	}
}

func TestIndependentKeys(t *testing.T) {
	c := &capture{}
	s := New(80*time.Millisecond, c.ready, nil)

	other := protocol.ConversationKey{ChatID: "200", UserID: "8"}
	s.Notify(key, "a")
	s.Notify(other, "b")

	time.Sleep(250 * time.Millisecond)

	got := c.snapshot()
	if len(got) != 2 {
		t.Fatalf("fired %d times, want 2: %v", len(got), got)
	}
}

func TestMessageAfterFireStartsFreshBatch(t *testing.T) {
	c := &capture{}
	s := New(60*time.Millisecond, c.ready, nil)

	s.Notify(key, "first")
	time.Sleep(200 * time.Millisecond)
	s.Notify(key, "second")
	time.Sleep(200 * time.Millisecond)

	got := c.snapshot()
	if len(got) != 2 {
		t.Fatalf("fired %d times, want 2: %v", len(got), got)
	}
	if got[0] != "first" || got[1] != "second" {
		t.Errorf("batches = %v", got)
	}
}

func TestConcurrentNotifyNeverDropsOrDuplicates(t *testing.T) {
	var mu sync.Mutex
	total := 0
	batches := 0
	s := New(50*time.Millisecond, func(_ protocol.ConversationKey, combined string) {
		mu.Lock()
		defer mu.Unlock()
		batches++
		n := 1
		for _, r := range combined {
			if r == '\n' {
				n++
			}
		}
		total += n
	}, nil)

	const writers = 8
	const perWriter = 20
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				s.Notify(key, fmt.Sprintf("w%d-%d", w, i))
				time.Sleep(time.Millisecond)
			}
		}(w)
	}
	wg.Wait()
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if total != writers*perWriter {
		t.Errorf("delivered %d messages across %d batches, want %d", total, batches, writers*perWriter)
	}
}

func TestHandlerPanicDropsBatchOnly(t *testing.T) {
	c := &capture{}
	calls := 0
	s := New(40*time.Millisecond, func(k protocol.ConversationKey, combined string) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		c.ready(k, combined)
	}, nil)

	s.Notify(key, "doomed")
	time.Sleep(150 * time.Millisecond)

	// The scheduler must survive and keep delivering later batches.
	s.Notify(key, "next")
	time.Sleep(150 * time.Millisecond)

	got := c.snapshot()
	if len(got) != 1 || got[0] != "next" {
		t.Errorf("after panic, delivered %v", got)
	}
}
