// Package bus fans hive events out to subscribers in commit order.
package bus

import (
	"sync"

	"github.com/HexSleeves/apiary/internal/hive"
)

type Handler func(e hive.Event)

const wildcard hive.Kind = "*"

// MessageBus implements hive.Reporter. Events reach the bus after the hive
// lock is released, so two publishers may arrive out of order; the bus holds
// an early event back until every lower Seq has been delivered. Handlers are
// called from one goroutine at a time.
type MessageBus struct {
	mu       sync.Mutex
	handlers map[hive.Kind][]Handler
	history  []hive.Event
	maxHist  int

	next       uint64 // next Seq to deliver
	pending    map[uint64]hive.Event
	delivering bool
	delivered  uint64
}

func New(maxHistory int) *MessageBus {
	if maxHistory <= 0 {
		maxHistory = 10000
	}
	return &MessageBus{
		handlers: make(map[hive.Kind][]Handler),
		maxHist:  maxHistory,
		next:     1,
		pending:  make(map[uint64]hive.Event),
	}
}

func (b *MessageBus) Subscribe(kind hive.Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

func (b *MessageBus) SubscribeAll(h Handler) {
	b.Subscribe(wildcard, h)
}

// Report queues e and delivers every event that is now in sequence. Events
// without a Seq are delivered immediately.
func (b *MessageBus) Report(e hive.Event) {
	b.mu.Lock()
	if e.Seq == 0 {
		b.mu.Unlock()
		b.dispatch(e)
		return
	}
	if e.Seq < b.next {
		// already delivered
		b.mu.Unlock()
		return
	}
	b.pending[e.Seq] = e
	if b.delivering {
		// the goroutine currently delivering will pick it up
		b.mu.Unlock()
		return
	}
	b.delivering = true
	for {
		ev, ok := b.pending[b.next]
		if !ok {
			break
		}
		delete(b.pending, b.next)
		b.next++
		b.record(ev)
		b.mu.Unlock()
		b.dispatch(ev)
		b.mu.Lock()
	}
	b.delivering = false
	b.mu.Unlock()
}

func (b *MessageBus) record(e hive.Event) {
	b.delivered++
	b.history = append(b.history, e)
	if len(b.history) > b.maxHist {
		b.history = b.history[len(b.history)-b.maxHist:]
	}
}

func (b *MessageBus) dispatch(e hive.Event) {
	b.mu.Lock()
	// Copy handlers under lock
	specific := make([]Handler, len(b.handlers[e.Kind]))
	copy(specific, b.handlers[e.Kind])
	all := make([]Handler, len(b.handlers[wildcard]))
	copy(all, b.handlers[wildcard])
	b.mu.Unlock()

	for _, h := range specific {
		h(e)
	}
	for _, h := range all {
		h(e)
	}
}

// History returns the last n delivered events (all of them when n <= 0).
func (b *MessageBus) History(n int) []hive.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.history) {
		n = len(b.history)
	}
	start := len(b.history) - n
	result := make([]hive.Event, n)
	copy(result, b.history[start:])
	return result
}

// Delivered returns how many sequenced events have been delivered.
func (b *MessageBus) Delivered() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delivered
}

// Pending returns how many events are held back waiting for an earlier Seq.
func (b *MessageBus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
