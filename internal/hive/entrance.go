package hive

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	hiveerr "github.com/HexSleeves/apiary/internal/errors"
)

// balanceThreshold is the largest queue-length difference treated as a tie.
// Within it the entrance is picked uniformly at random; beyond it the shorter
// queue wins.
const balanceThreshold = 1

// Direction of a crossing.
type Direction int

const (
	In Direction = iota
	Out
)

func (d Direction) String() string {
	if d == In {
		return "in"
	}
	return "out"
}

// Entrance is one single-occupant corridor. A ticket lock orders arrivals and
// a one-token slot represents the corridor itself. A bee takes a ticket, waits
// for its turn, takes the slot and only then hands the ticket on, so slots are
// first acquired in ticket order.
type Entrance struct {
	index int

	mu      sync.Mutex
	turn    *sync.Cond
	next    uint64 // next ticket to issue
	serving uint64 // ticket allowed to go for the slot
	closed  bool

	slot chan struct{}
	done <-chan struct{}

	// bees that found the hive full, in the order they held the slot;
	// guarded by the hive lock
	waiters []*capWaiter
}

// capWaiter is one entering bee parked until there is room. wake holds one
// signal so a wake-up sent while the bee is between locks is not lost.
type capWaiter struct {
	id   int
	wake chan struct{}
}

// parkLocked queues w behind every earlier capacity waiter.
func (e *Entrance) parkLocked(w *capWaiter) {
	e.waiters = append(e.waiters, w)
}

// unparkLocked removes w from the queue wherever it is.
func (e *Entrance) unparkLocked(w *capWaiter) {
	for i, q := range e.waiters {
		if q == w {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			return
		}
	}
}

// firstLocked reports whether w may go next: the queue is empty or w heads it.
func (e *Entrance) firstLocked(w *capWaiter) bool {
	return len(e.waiters) == 0 || e.waiters[0] == w
}

// wakeHeadLocked signals the oldest capacity waiter only.
func (e *Entrance) wakeHeadLocked() {
	if len(e.waiters) == 0 {
		return
	}
	select {
	case e.waiters[0].wake <- struct{}{}:
	default:
	}
}

// Parked returns how many bees at this entrance are waiting for room.
func (e *Entrance) Parked(h *Hive) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(e.waiters)
}

func newEntrance(index int, done <-chan struct{}) *Entrance {
	e := &Entrance{
		index: index,
		slot:  make(chan struct{}, 1),
		done:  done,
	}
	e.turn = sync.NewCond(&e.mu)
	return e
}

// Index returns the entrance number.
func (e *Entrance) Index() int { return e.index }

// Issued returns how many tickets this entrance has handed out.
func (e *Entrance) Issued() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next
}

// Pending returns tickets issued but not yet passed on, including the current holder.
func (e *Entrance) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int(e.next - e.serving)
}

// Busy reports whether a bee currently holds the slot.
func (e *Entrance) Busy() bool {
	return len(e.slot) == 1
}

func (e *Entrance) primitive(what string) string {
	return fmt.Sprintf("entrance %d %s", e.index, what)
}

// takeTicket blocks until every earlier ticket at this entrance has been passed on.
func (e *Entrance) takeTicket() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return hiveerr.NewSyncError(ErrClosed, e.primitive("ticket"))
	}
	ticket := e.next
	e.next++
	for e.serving != ticket {
		if e.closed {
			return hiveerr.NewSyncError(ErrClosed, e.primitive("ticket"))
		}
		e.turn.Wait()
	}
	return nil
}

func (e *Entrance) releaseTicket() {
	e.mu.Lock()
	e.serving++
	e.mu.Unlock()
	e.turn.Broadcast()
}

func (e *Entrance) acquireSlot() error {
	select {
	case <-e.done:
		return hiveerr.NewSyncError(ErrClosed, e.primitive("slot"))
	default:
	}
	select {
	case e.slot <- struct{}{}:
		return nil
	case <-e.done:
		return hiveerr.NewSyncError(ErrClosed, e.primitive("slot"))
	}
}

func (e *Entrance) releaseSlot() {
	<-e.slot
}

func (e *Entrance) close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.turn.Broadcast()
}

// pickEntrance prefers the shorter queue and breaks near-ties at random.
func pickEntrance(waiting [Entrances]int, rng *rand.Rand) int {
	diff := waiting[0] - waiting[1]
	switch {
	case diff > balanceThreshold:
		return 1
	case diff < -balanceThreshold:
		return 0
	default:
		return rng.IntN(Entrances)
	}
}

// Stage is a step of one crossing, reported to an optional observer.
type Stage int

const (
	StageChoosing Stage = iota // reading queue lengths to pick an entrance
	StageQueued                // waiting for a ticket turn, the slot or a free place
	StageTransit               // crossing committed, occupying the corridor
)

// Cross moves bee id in or out through the entrance with the shorter queue.
// It returns the entrance used.
func (h *Hive) Cross(id int, dir Direction) (int, error) {
	return h.CrossWith(id, dir, nil)
}

// CrossWith is Cross with an observer called as the crossing moves through its stages.
func (h *Hive) CrossWith(id int, dir Direction, observe func(Stage)) (int, error) {
	if observe == nil {
		observe = func(Stage) {}
	}
	observe(StageChoosing)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return NoEntrance, hiveerr.NewSyncError(ErrClosed, "hive lock")
	}
	idx := pickEntrance(h.waiting, h.rng)
	h.waiting[idx]++
	h.mu.Unlock()

	return idx, h.pass(id, idx, dir, observe)
}

// CrossAt moves bee id in or out through entrance idx.
func (h *Hive) CrossAt(id, idx int, dir Direction) error {
	if idx < 0 || idx >= Entrances {
		return fmt.Errorf("cross: no entrance %d", idx)
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return hiveerr.NewSyncError(ErrClosed, "hive lock")
	}
	h.waiting[idx]++
	h.mu.Unlock()

	return h.pass(id, idx, dir, func(Stage) {})
}

func (h *Hive) unqueue(idx int) {
	h.mu.Lock()
	if h.waiting[idx] > 0 {
		h.waiting[idx]--
	}
	h.mu.Unlock()
}

// pass runs the protocol once the bee is counted in waiting[idx]:
// ticket, slot, hand the ticket on, then wait under the hive lock until the
// crossing is allowed. An entering bee that finds the hive full, or finds
// older capacity waiters at its entrance, parks behind them and gives the
// slot back so leaving bees can use the entrance. Only the head of the queue
// is woken, so entering bees are admitted in the order they reached the slot,
// which is ticket order.
func (h *Hive) pass(id, idx int, dir Direction, observe func(Stage)) error {
	e := h.entrances[idx]
	observe(StageQueued)

	if err := e.takeTicket(); err != nil {
		h.unqueue(idx)
		return err
	}
	if err := e.acquireSlot(); err != nil {
		e.releaseTicket()
		h.unqueue(idx)
		return err
	}
	e.releaseTicket()

	var pending []Event
	var parked *capWaiter

	// abort gives up a parked place; the caller holds neither lock
	abort := func(err error) error {
		if parked != nil {
			h.mu.Lock()
			e.unparkLocked(parked)
			e.wakeHeadLocked()
			h.mu.Unlock()
		}
		return err
	}

	h.mu.Lock()
	if h.waiting[idx] > 0 {
		h.waiting[idx]--
	}
	for {
		if h.closed {
			if parked != nil {
				e.unparkLocked(parked)
			}
			h.mu.Unlock()
			e.releaseSlot()
			h.publish(pending...)
			return hiveerr.NewSyncError(ErrClosed, "hive lock")
		}
		room := h.inside < Admissible(h.frames)
		if dir == Out || (room && e.firstLocked(parked)) {
			break
		}
		if parked == nil {
			parked = &capWaiter{id: id, wake: make(chan struct{}, 1)}
			e.parkLocked(parked)
			pending = append(pending, h.recordLocked(KindWaiting, id, idx, ""))
			if room {
				// older waiters go first; make sure the head knows there is room
				e.wakeHeadLocked()
			}
		}
		h.mu.Unlock()
		e.releaseSlot()
		h.publish(pending...)
		pending = nil

		if err := h.awaitVacancy(parked.wake); err != nil {
			return abort(err)
		}
		if err := e.acquireSlot(); err != nil {
			return abort(err)
		}
		h.mu.Lock()
	}

	var kind Kind
	if dir == In {
		h.inside++
		kind = KindEntered
		if parked != nil {
			e.unparkLocked(parked)
			if h.inside < Admissible(h.frames) {
				e.wakeHeadLocked()
			}
		}
	} else {
		if h.inside == 0 {
			h.mu.Unlock()
			e.releaseSlot()
			return fmt.Errorf("bee %d: exit from an empty hive", id)
		}
		h.inside--
		h.wakeLocked()
		kind = KindExited
	}
	pending = append(pending, h.recordLocked(kind, id, idx, ""))
	h.mu.Unlock()
	h.publish(pending...)
	observe(StageTransit)

	// The crossing is committed; an interrupted transit only shortens it.
	_ = h.Sleep(h.transit)
	e.releaseSlot()
	return nil
}

// awaitVacancy blocks until the bee is woken as head of its queue, the retry
// interval passes, or the hive closes.
func (h *Hive) awaitVacancy(wake <-chan struct{}) error {
	t := time.NewTimer(h.retry)
	defer t.Stop()
	select {
	case <-wake:
		return nil
	case <-t.C:
		return nil
	case <-h.done:
		return hiveerr.NewSyncError(ErrClosed, "vacancy wait")
	}
}
