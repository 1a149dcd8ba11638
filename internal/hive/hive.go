// Package hive holds the shared colony state and the entrance protocol that
// bees use to get in and out of it.
//
// All counts live behind a single hive lock. The only ways to change them are
// a Cross through one of the two entrances, a death, or a Transact closure
// (used by the queen and the beekeeper). Lock order is always
// entrance ticket -> entrance slot -> hive lock; the hive lock is never held
// while waiting on an entrance.
package hive

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	hiveerr "github.com/HexSleeves/apiary/internal/errors"
)

const (
	// Entrances is the number of physical access points.
	Entrances = 2
	// DefaultMaxFrames bounds the capacity basis N.
	DefaultMaxFrames = 1000
)

// ErrClosed is returned (wrapped in a sync error) once the hive has been torn down.
var ErrClosed = errors.New("hive closed")

// ErrAlreadyDead is returned when a death is recorded twice for one bee.
var ErrAlreadyDead = errors.New("death already recorded")

// Admissible returns how many bees may be inside at once for a capacity basis of
// frames: floor(frames/2) - 1, never below zero.
func Admissible(frames int) int {
	return max(frames/2-1, 0)
}

// Grow doubles frames, clamped to maxFrames. clamped is true when the cap applied.
func Grow(frames, maxFrames int) (grown int, clamped bool) {
	if frames > maxFrames-frames {
		return maxFrames, true
	}
	return 2 * frames, false
}

// Shrink halves frames using integer division.
func Shrink(frames int) int {
	return frames / 2
}

// Options tunes a Hive. Zero values pick defaults.
type Options struct {
	MaxFrames     int
	Transit       time.Duration // time a bee occupies an entrance slot
	CapacityRetry time.Duration // upper bound on one wait for a free place
	Rand          *rand.Rand    // entrance tie-break source
	Reporter      Reporter
}

// Snapshot is a consistent copy of the hive counts.
type Snapshot struct {
	Frames     int    `json:"frames"`
	Admissible int    `json:"admissible"`
	Inside     int    `json:"inside"`
	Alive      int    `json:"alive"`
	Waiting    [2]int `json:"waiting"`
	Closed     bool   `json:"closed"`
}

// Hive is the capacity-bounded shared resource.
type Hive struct {
	mu sync.Mutex

	frames    int
	maxFrames int
	inside    int
	alive     int
	waiting   [Entrances]int
	seq       uint64
	closed    bool
	buried    map[int]struct{} // ids whose death has been recorded

	entrances [Entrances]*Entrance
	rng       *rand.Rand
	transit   time.Duration
	retry     time.Duration
	reporter  Reporter

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a hive with capacity basis frames (clamped to the maximum).
func New(frames int, opts Options) *Hive {
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = DefaultMaxFrames
	}
	if opts.Transit <= 0 {
		opts.Transit = 100 * time.Millisecond
	}
	if opts.CapacityRetry <= 0 {
		opts.CapacityRetry = time.Second
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	if opts.Reporter == nil {
		opts.Reporter = nopReporter{}
	}

	h := &Hive{
		frames:    min(frames, opts.MaxFrames),
		maxFrames: opts.MaxFrames,
		rng:       opts.Rand,
		transit:   opts.Transit,
		retry:     opts.CapacityRetry,
		reporter:  opts.Reporter,
		buried:    make(map[int]struct{}),
		done:      make(chan struct{}),
	}
	for i := range h.entrances {
		h.entrances[i] = newEntrance(i, h.done)
	}
	return h
}

// MaxFrames returns the capacity ceiling.
func (h *Hive) MaxFrames() int { return h.maxFrames }

// Entrance returns entrance i.
func (h *Hive) Entrance(i int) *Entrance { return h.entrances[i] }

// Snapshot returns the current counts.
func (h *Hive) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *Hive) snapshotLocked() Snapshot {
	return Snapshot{
		Frames:     h.frames,
		Admissible: Admissible(h.frames),
		Inside:     h.inside,
		Alive:      h.alive,
		Waiting:    h.waiting,
		Closed:     h.closed,
	}
}

// Done is closed when the hive is torn down.
func (h *Hive) Done() <-chan struct{} { return h.done }

// Closed reports whether Close has been called.
func (h *Hive) Closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Close tears the hive down exactly once. Every agent blocked on a ticket, a
// slot, a vacancy or a sleep is woken with a sync error. It returns true for
// the call that actually closed the hive.
func (h *Hive) Close() bool {
	first := false
	h.closeOnce.Do(func() {
		first = true

		h.mu.Lock()
		h.closed = true
		close(h.done)
		ev := h.recordLocked(KindClosed, NoBee, NoEntrance, "")
		h.mu.Unlock()

		for _, e := range h.entrances {
			e.close()
		}
		h.publish(ev)
	})
	return first
}

// Sleep waits for d, returning early with a sync error if the hive is closed.
func (h *Hive) Sleep(d time.Duration) error {
	if d <= 0 {
		if h.Closed() {
			return hiveerr.NewSyncError(ErrClosed, "sleep")
		}
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-h.done:
		return hiveerr.NewSyncError(ErrClosed, "sleep")
	}
}

// Transact runs fn while holding the hive lock. Events emitted through the Tx
// are delivered after the lock is released. A closed hive refuses new
// transactions.
//
// A panic in fn still releases the lock and is then passed on to the caller.
func (h *Hive) Transact(fn func(tx *Tx) error) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return hiveerr.NewSyncError(ErrClosed, "hive lock")
	}
	tx := &Tx{h: h}
	defer func() {
		tx.h = nil
		events := tx.events
		h.mu.Unlock()
		h.publish(events...)
	}()
	return fn(tx)
}

// buryLocked accounts for the death of bee id exactly once.
func (h *Hive) buryLocked(id int) error {
	if _, dead := h.buried[id]; dead {
		return fmt.Errorf("bee %d: %w", id, ErrAlreadyDead)
	}
	if h.alive == 0 {
		return fmt.Errorf("bee %d: %w: no bee is alive", id, ErrAlreadyDead)
	}
	h.buried[id] = struct{}{}
	h.alive--
	return nil
}

// Die records the natural death of bee id. The bee must already be outside.
// A second death of the same bee changes nothing and returns ErrAlreadyDead.
func (h *Hive) Die(id int) error {
	h.mu.Lock()
	if err := h.buryLocked(id); err != nil {
		h.mu.Unlock()
		return err
	}
	ev := h.recordLocked(KindDied, id, NoEntrance, "")
	h.mu.Unlock()
	h.publish(ev)
	return nil
}

// Abandon records the early death of bee id after a fatal failure. If the bee
// was inside, its place is given back so occupancy stays conserved. Like Die
// it refuses a second death of the same bee.
func (h *Hive) Abandon(id int, inside bool, cause error) error {
	h.mu.Lock()
	if err := h.buryLocked(id); err != nil {
		h.mu.Unlock()
		return err
	}
	if inside && h.inside > 0 {
		h.inside--
		h.wakeLocked()
	}
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	ev := h.recordLocked(KindFailed, id, NoEntrance, detail)
	h.mu.Unlock()
	h.publish(ev)
	return nil
}

// wakeLocked tells the oldest capacity waiter at each entrance that room may
// have appeared. There is no ordering across entrances.
func (h *Hive) wakeLocked() {
	for _, e := range h.entrances {
		e.wakeHeadLocked()
	}
}

func (h *Hive) recordLocked(kind Kind, bee, entrance int, detail string) Event {
	h.seq++
	return Event{
		Seq:        h.seq,
		Kind:       kind,
		BeeID:      bee,
		Entrance:   entrance,
		Frames:     h.frames,
		Admissible: Admissible(h.frames),
		Inside:     h.inside,
		Alive:      h.alive,
		Waiting:    h.waiting,
		Detail:     detail,
		Time:       time.Now(),
	}
}

func (h *Hive) publish(events ...Event) {
	for _, e := range events {
		h.reporter.Report(e)
	}
}

// Tx is the mutation surface handed to Transact. It is only valid inside the
// closure; using it afterwards panics.
type Tx struct {
	h      *Hive
	events []Event
}

func (tx *Tx) hive() *Hive {
	if tx.h == nil {
		panic("hive: Tx used outside Transact")
	}
	return tx.h
}

// Frames returns the capacity basis N.
func (tx *Tx) Frames() int { return tx.hive().frames }

// MaxFrames returns the capacity ceiling.
func (tx *Tx) MaxFrames() int { return tx.hive().maxFrames }

// Admissible returns how many bees may be inside right now.
func (tx *Tx) Admissible() int { return Admissible(tx.hive().frames) }

// Inside returns the number of bees inside.
func (tx *Tx) Inside() int { return tx.hive().inside }

// Alive returns the number of live bees.
func (tx *Tx) Alive() int { return tx.hive().alive }

// FreeSpace returns Admissible() - Inside(), which is negative after a shrink
// below current occupancy.
func (tx *Tx) FreeSpace() int {
	h := tx.hive()
	return Admissible(h.frames) - h.inside
}

// Waiting returns the advisory queue length at entrance i.
func (tx *Tx) Waiting(i int) int { return tx.hive().waiting[i] }

// SetFrames overwrites the capacity basis. Readers recompute Admissible
// lazily; waiting bees are woken when capacity grows.
func (tx *Tx) SetFrames(frames int) {
	h := tx.hive()
	if frames < 0 {
		frames = 0
	}
	grew := frames > h.frames
	h.frames = min(frames, h.maxFrames)
	if grew {
		h.wakeLocked()
	}
}

// Enlist adds a live bee that starts outside.
func (tx *Tx) Enlist() {
	tx.hive().alive++
}

// Hatch adds a live bee that starts inside. It refuses to exceed the admissible count.
func (tx *Tx) Hatch() error {
	h := tx.hive()
	if h.inside >= Admissible(h.frames) {
		return fmt.Errorf("hatch: hive full (%d/%d)", h.inside, Admissible(h.frames))
	}
	h.alive++
	h.inside++
	return nil
}

// Unhatch reverses a Hatch whose bee could not be started.
func (tx *Tx) Unhatch() {
	h := tx.hive()
	if h.alive > 0 {
		h.alive--
	}
	if h.inside > 0 {
		h.inside--
		h.wakeLocked()
	}
}

// Emit queues an event carrying the counts as they are at this point in the transaction.
func (tx *Tx) Emit(kind Kind, bee int, detail string) {
	h := tx.hive()
	tx.events = append(tx.events, h.recordLocked(kind, bee, NoEntrance, detail))
}
