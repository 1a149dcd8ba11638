package hive

import (
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hiveerr "github.com/HexSleeves/apiary/internal/errors"
)

// recorder collects every reported event.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Report(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) find(kind Kind, bee int) (Event, bool) {
	for _, e := range r.all() {
		if e.Kind == kind && e.BeeID == bee {
			return e, true
		}
	}
	return Event{}, false
}

func newTestHive(t *testing.T, frames int, rec *recorder) *Hive {
	t.Helper()
	h := New(frames, Options{
		Transit:       time.Millisecond,
		CapacityRetry: 5 * time.Millisecond,
		Rand:          rand.New(rand.NewPCG(1, 2)),
		Reporter:      rec,
	})
	t.Cleanup(func() { h.Close() })
	return h
}

func seed(t *testing.T, h *Hive, n int) {
	t.Helper()
	require.NoError(t, h.Transact(func(tx *Tx) error {
		for range n {
			tx.Enlist()
		}
		return nil
	}))
}

func TestAdmissible(t *testing.T) {
	tests := []struct {
		frames int
		want   int
	}{
		{10, 4},
		{20, 9},
		{4, 1},
		{3, 0},
		{2, 0},
		{1, 0},
		{0, 0},
		{1000, 499},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Admissible(tt.frames), "Admissible(%d)", tt.frames)
	}
}

func TestGrowShrink(t *testing.T) {
	grown, clamped := Grow(10, 1000)
	assert.Equal(t, 20, grown)
	assert.False(t, clamped)

	grown, clamped = Grow(600, 1000)
	assert.Equal(t, 1000, grown)
	assert.True(t, clamped)

	grown, clamped = Grow(500, 1000)
	assert.Equal(t, 1000, grown)
	assert.False(t, clamped)

	assert.Equal(t, 5, Shrink(10))
	assert.Equal(t, 2, Shrink(5))
	assert.Equal(t, 0, Shrink(1))
}

func TestPickEntrance(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))

	assert.Equal(t, 1, pickEntrance([2]int{3, 0}, rng))
	assert.Equal(t, 0, pickEntrance([2]int{0, 3}, rng))
	assert.Equal(t, 0, pickEntrance([2]int{4, 6}, rng))

	for _, waiting := range [][2]int{{0, 0}, {2, 1}, {1, 2}} {
		seen := map[int]int{}
		for range 400 {
			seen[pickEntrance(waiting, rng)]++
		}
		assert.Greater(t, seen[0], 100, "waiting %v should pick entrance 0 often", waiting)
		assert.Greater(t, seen[1], 100, "waiting %v should pick entrance 1 often", waiting)
	}
}

func TestCapacityNeverExceeded(t *testing.T) {
	rec := &recorder{}
	h := newTestHive(t, 10, rec)
	seed(t, h, 10)

	var wg sync.WaitGroup
	for id := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 5 {
				_, err := h.Cross(id, In)
				if !assert.NoError(t, err) {
					return
				}
				time.Sleep(time.Duration(1+id%3) * time.Millisecond)
				_, err = h.Cross(id, Out)
				if !assert.NoError(t, err) {
					return
				}
			}
		}()
	}
	wg.Wait()

	for _, e := range rec.all() {
		assert.GreaterOrEqual(t, e.Inside, 0, "event %d", e.Seq)
		assert.LessOrEqual(t, e.Inside, 4, "event %d (%s)", e.Seq, e.Kind)
	}
	snap := h.Snapshot()
	assert.Equal(t, 0, snap.Inside)
	assert.Equal(t, [2]int{0, 0}, snap.Waiting)
	assert.Equal(t, 10, snap.Alive)

	entered, exited := 0, 0
	for _, e := range rec.all() {
		switch e.Kind {
		case KindEntered:
			entered++
		case KindExited:
			exited++
		}
	}
	assert.Equal(t, 50, entered)
	assert.Equal(t, 50, exited)
}

func TestEventsAreTotallyOrdered(t *testing.T) {
	rec := &recorder{}
	h := newTestHive(t, 10, rec)
	seed(t, h, 4)

	var wg sync.WaitGroup
	for id := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.Cross(id, In)
			_, _ = h.Cross(id, Out)
		}()
	}
	wg.Wait()

	seen := map[uint64]bool{}
	for _, e := range rec.all() {
		assert.False(t, seen[e.Seq], "duplicate seq %d", e.Seq)
		seen[e.Seq] = true
	}
}

func TestSameEntranceServedInTicketOrder(t *testing.T) {
	rec := &recorder{}
	h := newTestHive(t, 20, rec)
	seed(t, h, 3)
	e := h.Entrance(0)

	// hold the corridor so arrivals pile up in ticket order
	e.slot <- struct{}{}

	var wg sync.WaitGroup
	for i, id := range []int{1, 2, 3} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.CrossAt(id, 0, In))
		}()
		require.Eventually(t, func() bool { return e.Pending() == i+1 }, time.Second, time.Millisecond)
	}

	<-e.slot
	wg.Wait()

	var order []int
	for _, ev := range rec.all() {
		if ev.Kind == KindEntered {
			order = append(order, ev.BeeID)
		}
	}
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, 0, e.Pending())
}

func TestFullHiveBlocksArrivalUntilExit(t *testing.T) {
	rec := &recorder{}
	h := New(4, Options{
		Transit:       time.Millisecond,
		CapacityRetry: time.Minute, // only a vacancy can wake the waiter
		Reporter:      rec,
	})
	t.Cleanup(func() { h.Close() })
	seed(t, h, 2)

	require.NoError(t, h.CrossAt(1, 0, In))
	require.Equal(t, 1, h.Snapshot().Inside)

	done := make(chan error, 1)
	go func() { done <- h.CrossAt(2, 0, In) }()

	require.Eventually(t, func() bool {
		_, ok := rec.find(KindWaiting, 2)
		return ok
	}, time.Second, time.Millisecond)
	_, entered := rec.find(KindEntered, 2)
	assert.False(t, entered, "bee 2 must not enter a full hive")
	assert.Equal(t, 1, h.Snapshot().Inside)

	// leaving through the same entrance works because the waiter gave the slot back
	require.NoError(t, h.CrossAt(1, 0, Out))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting bee was not admitted after the exit")
	}

	assert.Equal(t, 1, h.Snapshot().Inside)
	// bee 1 in, bee 2 once, bee 1 out: the waiter never took a second ticket
	assert.Equal(t, uint64(3), h.Entrance(0).Issued())

	waitEv, _ := rec.find(KindWaiting, 2)
	enterEv, _ := rec.find(KindEntered, 2)
	exitEv, _ := rec.find(KindExited, 1)
	assert.Less(t, waitEv.Seq, exitEv.Seq)
	assert.Less(t, exitEv.Seq, enterEv.Seq)
}

func TestFullHiveAdmitsWaitersInTicketOrder(t *testing.T) {
	for round := range 20 {
		rec := &recorder{}
		// N=4 admits one bee; the short retry makes parked bees poll the slot
		h := newTestHive(t, 4, rec)
		seed(t, h, 4)
		e := h.Entrance(0)

		require.NoError(t, h.CrossAt(0, 1, In))

		entered := make(chan int, 3)
		for i, id := range []int{1, 2, 3} {
			go func() {
				if assert.NoError(t, h.CrossAt(id, 0, In)) {
					entered <- id
				}
			}()
			require.Eventually(t, func() bool { return e.Parked(h) == i+1 }, time.Second, time.Millisecond)
		}

		// free one place at a time through the other entrance
		inside := 0
		for _, want := range []int{1, 2, 3} {
			require.NoError(t, h.CrossAt(inside, 1, Out))
			select {
			case got := <-entered:
				require.Equal(t, want, got, "round %d: bees entered out of ticket order", round)
				inside = got
			case <-time.After(2 * time.Second):
				t.Fatalf("round %d: bee %d was not admitted", round, want)
			}
			assert.Equal(t, 1, h.Snapshot().Inside)
		}
		assert.Equal(t, 0, e.Parked(h))
	}
}

func TestLateArrivalQueuesBehindCapacityWaiters(t *testing.T) {
	rec := &recorder{}
	h := New(4, Options{Transit: time.Millisecond, CapacityRetry: time.Minute, Reporter: rec})
	t.Cleanup(func() { h.Close() })
	seed(t, h, 3)
	e := h.Entrance(0)

	require.NoError(t, h.CrossAt(0, 1, In))
	first := make(chan error, 1)
	go func() { first <- h.CrossAt(1, 0, In) }()
	require.Eventually(t, func() bool { return e.Parked(h) == 1 }, time.Second, time.Millisecond)

	// grow to P=3: the waiter is woken, and a later arrival at the same
	// entrance may only follow it
	late := make(chan error, 1)
	require.NoError(t, h.Transact(func(tx *Tx) error {
		tx.SetFrames(8)
		return nil
	}))
	go func() { late <- h.CrossAt(2, 0, In) }()

	for _, ch := range []chan error{first, late} {
		select {
		case err := <-ch:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("bee was not admitted after the grow")
		}
	}
	a, _ := rec.find(KindEntered, 1)
	b, _ := rec.find(KindEntered, 2)
	assert.Less(t, a.Seq, b.Seq)
	assert.Equal(t, 3, h.Snapshot().Inside)
}

func TestGrowWakesWaiters(t *testing.T) {
	rec := &recorder{}
	h := New(4, Options{Transit: time.Millisecond, CapacityRetry: time.Minute, Reporter: rec})
	t.Cleanup(func() { h.Close() })
	seed(t, h, 2)

	require.NoError(t, h.CrossAt(1, 1, In))

	done := make(chan error, 1)
	go func() { done <- h.CrossAt(2, 0, In) }()
	require.Eventually(t, func() bool {
		_, ok := rec.find(KindWaiting, 2)
		return ok
	}, time.Second, time.Millisecond)

	require.NoError(t, h.Transact(func(tx *Tx) error {
		tx.SetFrames(8)
		return nil
	}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("grow did not wake the waiting bee")
	}
	snap := h.Snapshot()
	assert.Equal(t, 2, snap.Inside)
	assert.Equal(t, 3, snap.Admissible)
}

func TestDegenerateHiveAdmitsNobody(t *testing.T) {
	rec := &recorder{}
	h := newTestHive(t, 2, rec)
	seed(t, h, 1)
	require.Equal(t, 0, h.Snapshot().Admissible)

	done := make(chan error, 1)
	go func() { done <- h.CrossAt(1, 0, In) }()
	require.Eventually(t, func() bool {
		_, ok := rec.find(KindWaiting, 1)
		return ok
	}, time.Second, time.Millisecond)

	// a few retry intervals later the bee is still outside
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, h.Snapshot().Inside)

	h.Close()
	err := <-done
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, hiveerr.IsSync(err))
}

func TestCloseWakesEveryBlockedBee(t *testing.T) {
	rec := &recorder{}
	h := New(4, Options{Transit: time.Millisecond, CapacityRetry: time.Minute, Reporter: rec})
	seed(t, h, 4)
	require.NoError(t, h.CrossAt(0, 0, In))

	errs := make(chan error, 3)
	for _, id := range []int{1, 2, 3} {
		go func() { errs <- h.CrossAt(id, 0, In) }()
	}
	require.Eventually(t, func() bool {
		_, ok := rec.find(KindWaiting, 1)
		_, ok2 := rec.find(KindWaiting, 2)
		_, ok3 := rec.find(KindWaiting, 3)
		return ok || ok2 || ok3
	}, time.Second, time.Millisecond)

	assert.True(t, h.Close())
	assert.False(t, h.Close(), "second Close must be a no-op")

	for range 3 {
		select {
		case err := <-errs:
			assert.True(t, errors.Is(err, ErrClosed), "got %v", err)
		case <-time.After(2 * time.Second):
			t.Fatal("blocked bee not woken by Close")
		}
	}

	_, err := h.Cross(9, In)
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(h.Transact(func(*Tx) error { return nil }), ErrClosed))
	assert.True(t, errors.Is(h.Sleep(time.Hour), ErrClosed))

	closes := 0
	for _, e := range rec.all() {
		if e.Kind == KindClosed {
			closes++
		}
	}
	assert.Equal(t, 1, closes)
}

func TestDieAndAbandon(t *testing.T) {
	rec := &recorder{}
	h := newTestHive(t, 10, rec)
	seed(t, h, 3)

	require.NoError(t, h.CrossAt(0, 0, In))
	require.NoError(t, h.Abandon(0, true, errors.New("boom")))
	snap := h.Snapshot()
	assert.Equal(t, 0, snap.Inside)
	assert.Equal(t, 2, snap.Alive)

	require.NoError(t, h.Die(1))
	assert.Equal(t, 1, h.Snapshot().Alive)

	ev, ok := rec.find(KindFailed, 0)
	require.True(t, ok)
	assert.Equal(t, "boom", ev.Detail)
	_, ok = rec.find(KindDied, 1)
	assert.True(t, ok)
}

func TestSecondDeathIsRefused(t *testing.T) {
	rec := &recorder{}
	h := newTestHive(t, 10, rec)
	seed(t, h, 2)

	require.NoError(t, h.Die(1))
	assert.ErrorIs(t, h.Die(1), ErrAlreadyDead)
	assert.ErrorIs(t, h.Abandon(1, false, errors.New("late")), ErrAlreadyDead)
	assert.Equal(t, 1, h.Snapshot().Alive)

	require.NoError(t, h.Die(0))
	assert.ErrorIs(t, h.Die(7), ErrAlreadyDead, "no bee is left alive")
	assert.Equal(t, 0, h.Snapshot().Alive)

	deaths := 0
	for _, ev := range rec.all() {
		if ev.Kind == KindDied || ev.Kind == KindFailed {
			deaths++
		}
	}
	assert.Equal(t, 2, deaths)
}

func TestTransactReleasesLockOnPanic(t *testing.T) {
	rec := &recorder{}
	h := newTestHive(t, 10, rec)

	assert.PanicsWithValue(t, "spawn exploded", func() {
		_ = h.Transact(func(tx *Tx) error {
			tx.Enlist()
			tx.Emit(KindSeeded, NoBee, "1 bees")
			panic("spawn exploded")
		})
	})

	snap := make(chan Snapshot, 1)
	go func() { snap <- h.Snapshot() }()
	select {
	case s := <-snap:
		assert.Equal(t, 1, s.Alive)
	case <-time.After(time.Second):
		t.Fatal("hive lock still held after the panic")
	}
	_, ok := rec.find(KindSeeded, NoBee)
	assert.True(t, ok)
	require.NoError(t, h.Transact(func(tx *Tx) error { return nil }))
}

func TestTxHatch(t *testing.T) {
	h := newTestHive(t, 4, &recorder{})

	require.NoError(t, h.Transact(func(tx *Tx) error {
		return tx.Hatch()
	}))
	err := h.Transact(func(tx *Tx) error {
		return tx.Hatch()
	})
	assert.Error(t, err, "second hatch would exceed admissible=1")

	snap := h.Snapshot()
	assert.Equal(t, 1, snap.Inside)
	assert.Equal(t, 1, snap.Alive)

	require.NoError(t, h.Transact(func(tx *Tx) error {
		tx.Unhatch()
		return nil
	}))
	assert.Equal(t, Snapshot{Frames: 4, Admissible: 1}, h.Snapshot())
}

func TestTxOutsideTransactPanics(t *testing.T) {
	h := newTestHive(t, 10, &recorder{})
	var leaked *Tx
	require.NoError(t, h.Transact(func(tx *Tx) error {
		leaked = tx
		return nil
	}))
	assert.Panics(t, func() { leaked.Inside() })
}

func TestExitFromEmptyHiveIsRejected(t *testing.T) {
	h := newTestHive(t, 10, &recorder{})
	err := h.CrossAt(1, 0, Out)
	assert.Error(t, err)
	assert.False(t, h.Entrance(0).Busy())
}

func TestConcurrentResizeAndCrossingDoNotDeadlock(t *testing.T) {
	rec := &recorder{}
	h := newTestHive(t, 12, rec)
	seed(t, h, 12)

	stop := make(chan struct{})
	var keeper sync.WaitGroup
	keeper.Add(1)
	go func() {
		defer keeper.Done()
		grow := true
		for {
			select {
			case <-stop:
				return
			case <-time.After(2 * time.Millisecond):
			}
			_ = h.Transact(func(tx *Tx) error {
				if grow {
					n, _ := Grow(tx.Frames(), tx.MaxFrames())
					tx.SetFrames(n)
				} else {
					tx.SetFrames(max(Shrink(tx.Frames()), 4))
				}
				return nil
			})
			grow = !grow
		}
	}()

	var bees sync.WaitGroup
	for id := range 12 {
		bees.Add(1)
		go func() {
			defer bees.Done()
			for range 4 {
				if _, err := h.Cross(id, In); err != nil {
					return
				}
				time.Sleep(time.Millisecond)
				if _, err := h.Cross(id, Out); err != nil {
					return
				}
			}
		}()
	}

	finished := make(chan struct{})
	go func() {
		bees.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(10 * time.Second):
		t.Fatal("bees did not finish: protocol deadlocked")
	}
	close(stop)
	keeper.Wait()

	for _, e := range rec.all() {
		if e.Kind == KindEntered {
			assert.LessOrEqual(t, e.Inside, e.Admissible, "entry %d over capacity", e.Seq)
		}
	}
	assert.Equal(t, 0, h.Snapshot().Inside)
}
