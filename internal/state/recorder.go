package state

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/HexSleeves/apiary/internal/hive"
)

const maxBatch = 256

// Recorder journals events for one session from a background goroutine so
// that the publishing bee never waits on disk.
type Recorder struct {
	db      *DB
	session string
	logger  *log.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan hive.Event
	wg     sync.WaitGroup

	written atomic.Int64
	dropped atomic.Int64
	err     error // first write error, read after wg.Wait
}

// NewRecorder starts a recorder with room for buffer queued events.
func NewRecorder(db *DB, sessionID string, buffer int, logger *log.Logger) *Recorder {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = log.Default()
	}
	r := &Recorder{
		db:      db,
		session: sessionID,
		logger:  logger,
		ch:      make(chan hive.Event, buffer),
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

// Report queues e, blocking while the buffer is full. Events reported after
// Close are counted as dropped.
func (r *Recorder) Report(e hive.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	r.ch <- e
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	batch := make([]hive.Event, 0, maxBatch)
	for e := range r.ch {
		batch = append(batch[:0], e)
	drain:
		for len(batch) < maxBatch {
			select {
			case more, ok := <-r.ch:
				if !ok {
					break drain
				}
				batch = append(batch, more)
			default:
				break drain
			}
		}
		r.flush(batch)
	}
}

func (r *Recorder) flush(batch []hive.Event) {
	if err := r.db.AppendEvents(context.Background(), r.session, batch); err != nil {
		if r.err == nil {
			r.err = err
			r.logger.Printf("⚠ Journal: failed to record %d events: %v", len(batch), err)
		}
		r.dropped.Add(int64(len(batch)))
		return
	}
	r.written.Add(int64(len(batch)))
}

// Written returns how many events reached the database.
func (r *Recorder) Written() int64 { return r.written.Load() }

// Dropped returns how many events were not journaled.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Close flushes queued events and stops the recorder. It returns the first
// write error, if any.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.wg.Wait()
		return r.err
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()

	r.wg.Wait()
	return r.err
}
