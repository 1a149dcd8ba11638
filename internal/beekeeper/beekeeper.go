// Package beekeeper owns capacity changes and teardown. Requests arrive on a
// channel, from signals or the dashboard, and a single loop applies each one
// as a hive transaction.
package beekeeper

import (
	"context"
	"fmt"
	"log"
	"sync"

	hiveerr "github.com/HexSleeves/apiary/internal/errors"
	"github.com/HexSleeves/apiary/internal/hive"
)

// Action is a control request kind.
type Action string

const (
	ActionGrow      Action = "grow"
	ActionShrink    Action = "shrink"
	ActionTerminate Action = "terminate"
)

// Request is one queued control request.
type Request struct {
	Action Action
	Source string // e.g. "SIGUSR1", "tui"
}

// Result describes an applied resize.
type Result struct {
	From, To   int
	Clamped    bool
	Degenerate bool
}

// Beekeeper applies resize requests and tears the hive down exactly once.
type Beekeeper struct {
	hive     *hive.Hive
	requests chan Request
	logger   *log.Logger

	stopOnce sync.Once
	stop     chan struct{} // closed by the first terminate request
	reason   string        // source of the first terminate, set before stop closes
	downOnce sync.Once
	down     chan struct{} // closed once teardown has completed

	onTeardown []func()
}

// Option configures a Beekeeper.
type Option func(*Beekeeper)

// WithTeardown registers fn to run once, after the hive has been closed.
func WithTeardown(fn func()) Option {
	return func(k *Beekeeper) { k.onTeardown = append(k.onTeardown, fn) }
}

// WithQueue sets the request buffer size.
func WithQueue(n int) Option {
	return func(k *Beekeeper) { k.requests = make(chan Request, n) }
}

func New(h *hive.Hive, logger *log.Logger, opts ...Option) *Beekeeper {
	if logger == nil {
		logger = log.Default()
	}
	k := &Beekeeper{
		hive:     h,
		requests: make(chan Request, 16),
		logger:   logger,
		stop:     make(chan struct{}),
		down:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Submit queues a request without blocking. It reports false when the queue is
// full or the request could not be accepted. Terminate requests are never dropped.
func (k *Beekeeper) Submit(req Request) bool {
	if req.Action == ActionTerminate {
		k.stopOnce.Do(func() {
			k.logger.Printf("🧰 Beekeeper: terminate requested (%s)", sourceOf(req))
			k.reason = sourceOf(req)
			close(k.stop)
		})
		return true
	}
	select {
	case <-k.stop:
		return false
	default:
	}
	select {
	case k.requests <- req:
		return true
	default:
		k.logger.Printf("⚠ Beekeeper: request queue full, dropping %s (%s)", req.Action, sourceOf(req))
		return false
	}
}

// Grow queues a grow request.
func (k *Beekeeper) Grow() { k.Submit(Request{Action: ActionGrow, Source: "tui"}) }

// Shrink queues a shrink request.
func (k *Beekeeper) Shrink() { k.Submit(Request{Action: ActionShrink, Source: "tui"}) }

// Terminate requests teardown.
func (k *Beekeeper) Terminate() { k.Submit(Request{Action: ActionTerminate, Source: "tui"}) }

// Done is closed once teardown has completed.
func (k *Beekeeper) Done() <-chan struct{} { return k.down }

// Reason returns the source of the request that stopped the beekeeper, or
// "" while it is still running.
func (k *Beekeeper) Reason() string {
	select {
	case <-k.stop:
		return k.reason
	default:
		return ""
	}
}

// Run applies queued requests until a terminate request arrives or ctx is
// cancelled. Both paths tear the hive down before returning.
func (k *Beekeeper) Run(ctx context.Context) error {
	defer k.Teardown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-k.stop:
			return nil
		case req := <-k.requests:
			if _, err := k.Apply(req.Action); err != nil {
				if hiveerr.IsSync(err) {
					return nil
				}
				k.logger.Printf("⚠ Beekeeper: %s (%s): %v", req.Action, sourceOf(req), err)
			}
		}
	}
}

// Apply performs one grow or shrink transaction.
func (k *Beekeeper) Apply(action Action) (Result, error) {
	var res Result
	err := k.hive.Transact(func(tx *hive.Tx) error {
		res.From = tx.Frames()
		switch action {
		case ActionGrow:
			res.To, res.Clamped = hive.Grow(res.From, tx.MaxFrames())
		case ActionShrink:
			res.To = hive.Shrink(res.From)
		default:
			return fmt.Errorf("unknown action %q", action)
		}
		tx.SetFrames(res.To)

		detail := fmt.Sprintf("%s %d -> %d", action, res.From, res.To)
		if res.Clamped {
			detail += fmt.Sprintf(" (clamped to %d)", tx.MaxFrames())
		}
		tx.Emit(hive.KindResized, hive.NoBee, detail)
		if tx.Admissible() <= 0 {
			res.Degenerate = true
			tx.Emit(hive.KindDegenerate, hive.NoBee, fmt.Sprintf("admissible %d", tx.Admissible()))
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	if res.Clamped {
		k.logger.Printf("⚠ Beekeeper: grow clamped at max capacity %d", res.To)
	}
	if res.Degenerate {
		k.logger.Printf("⚠ Beekeeper: N=%d admits no bees until the hive grows again", res.To)
	}
	return res, nil
}

// Teardown closes the hive and runs the teardown hooks. Only the first call
// has any effect; later calls wait for it to finish.
func (k *Beekeeper) Teardown() {
	k.downOnce.Do(func() {
		k.stopOnce.Do(func() {
			k.reason = "teardown"
			close(k.stop)
		})
		if k.hive.Close() {
			k.logger.Printf("🛑 Beekeeper: hive torn down")
		}
		for _, fn := range k.onTeardown {
			fn()
		}
		close(k.down)
	})
	<-k.down
}

func sourceOf(req Request) string {
	if req.Source == "" {
		return "api"
	}
	return req.Source
}
