// Package bee implements the worker bee lifecycle: repeated visits to the
// hive through the entrance protocol until the bee has used up its visits and
// dies.
package bee

import (
	"fmt"
	"log"
	"math/rand/v2"
	"sync/atomic"
	"time"

	hiveerr "github.com/HexSleeves/apiary/internal/errors"
	"github.com/HexSleeves/apiary/internal/hive"
)

// Phase is the lifecycle state of a bee.
type Phase string

const (
	PhaseOutside    Phase = "outside"
	PhaseChoosing   Phase = "choosing_entrance"
	PhaseQueued     Phase = "queued"
	PhaseTransitIn  Phase = "transit_in"
	PhaseInside     Phase = "inside"
	PhaseTransitOut Phase = "transit_out"
	PhaseDying      Phase = "dying"
	PhaseDead       Phase = "dead"
)

// Phases lists every phase in lifecycle order.
var Phases = []Phase{
	PhaseOutside, PhaseChoosing, PhaseQueued, PhaseTransitIn,
	PhaseInside, PhaseTransitOut, PhaseDying, PhaseDead,
}

// Range is a bounded, non-zero interval of durations.
type Range struct {
	Min time.Duration `json:"min" yaml:"min" toml:"min"`
	Max time.Duration `json:"max" yaml:"max" toml:"max"`
}

// Draw picks a duration uniformly from [Min, Max].
func (r Range) Draw(rng *rand.Rand) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rng.Int64N(int64(r.Max-r.Min)+1))
}

// Scale divides both bounds by factor.
func (r Range) Scale(factor float64) Range {
	return Range{Min: scale(r.Min, factor), Max: scale(r.Max, factor)}
}

func scale(d time.Duration, factor float64) time.Duration {
	if factor <= 0 || factor == 1 {
		return d
	}
	return max(time.Duration(float64(d)/factor), time.Microsecond)
}

// Validate checks that the range is non-zero and ordered.
func (r Range) Validate() error {
	if r.Min <= 0 {
		return fmt.Errorf("min %v must be > 0", r.Min)
	}
	if r.Max < r.Min {
		return fmt.Errorf("max %v is below min %v", r.Max, r.Min)
	}
	return nil
}

// Config holds the per-bee lifetime parameters.
type Config struct {
	MaxVisits   int
	HiveTime    Range // dwell inside per visit
	OutsideTime Range // time away after each exit
	FirstFlight Range // time away before the first visit of a bee born outside
}

// Bee is one worker agent.
type Bee struct {
	id         int
	cfg        Config
	hive       *hive.Hive
	rng        *rand.Rand
	bornInside bool
	logger     *log.Logger

	inside bool
	visits atomic.Int64
	phase  atomic.Value
}

// Option configures a Bee.
type Option func(*Bee)

// BornInside makes the bee start inside the hive (queen-laid bees).
func BornInside() Option {
	return func(b *Bee) { b.bornInside = true }
}

// WithLogger sets the logger used for fatal failures.
func WithLogger(l *log.Logger) Option {
	return func(b *Bee) { b.logger = l }
}

// WithSeed fixes the bee's random source.
func WithSeed(seed uint64) Option {
	return func(b *Bee) { b.rng = rand.New(rand.NewPCG(seed, uint64(b.id))) }
}

// New creates bee id bound to h.
func New(id int, h *hive.Hive, cfg Config, opts ...Option) *Bee {
	b := &Bee{
		id:     id,
		cfg:    cfg,
		hive:   h,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.rng == nil {
		b.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(id)))
	}
	b.setPhase(PhaseOutside)
	if b.bornInside {
		b.inside = true
		b.setPhase(PhaseInside)
	}
	return b
}

// ID returns the bee's unique id.
func (b *Bee) ID() int { return b.id }

// Phase returns the current lifecycle phase. Safe to call from any goroutine.
func (b *Bee) Phase() Phase { return b.phase.Load().(Phase) }

// Visits returns the number of completed visits.
func (b *Bee) Visits() int { return int(b.visits.Load()) }

// BornInside reports whether the bee started its life inside the hive.
func (b *Bee) BornInside() bool { return b.bornInside }

func (b *Bee) setPhase(p Phase) { b.phase.Store(p) }

// Run lives the bee's whole life and returns when it is dead. A fatal
// failure ends the life early; the death is still accounted exactly once.
func (b *Bee) Run() error {
	err := b.live()

	b.setPhase(PhaseDying)
	var buryErr error
	if err != nil {
		b.logger.Printf("❌ Bee %d: %v", b.id, err)
		buryErr = b.hive.Abandon(b.id, b.inside, err)
	} else {
		buryErr = b.hive.Die(b.id)
	}
	if buryErr != nil {
		b.logger.Printf("⚠ Bee %d: %v", b.id, buryErr)
	}
	b.setPhase(PhaseDead)
	return err
}

func (b *Bee) live() error {
	if b.bornInside {
		// The first exit of a queen-laid bee is not a visit.
		if err := b.hive.Sleep(b.cfg.HiveTime.Draw(b.rng)); err != nil {
			return err
		}
		if err := b.cross(hive.Out); err != nil {
			return err
		}
		if err := b.hive.Sleep(b.cfg.OutsideTime.Draw(b.rng)); err != nil {
			return err
		}
	} else {
		if err := b.hive.Sleep(b.cfg.FirstFlight.Draw(b.rng)); err != nil {
			return err
		}
	}

	for b.Visits() < b.cfg.MaxVisits {
		if err := b.cross(hive.In); err != nil {
			return err
		}
		if err := b.hive.Sleep(b.cfg.HiveTime.Draw(b.rng)); err != nil {
			return err
		}
		if err := b.cross(hive.Out); err != nil {
			return err
		}
		b.visits.Add(1)
		if err := b.hive.Sleep(b.cfg.OutsideTime.Draw(b.rng)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bee) cross(dir hive.Direction) error {
	transit := PhaseTransitIn
	settled := PhaseInside
	if dir == hive.Out {
		transit = PhaseTransitOut
		settled = PhaseOutside
	}

	_, err := b.hive.CrossWith(b.id, dir, func(s hive.Stage) {
		switch s {
		case hive.StageChoosing:
			b.setPhase(PhaseChoosing)
		case hive.StageQueued:
			b.setPhase(PhaseQueued)
		case hive.StageTransit:
			b.setPhase(transit)
			b.inside = dir == hive.In
		}
	})
	if err != nil {
		if !hiveerr.IsSync(err) {
			err = fmt.Errorf("cross %s: %w", dir, err)
		}
		return err
	}
	b.setPhase(settled)
	return nil
}
