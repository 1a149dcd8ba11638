// Package colony runs one simulation: it builds the hive, seeds the initial
// population, starts the queen and the beekeeper under one supervisor and
// tears everything down exactly once.
package colony

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/HexSleeves/apiary/internal/bee"
	"github.com/HexSleeves/apiary/internal/beekeeper"
	"github.com/HexSleeves/apiary/internal/bus"
	"github.com/HexSleeves/apiary/internal/config"
	hiveerr "github.com/HexSleeves/apiary/internal/errors"
	"github.com/HexSleeves/apiary/internal/hive"
	"github.com/HexSleeves/apiary/internal/queen"
	"github.com/HexSleeves/apiary/internal/state"
	"github.com/HexSleeves/apiary/internal/worker"
)

// Terminate sources that end a run on their own.
const (
	SourceDuration = "duration"
	SourceExtinct  = "extinct"
	SourceCrash    = "crash"
)

// Options configures a Colony. Zero values disable the optional parts.
type Options struct {
	Logger    *log.Logger     // component log lines; nil means log.Default()
	EventLog  *log.Logger     // one line per hive event
	DB        *state.DB       // session journal
	Duration  time.Duration   // terminate automatically after this long
	SessionID string          // generated when empty
	Reporters []hive.Reporter // extra event subscribers, called in Seq order
}

// Summary describes a finished run.
type Summary struct {
	SessionID string
	Status    string
	Reason    string
	Final     hive.Snapshot
	Events    uint64
	Counts    map[hive.Kind]int
	Laid      int
	Cycles    int
	Journaled int64
	Duration  time.Duration
}

// Colony is one supervised simulation run.
type Colony struct {
	id     string
	cfg    *config.Config
	opts   Options
	logger *log.Logger
	seed   uint64

	bus      *bus.MessageBus
	hive     *hive.Hive
	pool     *worker.Pool
	queen    *queen.Queen
	keeper   *beekeeper.Beekeeper
	recorder *state.Recorder

	mu     sync.Mutex
	counts map[hive.Kind]int
}

// New validates cfg and wires a colony. Nothing runs until Run.
func New(cfg *config.Config, opts Options) (*Colony, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	c := &Colony{
		id:     opts.SessionID,
		cfg:    cfg,
		opts:   opts,
		logger: opts.Logger,
		bus:    bus.New(0),
		counts: make(map[hive.Kind]int),
	}
	if cfg.Seed != 0 {
		c.seed = uint64(cfg.Seed)
	} else {
		c.seed = uint64(time.Now().UnixNano())
	}

	c.hive = hive.New(cfg.Hive.Frames, hive.Options{
		MaxFrames:     cfg.Hive.MaxFrames,
		Transit:       cfg.Scale(cfg.Bees.Transit),
		CapacityRetry: cfg.Scale(cfg.Bees.CapacityRetry),
		Rand:          rand.New(rand.NewPCG(c.seed, 0)),
		Reporter:      c.bus,
	})
	c.pool = worker.NewPool(c.logger)
	c.keeper = beekeeper.New(c.hive, c.logger, beekeeper.WithTeardown(c.pool.Close))
	c.pool.OnCrash(func(int, error) {
		c.keeper.Submit(beekeeper.Request{Action: beekeeper.ActionTerminate, Source: SourceCrash})
	})
	c.queen = queen.New(c.hive, c.pool, func(id int) worker.Agent { return c.newBee(id, true) },
		queen.Config{
			LayInterval:  cfg.Scale(cfg.Queen.LayInterval),
			EggsPerCycle: cfg.Queen.EggsPerCycle,
		}, c.hive.Snapshot().Frames, c.logger)

	c.bus.SubscribeAll(c.count)
	if opts.EventLog != nil {
		c.bus.SubscribeAll(func(e hive.Event) { opts.EventLog.Print(e.String()) })
	}
	for _, r := range opts.Reporters {
		c.bus.SubscribeAll(r.Report)
	}
	for _, kind := range []hive.Kind{hive.KindDied, hive.KindFailed, hive.KindSkipped} {
		c.bus.Subscribe(kind, c.checkExtinct)
	}
	return c, nil
}

// ID returns the session id.
func (c *Colony) ID() string { return c.id }

// Hive returns the shared hive.
func (c *Colony) Hive() *hive.Hive { return c.hive }

// Bus returns the event bus every transition is published on.
func (c *Colony) Bus() *bus.MessageBus { return c.bus }

// Beekeeper returns the agent that accepts grow, shrink and terminate requests.
func (c *Colony) Beekeeper() *beekeeper.Beekeeper { return c.keeper }

// Queen returns the laying agent.
func (c *Colony) Queen() *queen.Queen { return c.queen }

func (c *Colony) newBee(id int, bornInside bool) worker.Agent {
	opts := []bee.Option{bee.WithLogger(c.logger)}
	if c.cfg.Seed != 0 {
		opts = append(opts, bee.WithSeed(c.seed))
	}
	if bornInside {
		opts = append(opts, bee.BornInside())
	}
	return bee.New(id, c.hive, c.cfg.BeeConfig(), opts...)
}

func (c *Colony) count(e hive.Event) {
	c.mu.Lock()
	c.counts[e.Kind]++
	c.mu.Unlock()
}

// checkExtinct ends the run once no bee is alive and the queen can never lay
// again at the current capacity.
func (c *Colony) checkExtinct(e hive.Event) {
	if e.Alive == 0 && e.Inside == 0 && e.Admissible < c.cfg.Queen.EggsPerCycle {
		c.keeper.Submit(beekeeper.Request{Action: beekeeper.ActionTerminate, Source: SourceExtinct})
	}
}

// Counts returns how many events of each kind have been delivered so far.
func (c *Colony) Counts() map[hive.Kind]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[hive.Kind]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// seedPopulation admits the initial bees in one transaction and starts them
// outside the hive.
func (c *Colony) seedPopulation() error {
	var n int
	err := c.hive.Transact(func(tx *hive.Tx) error {
		n = tx.Frames()
		for range n {
			tx.Enlist()
		}
		tx.Emit(hive.KindSeeded, hive.NoBee, fmt.Sprintf("%d bees", n))
		return nil
	})
	if err != nil {
		return err
	}
	for id := range n {
		if err := c.pool.Spawn(c.newBee(id, false)); err != nil {
			return hiveerr.NewResourceError(err, fmt.Sprintf("spawn bee %d", id))
		}
	}
	c.logger.Printf("🐝 Colony: %d bees released, P=%d", n, hive.Admissible(n))
	return nil
}

// Run starts the simulation and blocks until it has been torn down, either by
// a terminate request, ctx, the duration limit or extinction. Every agent has
// returned by the time Run does.
func (c *Colony) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	sum := Summary{SessionID: c.id}

	if db := c.opts.DB; db != nil {
		err := db.CreateSession(ctx, state.SessionInfo{
			ID:          c.id,
			Frames:      c.hive.Snapshot().Frames,
			MaxFrames:   c.hive.MaxFrames(),
			LayInterval: c.cfg.Queen.LayInterval,
			Eggs:        c.cfg.Queen.EggsPerCycle,
			Visits:      c.cfg.Bees.MaxVisits,
			Seed:        c.cfg.Seed,
			Status:      state.StatusRunning,
		})
		if err != nil {
			return sum, hiveerr.NewResourceError(err, "create session")
		}
		c.recorder = state.NewRecorder(db, c.id, 0, c.logger)
		c.bus.SubscribeAll(c.recorder.Report)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := c.seedPopulation(); err != nil {
		c.keeper.Teardown()
		c.pool.Wait()
		return c.finish(ctx, sum, start, err)
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return c.keeper.Run(gctx) })
	g.Go(func() error { return c.queen.Run(gctx) })
	g.Go(func() error {
		c.watch(gctx)
		return nil
	})

	<-c.keeper.Done()
	cancel()
	err := g.Wait()
	c.pool.Wait()
	return c.finish(ctx, sum, start, err)
}

// watch enforces the duration limit.
func (c *Colony) watch(ctx context.Context) {
	var deadline <-chan time.Time
	if c.opts.Duration > 0 {
		t := time.NewTimer(c.opts.Duration)
		defer t.Stop()
		deadline = t.C
	}
	select {
	case <-ctx.Done():
	case <-c.keeper.Done():
	case <-deadline:
		c.logger.Printf("⏱ Colony: duration %s reached", c.opts.Duration)
		c.keeper.Submit(beekeeper.Request{Action: beekeeper.ActionTerminate, Source: SourceDuration})
	}
}

func (c *Colony) finish(ctx context.Context, sum Summary, start time.Time, runErr error) (Summary, error) {
	sum.Reason = c.keeper.Reason()
	sum.Status = statusFor(ctx, sum.Reason, runErr)
	sum.Final = c.hive.Snapshot()
	sum.Events = c.bus.Delivered()
	sum.Counts = c.Counts()
	sum.Laid = c.queen.Laid()
	sum.Cycles = c.queen.Cycles()
	sum.Duration = time.Since(start)

	if c.recorder != nil {
		if err := c.recorder.Close(); err != nil {
			c.logger.Printf("⚠ Journal incomplete: %v", err)
		}
		sum.Journaled = c.recorder.Written()
		// the caller's ctx may already be cancelled by a signal
		if err := c.opts.DB.UpdateSessionStatus(context.WithoutCancel(ctx), c.id, sum.Status); err != nil {
			c.logger.Printf("⚠ Journal status: %v", err)
		}
	}

	c.logger.Printf("🏁 Colony %s: %s after %s (%s)", c.id[:min(8, len(c.id))], sum.Status,
		sum.Duration.Round(time.Millisecond), sum.Reason)
	if runErr != nil {
		return sum, fmt.Errorf("colony %s: %w", c.id, runErr)
	}
	return sum, nil
}

func statusFor(ctx context.Context, reason string, err error) string {
	switch {
	case err != nil, reason == SourceCrash:
		return state.StatusFailed
	case ctx.Err() != nil, reason == "SIGINT", reason == "SIGTERM":
		return state.StatusInterrupted
	default:
		return state.StatusDone
	}
}
