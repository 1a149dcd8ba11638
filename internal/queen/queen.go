// Package queen implements the laying agent: on every cycle it atomically
// decides whether the hive has room for a new batch and, if so, hatches the
// whole batch inside the hive and starts a bee for each egg.
package queen

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	hiveerr "github.com/HexSleeves/apiary/internal/errors"
	"github.com/HexSleeves/apiary/internal/hive"
	"github.com/HexSleeves/apiary/internal/worker"
)

// Spawner starts agents and hands back the ones that have finished.
type Spawner interface {
	Spawn(a worker.Agent) error
	Reap() []worker.Exit
}

// Factory builds the agent for a freshly hatched bee. The bee starts inside.
type Factory func(id int) worker.Agent

// Config controls the laying cadence.
type Config struct {
	LayInterval  time.Duration
	EggsPerCycle int
}

// Result is the outcome of one laying cycle.
type Result struct {
	Laid   []int // ids of bees started this cycle
	Reaped int
	Reason string // why nothing was laid, empty when the batch was admitted
}

// Queen is the population growth agent
type Queen struct {
	hive    *hive.Hive
	spawner Spawner
	factory Factory
	cfg     Config
	logger  *log.Logger

	nextID int // only touched under the hive lock
	cycles atomic.Int64
	laid   atomic.Int64
}

// New creates a queen whose first egg gets id firstID.
func New(h *hive.Hive, spawner Spawner, factory Factory, cfg Config, firstID int, logger *log.Logger) *Queen {
	if logger == nil {
		logger = log.Default()
	}
	return &Queen{
		hive:    h,
		spawner: spawner,
		factory: factory,
		cfg:     cfg,
		logger:  logger,
		nextID:  firstID,
	}
}

// Cycles returns the number of completed laying cycles.
func (q *Queen) Cycles() int { return int(q.cycles.Load()) }

// Laid returns the number of bees started so far.
func (q *Queen) Laid() int { return int(q.laid.Load()) }

// Run lays every LayInterval until ctx is cancelled or the hive closes. A
// cycle that has started always completes.
func (q *Queen) Run(ctx context.Context) error {
	q.logger.Printf("👑 Queen laying %d eggs every %v", q.cfg.EggsPerCycle, q.cfg.LayInterval)
	ticker := time.NewTicker(q.cfg.LayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.logger.Printf("👑 Queen stopping after %d cycles, %d bees laid", q.Cycles(), q.Laid())
			return nil
		case <-q.hive.Done():
			return nil
		case <-ticker.C:
		}

		if _, err := q.Lay(); err != nil {
			if hiveerr.IsSync(err) || errors.Is(err, worker.ErrPoolClosed) {
				return nil
			}
			return fmt.Errorf("queen cycle: %w", err)
		}
	}
}

// Lay runs one laying cycle as a single hive transaction.
func (q *Queen) Lay() (Result, error) {
	var res Result
	ran := false
	err := q.hive.Transact(func(tx *hive.Tx) error {
		ran = true
		exits := q.spawner.Reap()
		res.Reaped = len(exits)
		if len(exits) > 0 {
			tx.Emit(hive.KindReaped, hive.NoBee, fmt.Sprintf("%d finished bees", len(exits)))
		}

		eggs := q.cfg.EggsPerCycle
		free := tx.FreeSpace()
		switch {
		case free < eggs:
			res.Reason = fmt.Sprintf("free space %d < %d eggs", free, eggs)
		case tx.Alive()+eggs > tx.Frames():
			res.Reason = fmt.Sprintf("population %d + %d eggs exceeds N=%d", tx.Alive(), eggs, tx.Frames())
		}
		if res.Reason != "" {
			tx.Emit(hive.KindSkipped, hive.NoBee, res.Reason)
			return nil
		}

		for range eggs {
			id := q.nextID
			q.nextID++
			if err := tx.Hatch(); err != nil {
				return err
			}
			if err := q.spawner.Spawn(q.factory(id)); err != nil {
				tx.Unhatch()
				tx.Emit(hive.KindFailed, id, fmt.Sprintf("spawn: %v", err))
				return hiveerr.NewResourceError(err, fmt.Sprintf("bee %d", id))
			}
			res.Laid = append(res.Laid, id)
			tx.Emit(hive.KindLaid, id, fmt.Sprintf("bee %d", id))
		}
		return nil
	})
	if !ran {
		return res, err
	}
	q.cycles.Add(1)
	q.laid.Add(int64(len(res.Laid)))
	if res.Reason != "" {
		q.logger.Printf("⚠ Queen skipped cycle: %s", res.Reason)
	}
	return res, err
}
