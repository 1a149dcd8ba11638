// Package worker supervises the goroutines that run colony agents.
package worker

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/sourcegraph/conc"

	hiveerr "github.com/HexSleeves/apiary/internal/errors"
)

// ErrPoolClosed is returned by Spawn after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Agent is anything the pool can run to completion
type Agent interface {
	// ID returns the unique agent identifier
	ID() int
	// Run blocks for the agent's whole life
	Run() error
}

// Exit describes a finished agent.
type Exit struct {
	ID  int
	Err error
}

type entry struct {
	agent Agent
	done  chan struct{}
	err   error
}

// Pool manages a set of concurrent agents
type Pool struct {
	mu     sync.Mutex
	agents map[int]*entry
	closed bool
	wg     conc.WaitGroup
	logger *log.Logger

	onCrash func(id int, err error)
}

func NewPool(logger *log.Logger) *Pool {
	if logger == nil {
		logger = log.Default()
	}
	return &Pool{
		agents: make(map[int]*entry),
		logger: logger,
	}
}

// Spawn starts a in its own goroutine. Ids must be unique among tracked agents.
func (p *Pool) Spawn(a Agent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if _, ok := p.agents[a.ID()]; ok {
		return fmt.Errorf("agent %d already running", a.ID())
	}

	e := &entry{agent: a, done: make(chan struct{})}
	p.agents[a.ID()] = e
	p.wg.Go(func() { p.run(e) })
	return nil
}

func (p *Pool) run(e *entry) {
	defer close(e.done)
	defer func() {
		if r := hiveerr.RecoverPanic(recover()); r.Recovered {
			p.logger.Printf("💥 Agent %d crashed: %s", e.agent.ID(), r.ErrorMsg)
			e.err = r.Err()
			if p.onCrash != nil {
				p.onCrash(e.agent.ID(), e.err)
			}
		}
	}()
	e.err = e.agent.Run()
}

// OnCrash registers fn to be called with the id and error of every agent that
// panics. Set it before spawning.
func (p *Pool) OnCrash(fn func(id int, err error)) {
	p.mu.Lock()
	p.onCrash = fn
	p.mu.Unlock()
}

// Get returns a tracked agent by ID
func (p *Pool) Get(id int) (Agent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.agents[id]
	if !ok {
		return nil, false
	}
	return e.agent, true
}

// Reap removes finished agents from the pool without blocking and returns
// their exits ordered by id.
func (p *Pool) Reap() []Exit {
	p.mu.Lock()
	defer p.mu.Unlock()
	var exits []Exit
	for id, e := range p.agents {
		select {
		case <-e.done:
			exits = append(exits, Exit{ID: id, Err: e.err})
			delete(p.agents, id)
		default:
		}
	}
	sort.Slice(exits, func(i, j int) bool { return exits[i].ID < exits[j].ID })
	return exits
}

// Active returns the ids of agents that are still running
func (p *Pool) Active() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []int
	for id, e := range p.agents {
		select {
		case <-e.done:
		default:
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// ActiveCount returns the number of running agents
func (p *Pool) ActiveCount() int {
	return len(p.Active())
}

// Tracked returns the number of agents spawned and not yet reaped.
func (p *Pool) Tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.agents)
}

// Close stops accepting new agents. Running agents are not interrupted.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Wait closes the pool and blocks until every spawned agent has returned.
func (p *Pool) Wait() {
	p.Close()
	p.wg.Wait()
}
