// Package vu manages the pool of virtual users, tracking the scheduler's
// target concurrency by spawning and draining worker loops.
package vu

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// State is a virtual user's lifecycle phase.
type State int32

const (
	Starting State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Info identifies the virtual user to its iteration function.
type Info struct {
	ID        int
	Iteration int64
}

// IterationFunc runs one unit of work. It must contain its own failure
// handling; the pool never inspects its outcome.
type IterationFunc func(ctx context.Context, info Info)

type virtualUser struct {
	id    int
	state atomic.Int32
	stop  atomic.Bool
	iters atomic.Int64
}

func (u *virtualUser) setState(s State) { u.state.Store(int32(s)) }

// Pool owns all virtual users. All pool state is guarded by one mutex;
// iteration bodies never touch it. A VU marked Stopping always finishes its
// in-flight iteration before it is removed.
type Pool struct {
	mu      sync.Mutex
	iterate IterationFunc
	vus     []*virtualUser // start order; drain trims from the tail
	nextID  int
	wg      sync.WaitGroup

	// onCount, if set, observes every live-count change (the VU gauge).
	onCount func(live int)
}

// New creates an empty pool around an iteration function.
func New(iterate IterationFunc, onCount func(live int)) *Pool {
	return &Pool{iterate: iterate, onCount: onCount}
}

// Reconcile moves the pool toward target: spawns missing VUs, or marks the
// most-recently-started surplus VUs Stopping. Called on the run controller's
// tick; safe to call from one goroutine at a time alongside VU exits.
func (p *Pool) Reconcile(ctx context.Context, target int) {
	if target < 0 {
		target = 0
	}

	p.mu.Lock()
	active := 0
	for _, u := range p.vus {
		if !u.stop.Load() {
			active++
		}
	}

	switch {
	case active < target:
		for i := active; i < target; i++ {
			p.nextID++
			u := &virtualUser{id: p.nextID}
			u.setState(Starting)
			p.vus = append(p.vus, u)
			p.wg.Add(1)
			go p.run(ctx, u)
		}
	case active > target:
		// Tail first: the most recently started VUs stop first.
		excess := active - target
		for i := len(p.vus) - 1; i >= 0 && excess > 0; i-- {
			u := p.vus[i]
			if !u.stop.Load() {
				u.stop.Store(true)
				u.setState(Stopping)
				excess--
			}
		}
	}
	live := len(p.vus)
	p.mu.Unlock()

	p.notify(live)
}

func (p *Pool) run(ctx context.Context, u *virtualUser) {
	defer p.wg.Done()
	slog.Debug("vu started", "vu", u.id)

	u.setState(Running)
	for ctx.Err() == nil && !u.stop.Load() {
		p.iterate(ctx, Info{ID: u.id, Iteration: u.iters.Load()})
		u.iters.Add(1)
	}

	u.setState(Stopped)
	p.mu.Lock()
	for i, cand := range p.vus {
		if cand == u {
			p.vus = append(p.vus[:i], p.vus[i+1:]...)
			break
		}
	}
	live := len(p.vus)
	p.mu.Unlock()

	p.notify(live)
	slog.Debug("vu stopped", "vu", u.id, "iterations", u.iters.Load())
}

func (p *Pool) notify(live int) {
	if p.onCount != nil {
		p.onCount(live)
	}
}

// Drain marks every VU Stopping. Each finishes its current iteration first.
func (p *Pool) Drain() {
	p.mu.Lock()
	for _, u := range p.vus {
		if !u.stop.Load() {
			u.stop.Store(true)
			u.setState(Stopping)
		}
	}
	p.mu.Unlock()
}

// Wait blocks until every spawned VU has reached Stopped.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Live returns the number of VUs not yet Stopped, including Stopping ones.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.vus)
}

// Active returns the number of VUs not marked Stopping.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, u := range p.vus {
		if !u.stop.Load() {
			n++
		}
	}
	return n
}
