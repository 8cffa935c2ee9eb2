package vu

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/wesleyorama2/vuramp/internal/events"
	"github.com/wesleyorama2/vuramp/internal/scenario"
)

// Config contains everything a Pool needs to run VUs.
type Config struct {
	Scenario  scenario.Scenario
	Env       scenario.Env
	SetupData interface{}

	Observer events.Observer
	Clock    clock.Clock
	Logger   logrus.FieldLogger

	// IterationTimeout is the per-iteration budget. Zero disables it.
	IterationTimeout time.Duration

	// GracefulRampDown is how long a VU retired by a downward ramp may keep
	// running its iteration before it is interrupted.
	GracefulRampDown time.Duration

	// MaxIterations caps the total number of iterations across all VUs.
	// Zero means no cap.
	MaxIterations int64

	Pacing Pacing
}

// ReconcileResult describes what a single Reconcile call changed.
type ReconcileResult struct {
	Target      int `json:"target"`
	Live        int `json:"live"`
	Spawned     int `json:"spawned"`
	Drained     int `json:"drained"`
	Reaped      int `json:"reaped"`
	Interrupted int `json:"interrupted"`
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Live       int   `json:"live"`
	Draining   int   `json:"draining"`
	Spawned    int   `json:"spawned"`
	Iterations int64 `json:"iterations"`
	Failed     int64 `json:"failed"`
	TimedOut   int64 `json:"timedOut"`
}

// Pool owns the live set of virtual users and converges it towards a target.
//
// Reconcile, DrainAll, Interrupt and Close are serialized by the pool's lock
// and never wait on an iteration.
type Pool struct {
	cfg      Config
	executor *Executor

	mu      sync.Mutex
	vus     []*VirtualUser // spawn order, oldest first
	nextID  int
	spawned int

	// closed freezes counters and silences signals once the run is over.
	recordMu sync.RWMutex
	closed   bool

	started   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64
}

// NewPool creates an empty pool.
func NewPool(cfg Config) *Pool {
	if cfg.Observer == nil {
		cfg.Observer = events.Nop{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		logger := logrus.New()
		logger.SetLevel(logrus.WarnLevel)
		cfg.Logger = logger
	}

	p := &Pool{cfg: cfg}
	p.executor = &Executor{
		Scenario:         cfg.Scenario,
		Env:              cfg.Env,
		SetupData:        cfg.SetupData,
		Clock:            cfg.Clock,
		Logger:           cfg.Logger,
		IterationTimeout: cfg.IterationTimeout,
		Pacing:           cfg.Pacing,
		Acquire:          p.acquire,
		Record:           p.record,
	}
	return p
}

// Reconcile converges the live population towards target.
//
// Stopped VUs are reaped first, then VUs are spawned (children of ctx) or
// drained oldest-first, and finally VUs that have been draining for longer
// than GracefulRampDown get their iteration interrupted.
func (p *Pool) Reconcile(ctx context.Context, target int) ReconcileResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if target < 0 {
		target = 0
	}
	res := ReconcileResult{Target: target}
	res.Reaped = p.reapLocked()

	live := p.liveLocked()
	now := p.cfg.Clock.Now()

	switch {
	case live < target && !p.capReached():
		for i := live; i < target; i++ {
			p.spawnLocked(ctx, now)
			res.Spawned++
		}
	case live > target:
		excess := live - target
		for _, v := range p.vus {
			if res.Drained >= excess {
				break
			}
			if v.Drain() {
				v.drainedAt = now
				res.Drained++
			}
		}
	}

	for _, v := range p.vus {
		if v.State() != StateDraining || v.drainedAt.IsZero() || v.interrupted() {
			continue
		}
		if now.Sub(v.drainedAt) >= p.cfg.GracefulRampDown {
			v.Interrupt()
			res.Interrupted++
		}
	}

	res.Live = p.liveLocked()

	if res.Spawned > 0 || res.Drained > 0 || res.Interrupted > 0 {
		p.cfg.Logger.WithFields(logrus.Fields{
			"target":      res.Target,
			"live":        res.Live,
			"spawned":     res.Spawned,
			"drained":     res.Drained,
			"interrupted": res.Interrupted,
		}).Debug("reconciled vu pool")
	}
	return res
}

func (p *Pool) spawnLocked(ctx context.Context, now time.Time) {
	p.nextID++
	v := newVirtualUser(ctx, p.nextID, now)
	p.vus = append(p.vus, v)
	p.spawned++
	p.cfg.Observer.VUSpawned(v.ID)

	go p.executor.Run(v)
}

// reapLocked removes stopped VUs and publishes their retirement.
func (p *Pool) reapLocked() int {
	kept := p.vus[:0]
	reaped := 0
	for _, v := range p.vus {
		if v.State() == StateStopped {
			p.cfg.Observer.VURetired(v.ID)
			reaped++
			continue
		}
		kept = append(kept, v)
	}
	for i := len(kept); i < len(p.vus); i++ {
		p.vus[i] = nil
	}
	p.vus = kept
	return reaped
}

func (p *Pool) liveLocked() int {
	n := 0
	for _, v := range p.vus {
		if v.IsLive() {
			n++
		}
	}
	return n
}

// DrainAll asks every VU to finish its current iteration and stop.
func (p *Pool) DrainAll() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.cfg.Clock.Now()
	drained := 0
	for _, v := range p.vus {
		if v.Drain() {
			v.drainedAt = now
			drained++
		}
	}
	return drained
}

// Wait blocks until every VU has stopped or timeout elapses. It returns the
// number of VUs still running.
func (p *Pool) Wait(timeout time.Duration) int {
	p.mu.Lock()
	vus := make([]*VirtualUser, len(p.vus))
	copy(vus, p.vus)
	p.mu.Unlock()

	timer := p.cfg.Clock.NewTimer(timeout)
	defer timer.Stop()

	for i, v := range vus {
		select {
		case <-v.Done():
		case <-timer.C():
			return countRunning(vus[i:])
		}
	}
	return 0
}

func countRunning(vus []*VirtualUser) int {
	n := 0
	for _, v := range vus {
		if v.State() != StateStopped {
			n++
		}
	}
	return n
}

// Interrupt cancels the in-flight iteration of every VU that has not stopped
// yet, and returns how many there were.
func (p *Pool) Interrupt() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, v := range p.vus {
		if v.State() == StateStopped {
			continue
		}
		v.Drain()
		v.Interrupt()
		n++
	}
	return n
}

// Close retires every remaining VU and freezes the counters. Iterations that
// finish afterwards are neither counted nor published.
func (p *Pool) Close() {
	p.recordMu.Lock()
	p.closed = true
	p.recordMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, v := range p.vus {
		if v.State() != StateStopped {
			v.Drain()
			v.Interrupt()
		}
		p.cfg.Observer.VURetired(v.ID)
	}
	p.vus = nil
}

// acquire reserves one iteration against MaxIterations.
func (p *Pool) acquire() bool {
	if p.cfg.MaxIterations <= 0 {
		p.started.Add(1)
		return true
	}
	for {
		n := p.started.Load()
		if n >= p.cfg.MaxIterations {
			return false
		}
		if p.started.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (p *Pool) capReached() bool {
	return p.cfg.MaxIterations > 0 && p.started.Load() >= p.cfg.MaxIterations
}

// CapReached reports whether MaxIterations is configured and every capped
// iteration has finished.
func (p *Pool) CapReached() bool {
	return p.cfg.MaxIterations > 0 && p.completed.Load() >= p.cfg.MaxIterations
}

func (p *Pool) record(it events.Iteration) {
	p.recordMu.RLock()
	defer p.recordMu.RUnlock()
	if p.closed {
		return
	}

	p.completed.Add(1)
	switch it.Outcome {
	case events.OutcomeFailure:
		p.failed.Add(1)
	case events.OutcomeTimeout:
		p.timedOut.Add(1)
	}
	p.cfg.Observer.IterationCompleted(it)
}

// LiveCount returns the number of Starting and Running VUs.
func (p *Pool) LiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liveLocked()
}

// ActiveCount returns the number of VUs that have not stopped, draining ones
// included.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return countRunning(p.vus)
}

// Spawned returns how many VUs were created over the pool's lifetime.
func (p *Pool) Spawned() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spawned
}

// Iterations returns the number of finished iterations. It never decreases.
func (p *Pool) Iterations() int64 {
	return p.completed.Load()
}

// Failed returns the number of iterations that returned an error or panicked.
func (p *Pool) Failed() int64 {
	return p.failed.Load()
}

// TimedOut returns the number of iterations abandoned after their budget.
func (p *Pool) TimedOut() int64 {
	return p.timedOut.Load()
}

// Snapshot returns the current pool statistics.
func (p *Pool) Snapshot() Stats {
	p.mu.Lock()
	live, draining := 0, 0
	for _, v := range p.vus {
		switch v.State() {
		case StateStarting, StateRunning:
			live++
		case StateDraining:
			draining++
		}
	}
	spawned := p.spawned
	p.mu.Unlock()

	return Stats{
		Live:       live,
		Draining:   draining,
		Spawned:    spawned,
		Iterations: p.completed.Load(),
		Failed:     p.failed.Load(),
		TimedOut:   p.timedOut.Load(),
	}
}

// VUs returns the VUs currently held by the pool, oldest first.
func (p *Pool) VUs() []*VirtualUser {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*VirtualUser, len(p.vus))
	copy(out, p.vus)
	return out
}
