// Package vu implements the virtual-user pool: the workers that loop a
// scenario and the manager that grows and shrinks their population.
package vu

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// State represents the lifecycle state of a Virtual User.
type State int32

const (
	// StateStarting is a spawned VU that has not begun its first iteration.
	StateStarting State = iota
	// StateRunning is a VU looping iterations.
	StateRunning
	// StateDraining is a retired VU finishing its current iteration.
	StateDraining
	// StateStopped is a VU whose executor has returned.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser is a single simulated user.
//
// Pool membership and the drain timestamp belong to the Pool and are only
// touched under its lock. The executor goroutine only moves the VU between
// states.
type VirtualUser struct {
	// ID is unique within a run and never reused.
	ID int

	// Lifecycle state (atomic for lock-free reads)
	state atomic.Int32

	// Completed iteration counter
	iterations atomic.Int64

	spawnedAt time.Time
	drainedAt time.Time

	// ctx is cancelled to interrupt the in-flight iteration.
	ctx    context.Context
	cancel context.CancelFunc

	// drainCh is closed when the VU is asked to drain.
	drainCh   chan struct{}
	drainOnce sync.Once

	// doneCh is closed when the executor returns.
	doneCh   chan struct{}
	doneOnce sync.Once
}

func newVirtualUser(parent context.Context, id int, now time.Time) *VirtualUser {
	ctx, cancel := context.WithCancel(parent)
	return &VirtualUser{
		ID:        id,
		spawnedAt: now,
		ctx:       ctx,
		cancel:    cancel,
		drainCh:   make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// State returns the current VU state.
func (v *VirtualUser) State() State {
	return State(v.state.Load())
}

// Iterations returns the number of iterations this VU has finished.
func (v *VirtualUser) Iterations() int64 {
	return v.iterations.Load()
}

// SpawnedAt returns the instant the pool created this VU.
func (v *VirtualUser) SpawnedAt() time.Time {
	return v.spawnedAt
}

// Done is closed once the VU's executor has returned.
func (v *VirtualUser) Done() <-chan struct{} {
	return v.doneCh
}

// IsLive reports whether the VU counts towards the live population
// (Starting or Running).
func (v *VirtualUser) IsLive() bool {
	s := v.State()
	return s == StateStarting || s == StateRunning
}

// Drain asks the VU to finish its current iteration and start no new one.
// Returns false if the VU was already draining or stopped.
func (v *VirtualUser) Drain() bool {
	if v.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) ||
		v.state.CompareAndSwap(int32(StateStarting), int32(StateDraining)) {
		v.drainOnce.Do(func() { close(v.drainCh) })
		return true
	}
	return false
}

// Interrupt cancels the in-flight iteration, if any. The VU does not start
// another one.
func (v *VirtualUser) Interrupt() {
	v.cancel()
}

func (v *VirtualUser) interrupted() bool {
	return v.ctx.Err() != nil
}

// markRunning moves a Starting VU to Running. Draining VUs stay draining.
func (v *VirtualUser) markRunning() {
	v.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
}

func (v *VirtualUser) markStopped() {
	v.state.Store(int32(StateStopped))
	v.doneOnce.Do(func() { close(v.doneCh) })
	v.cancel()
}
