// Package scenario defines the contract between the scheduler and whatever
// executes user scenario code.
//
// The scheduler only ever calls Run once per iteration, plus the optional
// one-time Setup and Teardown hooks. It never looks inside.
package scenario

import (
	"context"
	"sync"
)

// Scenario is the per-iteration scenario body. Run is invoked repeatedly by
// every virtual user. A returned error marks the iteration as failed; the VU
// keeps looping.
//
// Run should honour ctx: it is cancelled when the iteration exceeds its time
// budget or when the run's graceful-stop period expires.
type Scenario interface {
	Run(ctx context.Context, vu *VU) error
}

// SetupHook is implemented by scenarios with a one-time setup step. The
// returned data is handed to every VU and to Teardown.
type SetupHook interface {
	Setup(ctx context.Context, env Env) (interface{}, error)
}

// TeardownHook is implemented by scenarios with a one-time teardown step.
type TeardownHook interface {
	Teardown(ctx context.Context, env Env, data interface{}) error
}

// Func adapts a plain function into a Scenario.
type Func func(ctx context.Context, vu *VU) error

// Run calls f.
func (f Func) Run(ctx context.Context, vu *VU) error {
	return f(ctx, vu)
}

// Hooks bundles a scenario body with optional setup and teardown functions.
// Handy for tests and for embedding the scheduler as a library.
type Hooks struct {
	Body         Func
	SetupFunc    func(ctx context.Context, env Env) (interface{}, error)
	TeardownFunc func(ctx context.Context, env Env, data interface{}) error
}

// Run calls the body.
func (h *Hooks) Run(ctx context.Context, vu *VU) error {
	return h.Body(ctx, vu)
}

// Setup calls SetupFunc if set.
func (h *Hooks) Setup(ctx context.Context, env Env) (interface{}, error) {
	if h.SetupFunc == nil {
		return nil, nil
	}
	return h.SetupFunc(ctx, env)
}

// Teardown calls TeardownFunc if set.
func (h *Hooks) Teardown(ctx context.Context, env Env, data interface{}) error {
	if h.TeardownFunc == nil {
		return nil
	}
	return h.TeardownFunc(ctx, env, data)
}

// VU is the execution context one virtual user carries across its
// iterations.
//
// Anything a scenario wants to remember between iterations (a session token,
// a "connected" flag, an open client) belongs in the VU's store, not in
// package-level variables: every VU gets its own.
type VU struct {
	// ID is the virtual user's identifier, unique within the run.
	ID int

	// Iteration is the sequence number (1-based) of the iteration in progress.
	Iteration int64

	// Env holds the environment values exposed to scenario code.
	Env Env

	// SetupData is whatever the setup hook returned.
	SetupData interface{}

	data   map[string]interface{}
	dataMu sync.RWMutex
}

// NewVU creates the execution context for a virtual user.
func NewVU(id int, env Env, setupData interface{}) *VU {
	if env == nil {
		env = Env{}
	}
	return &VU{
		ID:        id,
		Env:       env,
		SetupData: setupData,
		data:      make(map[string]interface{}),
	}
}

// Set stores a value in the VU's private store.
func (vu *VU) Set(key string, value interface{}) {
	vu.dataMu.Lock()
	defer vu.dataMu.Unlock()
	vu.data[key] = value
}

// Get retrieves a value from the VU's private store.
func (vu *VU) Get(key string) (interface{}, bool) {
	vu.dataMu.RLock()
	defer vu.dataMu.RUnlock()
	val, ok := vu.data[key]
	return val, ok
}

// Delete removes a value from the VU's private store.
func (vu *VU) Delete(key string) {
	vu.dataMu.Lock()
	defer vu.dataMu.Unlock()
	delete(vu.data, key)
}

// Range calls fn for every stored value until fn returns false.
func (vu *VU) Range(fn func(key string, value interface{}) bool) {
	vu.dataMu.RLock()
	defer vu.dataMu.RUnlock()
	for k, v := range vu.data {
		if !fn(k, v) {
			return
		}
	}
}
