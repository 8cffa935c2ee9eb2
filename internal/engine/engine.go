// Package engine drives a load run: it sequences setup, ramping and teardown
// and owns the control loop that keeps the VU pool on the stage timeline.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/wesleyorama2/vuramp/internal/config"
	"github.com/wesleyorama2/vuramp/internal/events"
	"github.com/wesleyorama2/vuramp/internal/ramp"
	"github.com/wesleyorama2/vuramp/internal/runerrors"
	"github.com/wesleyorama2/vuramp/internal/scenario"
	"github.com/wesleyorama2/vuramp/internal/vu"
)

// Engine is the run coordinator.
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("test.yaml")
//	plan, _ := cfg.Resolve()
//	eng, _ := engine.New(plan, host)
//	result, _ := eng.Run(context.Background())
//	fmt.Printf("%d iterations, reason %s\n", result.Iterations, result.Reason)
//
// An Engine runs once.
type Engine struct {
	plan     *config.Plan
	host     scenario.Scenario
	observer events.Observer
	clock    clock.WithTicker
	logger   logrus.FieldLogger
	env      scenario.Env
	runID    string

	extraObservers []events.Observer
	extraEnv       map[string]string

	phase   atomic.Int32
	started atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}

	// Set once ramping starts; read by Stats.
	mu         sync.RWMutex
	controller *ramp.Controller
	pool       *vu.Pool
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver adds observers receiving the run's lifecycle signals.
func WithObserver(observers ...events.Observer) Option {
	return func(e *Engine) {
		e.extraObservers = append(e.extraObservers, observers...)
	}
}

// WithClock replaces the run clock. Tests use a fake clock.
func WithClock(clk clock.WithTicker) Option {
	return func(e *Engine) {
		e.clock = clk
	}
}

// WithLogger sets the logger. The default logs to stderr at info level.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEnv adds environment values on top of the plan's.
func WithEnv(env map[string]string) Option {
	return func(e *Engine) {
		if e.extraEnv == nil {
			e.extraEnv = make(map[string]string)
		}
		for k, v := range env {
			e.extraEnv[k] = v
		}
	}
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(e *Engine) {
		e.runID = id
	}
}

// New validates the plan and creates an engine. Configuration problems are
// returned as *runerrors.ConfigError.
func New(plan *config.Plan, host scenario.Scenario, opts ...Option) (*Engine, error) {
	if plan == nil {
		return nil, &runerrors.ConfigError{Message: "no plan given"}
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if host == nil {
		return nil, &runerrors.ConfigError{Field: "scenario", Message: "no scenario given"}
	}

	e := &Engine{
		plan:   plan,
		host:   host,
		clock:  clock.RealClock{},
		logger: logrus.StandardLogger(),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.runID == "" {
		e.runID = uuid.NewString()
	}
	e.logger = e.logger.WithField("run_id", e.runID)
	e.env = scenario.NewEnv(plan.Env, e.extraEnv)

	observers := append([]events.Observer{events.NewLogObserver(e.logger)}, e.extraObservers...)
	e.observer = events.Multi(observers...)

	e.phase.Store(int32(PhaseSetup))
	return e, nil
}

// RunID returns the run identifier.
func (e *Engine) RunID() string {
	return e.runID
}

// Phase returns the current lifecycle phase.
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

func (e *Engine) setPhase(p Phase) {
	e.phase.Store(int32(p))
	e.logger.WithField("phase", p.String()).Debug("phase changed")
}

// Stop ends the ramping phase as if the run context had been cancelled.
// It is safe to call at any time, any number of times.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Run executes the whole lifecycle and returns the frozen result.
//
// Cancelling ctx (or calling Stop) ends the ramping phase: VUs are drained,
// given GracefulStop to finish, and teardown still runs. The only errors
// returned are a *runerrors.SetupError (with a result carrying zero VUs) or a
// misuse of the engine.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if !e.started.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("engine has already run")
	}

	for _, w := range e.plan.Warnings {
		e.logger.Warn(w)
	}

	result := &Result{RunID: e.runID, Name: e.plan.Name}

	// Setup
	e.setPhase(PhaseSetup)
	setupData, err := e.runSetup(ctx)
	if err != nil {
		now := e.clock.Now()
		result.StartTime, result.EndTime = now, now
		e.setPhase(PhaseDone)

		// A setup cut short by the caller is a cancellation, not a failure.
		if ctx.Err() != nil {
			result.Reason = events.ReasonCancelled
			e.observer.RunEnded(result.runEnd())
			return result, nil
		}

		result.Reason = events.ReasonSetupFailed
		e.observer.RunEnded(result.runEnd())
		return result, &runerrors.SetupError{Err: err}
	}

	// Iterations outlive the caller's context: cancelling it only requests a
	// drain. hardCancel is what finally interrupts them.
	hardCtx, hardCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer hardCancel()

	pool := vu.NewPool(vu.Config{
		Scenario:         e.host,
		Env:              e.env,
		SetupData:        setupData,
		Observer:         e.observer,
		Clock:            e.clock,
		Logger:           e.logger,
		IterationTimeout: e.plan.IterationTimeout,
		GracefulRampDown: e.plan.GracefulRampDown,
		MaxIterations:    e.plan.MaxIterations,
		Pacing:           e.plan.Pacing,
	})

	// Ramping
	ctrl := ramp.NewController(e.plan.Timeline, e.clock)
	e.mu.Lock()
	e.controller = ctrl
	e.pool = pool
	e.mu.Unlock()

	e.setPhase(PhaseRamping)
	result.StartTime = ctrl.StartTime()
	e.observer.RunStarted(events.RunStart{
		RunID:         e.runID,
		StartTime:     result.StartTime,
		TotalDuration: e.plan.Timeline.TotalDuration(),
		Stages:        len(e.plan.Timeline.Stages),
		MaxTarget:     e.plan.Timeline.MaxTarget(),
	})

	result.Reason = e.rampLoop(ctx, hardCtx, ctrl, pool, result)

	// Tearing down
	e.setPhase(PhaseTearingDown)
	result.ForcedStops = e.drain(pool)
	hardCancel()

	if err := e.runTeardown(ctx, setupData); err != nil {
		result.TeardownError = &runerrors.TeardownError{Err: err}
		result.TeardownErrorMessage = result.TeardownError.Error()
	}

	// Done
	pool.Close()
	result.EndTime = e.clock.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Iterations = pool.Iterations()
	result.Failed = pool.Failed()
	result.TimedOut = pool.TimedOut()
	result.SpawnedVUs = pool.Spawned()

	e.setPhase(PhaseDone)
	e.observer.RunEnded(result.runEnd())

	return result, nil
}

// rampLoop ticks the controller and reconciles the pool until the run ends,
// and returns why it ended. The first tick happens immediately.
func (e *Engine) rampLoop(ctx, hardCtx context.Context, ctrl *ramp.Controller, pool *vu.Pool, result *Result) events.Reason {
	ticker := e.clock.NewTicker(e.plan.TickInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if e.plan.MaxDuration > 0 {
		timer := e.clock.NewTimer(e.plan.MaxDuration)
		defer timer.Stop()
		deadline = timer.C()
	}

	for {
		select {
		case <-ctx.Done():
			return events.ReasonCancelled
		case <-e.stopCh:
			return events.ReasonCancelled
		case <-deadline:
			return events.ReasonDeadline
		default:
		}

		e.tick(hardCtx, ctrl, pool, result)

		if ctrl.Exhausted() && (e.plan.MaxIterations == 0 || pool.CapReached()) {
			return events.ReasonCompleted
		}

		select {
		case <-ctx.Done():
			return events.ReasonCancelled
		case <-e.stopCh:
			return events.ReasonCancelled
		case <-deadline:
			return events.ReasonDeadline
		case <-ticker.C():
		}
	}
}

// tick publishes crossed stage boundaries and reconciles the pool.
func (e *Engine) tick(hardCtx context.Context, ctrl *ramp.Controller, pool *vu.Pool, result *Result) {
	for _, c := range ctrl.Crossings() {
		result.StagesCrossed++
		e.observer.StageCrossed(events.StageCrossing{
			Stage:  c.Stage,
			Name:   c.Name,
			Target: c.Target,
			At:     c.At,
			Final:  c.Final,
		})
	}

	pool.Reconcile(hardCtx, ctrl.Target())

	if active := pool.ActiveCount(); active > result.PeakVUs {
		result.PeakVUs = active
	}
}

// drain retires every VU and waits GracefulStop for them. VUs still busy
// afterwards are interrupted and abandoned; their count is returned.
func (e *Engine) drain(pool *vu.Pool) int {
	pool.DrainAll()

	remaining := pool.Wait(e.plan.GracefulStop)
	if remaining == 0 {
		return 0
	}

	forced := pool.Interrupt()
	e.logger.WithFields(logrus.Fields{
		"forced_stops":  forced,
		"graceful_stop": e.plan.GracefulStop.String(),
	}).Warn("graceful stop period expired, interrupting remaining iterations")
	return forced
}

func (e *Engine) runSetup(ctx context.Context) (interface{}, error) {
	hook, ok := e.host.(scenario.SetupHook)
	if !ok {
		return nil, nil
	}

	var data interface{}
	err := e.callHook(ctx, "setup", e.plan.SetupTimeout, func(ctx context.Context) error {
		var err error
		data, err = hook.Setup(ctx, e.env)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (e *Engine) runTeardown(ctx context.Context, data interface{}) error {
	hook, ok := e.host.(scenario.TeardownHook)
	if !ok {
		return nil
	}

	// Teardown runs even when the run was cancelled.
	return e.callHook(context.WithoutCancel(ctx), "teardown", e.plan.TeardownTimeout, func(ctx context.Context) error {
		return hook.Teardown(ctx, e.env, data)
	})
}

// callHook runs a one-time hook with panic recovery, bounded by timeout when
// it is positive. A hook ignoring its context is abandoned on expiry.
func (e *Engine) callHook(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	log := e.logger.WithField("hook", name)
	log.Debug("running hook")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &runerrors.PanicError{Value: r}
			}
		}()
		done <- fn(ctx)
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := e.clock.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C()
	}

	select {
	case err := <-done:
		if err != nil {
			log.WithError(err).Error("hook failed")
		}
		return err
	case <-expired:
		err := fmt.Errorf("%s hook did not finish within %s", name, timeout)
		log.WithError(err).Error("hook timed out")
		return err
	}
}

// Stats is a live view of a running engine.
type Stats struct {
	Phase      Phase         `json:"phase"`
	Elapsed    time.Duration `json:"elapsed"`
	Progress   float64       `json:"progress"`
	Stage      int           `json:"stage"`
	StageName  string        `json:"stageName"`
	Target     int           `json:"target"`
	Live       int           `json:"live"`
	Draining   int           `json:"draining"`
	Spawned    int           `json:"spawned"`
	Iterations int64         `json:"iterations"`
	Failed     int64         `json:"failed"`
	TimedOut   int64         `json:"timedOut"`
}

// Stats returns a snapshot of the run. Before ramping starts only Phase is
// set.
func (e *Engine) Stats() Stats {
	s := Stats{Phase: e.Phase()}

	e.mu.RLock()
	ctrl, pool := e.controller, e.pool
	e.mu.RUnlock()

	if ctrl == nil || pool == nil {
		return s
	}

	s.Elapsed = ctrl.Elapsed()
	s.Progress = ctrl.Progress()
	s.Stage = ramp.StageAt(ctrl.Timeline(), s.Elapsed)
	s.StageName = ctrl.Timeline().StageName(s.Stage)
	s.Target = ramp.TargetAt(ctrl.Timeline(), s.Elapsed)

	ps := pool.Snapshot()
	s.Live = ps.Live
	s.Draining = ps.Draining
	s.Spawned = ps.Spawned
	s.Iterations = ps.Iterations
	s.Failed = ps.Failed
	s.TimedOut = ps.TimedOut
	return s
}
