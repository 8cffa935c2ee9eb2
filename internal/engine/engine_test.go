package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/wesleyorama2/vuramp/internal/config"
	"github.com/wesleyorama2/vuramp/internal/events"
	"github.com/wesleyorama2/vuramp/internal/ramp"
	"github.com/wesleyorama2/vuramp/internal/runerrors"
	"github.com/wesleyorama2/vuramp/internal/scenario"
)

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func fastPlan(tl ramp.Timeline) *config.Plan {
	plan := config.NewPlan(tl)
	plan.TickInterval = 5 * time.Millisecond
	plan.GracefulStop = time.Second
	plan.GracefulRampDown = time.Second
	return plan
}

func sleepy(d time.Duration) scenario.Func {
	return func(ctx context.Context, vu *scenario.VU) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// recorder is an observer keeping every signal it receives.
type recorder struct {
	mu         sync.Mutex
	started    []events.RunStart
	crossings  []events.StageCrossing
	spawned    int
	retired    int
	iterations int64
	failed     int64
	ended      []events.RunEnd
}

func (r *recorder) RunStarted(e events.RunStart) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, e)
}

func (r *recorder) StageCrossed(e events.StageCrossing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.crossings = append(r.crossings, e)
}

func (r *recorder) VUSpawned(int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spawned++
}

func (r *recorder) VURetired(int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retired++
}

func (r *recorder) IterationCompleted(e events.Iteration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.iterations++
	if e.Outcome != events.OutcomeSuccess {
		r.failed++
	}
}

func (r *recorder) RunEnded(e events.RunEnd) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, e)
}

func newEngine(t *testing.T, plan *config.Plan, host scenario.Scenario, opts ...Option) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts = append([]Option{WithLogger(quietLogger()), WithObserver(rec)}, opts...)
	eng, err := New(plan, host, opts...)
	require.NoError(t, err)
	return eng, rec
}

func TestNew_RejectsInvalidPlans(t *testing.T) {
	_, err := New(nil, scenario.Func(sleepy(0)))
	assert.True(t, runerrors.IsConfigError(err))

	_, err = New(config.NewPlan(ramp.Timeline{}), scenario.Func(sleepy(0)))
	assert.True(t, runerrors.IsConfigError(err), "empty timeline")

	_, err = New(fastPlan(ramp.Flat(1, time.Second)), nil)
	assert.True(t, runerrors.IsConfigError(err), "missing scenario")
}

func TestRun_CompletesTimeline(t *testing.T) {
	plan := fastPlan(ramp.Timeline{Stages: []ramp.Stage{
		{Duration: 50 * time.Millisecond, Target: 3},
		{Duration: 50 * time.Millisecond, Target: 0},
	}})
	eng, rec := newEngine(t, plan, sleepy(time.Millisecond), WithRunID("run-1"))
	assert.Equal(t, PhaseSetup, eng.Phase())

	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, PhaseDone, eng.Phase())
	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, events.ReasonCompleted, result.Reason)
	assert.True(t, result.Succeeded())
	assert.Greater(t, result.Iterations, int64(0))
	assert.Zero(t, result.Failed)
	assert.GreaterOrEqual(t, result.SpawnedVUs, 3)
	assert.Equal(t, 3, result.PeakVUs)
	assert.GreaterOrEqual(t, result.Duration, 100*time.Millisecond)
	assert.Equal(t, 3, result.StagesCrossed)
	assert.Equal(t, 1.0, result.SuccessRate())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.started, 1)
	require.Len(t, rec.ended, 1)
	assert.Equal(t, events.ReasonCompleted, rec.ended[0].Reason)
	assert.Equal(t, result.Iterations, rec.iterations)
	assert.Equal(t, rec.spawned, rec.retired, "every spawned vu is retired by the end")

	require.Len(t, rec.crossings, 3)
	assert.Equal(t, 0, rec.crossings[0].Stage)
	assert.Equal(t, 1, rec.crossings[1].Stage)
	assert.Equal(t, 3, rec.crossings[1].Target)
	assert.True(t, rec.crossings[2].Final)
}

func TestRun_RunsOnlyOnce(t *testing.T) {
	eng, _ := newEngine(t, fastPlan(ramp.Flat(1, 10*time.Millisecond)), sleepy(0))
	_, err := eng.Run(context.Background())
	require.NoError(t, err)

	_, err = eng.Run(context.Background())
	assert.Error(t, err)
}

func TestRun_AlwaysFailingScenarioStillCompletes(t *testing.T) {
	boom := errors.New("boom")
	host := scenario.Func(func(ctx context.Context, vu *scenario.VU) error {
		time.Sleep(time.Millisecond)
		return boom
	})

	eng, rec := newEngine(t, fastPlan(ramp.Flat(3, 50*time.Millisecond)), host)
	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, events.ReasonCompleted, result.Reason)
	assert.Greater(t, result.Iterations, int64(0))
	assert.Equal(t, result.Iterations, result.Failed)
	assert.Zero(t, result.SuccessRate())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 3, rec.retired)
	assert.Equal(t, rec.iterations, rec.failed)
}

func TestRun_SetupFailureStartsNoVUs(t *testing.T) {
	var runs, teardowns atomic.Int32
	host := &scenario.Hooks{
		Body: func(ctx context.Context, vu *scenario.VU) error {
			runs.Add(1)
			return nil
		},
		SetupFunc: func(ctx context.Context, env scenario.Env) (interface{}, error) {
			return nil, errors.New("database unreachable")
		},
		TeardownFunc: func(ctx context.Context, env scenario.Env, data interface{}) error {
			teardowns.Add(1)
			return nil
		},
	}

	eng, rec := newEngine(t, fastPlan(ramp.Flat(5, time.Second)), host)
	result, err := eng.Run(context.Background())

	require.Error(t, err)
	assert.True(t, runerrors.IsSetupError(err))
	assert.Contains(t, err.Error(), "database unreachable")

	require.NotNil(t, result)
	assert.Equal(t, events.ReasonSetupFailed, result.Reason)
	assert.Zero(t, result.SpawnedVUs)
	assert.Zero(t, result.Iterations)
	assert.Zero(t, runs.Load())
	assert.Zero(t, teardowns.Load(), "teardown is not invoked after a failed setup")
	assert.Equal(t, PhaseDone, eng.Phase())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.started)
	assert.Zero(t, rec.spawned)
	require.Len(t, rec.ended, 1)
	assert.Equal(t, events.ReasonSetupFailed, rec.ended[0].Reason)
}

func TestRun_SetupPanicIsSetupError(t *testing.T) {
	host := &scenario.Hooks{
		Body: sleepy(0),
		SetupFunc: func(ctx context.Context, env scenario.Env) (interface{}, error) {
			panic("no config")
		},
	}

	eng, _ := newEngine(t, fastPlan(ramp.Flat(1, time.Second)), host)
	_, err := eng.Run(context.Background())

	var panicErr *runerrors.PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.True(t, runerrors.IsSetupError(err))
}

func TestRun_TeardownErrorKeepsResults(t *testing.T) {
	host := &scenario.Hooks{
		Body: sleepy(time.Millisecond),
		TeardownFunc: func(ctx context.Context, env scenario.Env, data interface{}) error {
			return errors.New("cleanup failed")
		},
	}

	eng, rec := newEngine(t, fastPlan(ramp.Flat(2, 50*time.Millisecond)), host)
	result, err := eng.Run(context.Background())
	require.NoError(t, err, "teardown failures are reported, not returned")

	assert.Equal(t, events.ReasonCompleted, result.Reason)
	assert.True(t, result.Succeeded())
	assert.Greater(t, result.Iterations, int64(0))

	var tdErr *runerrors.TeardownError
	require.ErrorAs(t, result.TeardownError, &tdErr)
	assert.Contains(t, result.TeardownErrorMessage, "cleanup failed")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, rec.iterations, result.Iterations)
	require.Len(t, rec.ended, 1)
	assert.Equal(t, events.ReasonCompleted, rec.ended[0].Reason)
	assert.Error(t, rec.ended[0].TeardownErr)
}

func TestRun_SetupDataAndEnvReachIterationsAndTeardown(t *testing.T) {
	var badIterations atomic.Int32
	var teardownData atomic.Value

	host := &scenario.Hooks{
		Body: func(ctx context.Context, vu *scenario.VU) error {
			if vu.SetupData != "token-123" || vu.Env.Get("MESSAGE") != "hello" || vu.Env.Get("EXTRA") != "yes" {
				badIterations.Add(1)
			}
			return nil
		},
		SetupFunc: func(ctx context.Context, env scenario.Env) (interface{}, error) {
			return "token-" + env.Get("SUFFIX"), nil
		},
		TeardownFunc: func(ctx context.Context, env scenario.Env, data interface{}) error {
			teardownData.Store(data)
			return nil
		},
	}

	plan := fastPlan(ramp.Flat(2, 20*time.Millisecond))
	plan.Env = map[string]string{"MESSAGE": "hello", "SUFFIX": "123"}
	plan.MaxIterations = 10

	eng, _ := newEngine(t, plan, host, WithEnv(map[string]string{"EXTRA": "yes"}))
	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(10), result.Iterations)
	assert.Zero(t, badIterations.Load())
	assert.Equal(t, "token-123", teardownData.Load())
}

func TestRun_CancellationDrainsAndRunsTeardown(t *testing.T) {
	var teardowns atomic.Int32
	host := &scenario.Hooks{
		Body: sleepy(2 * time.Millisecond),
		TeardownFunc: func(ctx context.Context, env scenario.Env, data interface{}) error {
			teardowns.Add(1)
			return ctx.Err()
		},
	}

	eng, _ := newEngine(t, fastPlan(ramp.Flat(2, time.Hour)), host)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result, err := eng.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, events.ReasonCancelled, result.Reason)
	assert.False(t, result.Succeeded())
	assert.Greater(t, result.Iterations, int64(0), "partial progress is kept")
	assert.Zero(t, result.ForcedStops)
	assert.Less(t, result.Duration, time.Minute)
	assert.Equal(t, int32(1), teardowns.Load())
	assert.Nil(t, result.TeardownError, "teardown gets a live context after cancellation")
}

func TestRun_StopEndsRamping(t *testing.T) {
	eng, _ := newEngine(t, fastPlan(ramp.Flat(1, time.Hour)), sleepy(time.Millisecond))

	go func() {
		assert.Eventually(t, func() bool { return eng.Stats().Iterations > 0 }, 5*time.Second, time.Millisecond)
		eng.Stop()
		eng.Stop()
	}()

	result, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, events.ReasonCancelled, result.Reason)
}

func TestRun_MaxDurationDeadline(t *testing.T) {
	plan := fastPlan(ramp.Flat(1, time.Hour))
	plan.MaxDuration = 30 * time.Millisecond

	eng, _ := newEngine(t, plan, sleepy(time.Millisecond))
	result, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, events.ReasonDeadline, result.Reason)
}

func TestRun_GracefulStopExpiryForcesStops(t *testing.T) {
	plan := fastPlan(ramp.Flat(2, time.Hour))
	plan.GracefulStop = 20 * time.Millisecond

	host := scenario.Func(func(ctx context.Context, vu *scenario.VU) error {
		<-ctx.Done()
		return ctx.Err()
	})

	eng, _ := newEngine(t, plan, host)
	go func() {
		assert.Eventually(t, func() bool { return eng.Stats().Live == 2 }, 5*time.Second, time.Millisecond)
		eng.Stop()
	}()

	result, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, events.ReasonCancelled, result.Reason)
	assert.Equal(t, 2, result.ForcedStops)
}

func TestRun_IterationCap(t *testing.T) {
	plan := fastPlan(ramp.Flat(3, 10*time.Millisecond))
	plan.MaxIterations = 25

	eng, _ := newEngine(t, plan, sleepy(time.Millisecond))
	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, events.ReasonCompleted, result.Reason)
	assert.Equal(t, int64(25), result.Iterations)
}

func TestRun_IterationTimeoutIsolatesVU(t *testing.T) {
	var calls atomic.Int32
	host := scenario.Func(func(ctx context.Context, vu *scenario.VU) error {
		// The first iteration of VU 1 hangs.
		if vu.ID == 1 && vu.Iteration == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		calls.Add(1)
		time.Sleep(time.Millisecond)
		return nil
	})

	plan := fastPlan(ramp.Flat(2, 100*time.Millisecond))
	plan.IterationTimeout = 20 * time.Millisecond

	eng, _ := newEngine(t, plan, host)
	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, events.ReasonCompleted, result.Reason)
	assert.Equal(t, int64(1), result.TimedOut)
	assert.Greater(t, calls.Load(), int32(0), "other vus keep iterating")
	assert.GreaterOrEqual(t, result.SpawnedVUs, 3, "the timed out vu is replaced")
}

func TestRun_FollowsRampWithFakeClock(t *testing.T) {
	fc := clocktesting.NewFakeClock(time.Unix(1000, 0))
	tl := ramp.Timeline{Stages: []ramp.Stage{
		{Duration: 10 * time.Second, Target: 10},
		{Duration: 10 * time.Second, Target: 20},
		{Duration: 10 * time.Second, Target: 4},
	}}
	plan := config.NewPlan(tl)
	plan.GracefulRampDown = 0
	plan.GracefulStop = time.Second

	host := scenario.Func(func(ctx context.Context, vu *scenario.VU) error {
		<-ctx.Done()
		return ctx.Err()
	})
	eng, rec := newEngine(t, plan, host, WithClock(fc))

	done := make(chan *Result, 1)
	go func() {
		result, err := eng.Run(context.Background())
		assert.NoError(t, err)
		done <- result
	}()

	require.Eventually(t, fc.HasWaiters, 5*time.Second, time.Millisecond)

	// The last step ends ramping, after which every vu drains.
	for sec := 1; sec < 30; sec++ {
		fc.Step(time.Second)
		want := ramp.TargetAt(tl, time.Duration(sec)*time.Second)
		require.Eventually(t, func() bool {
			return eng.Stats().Live == want
		}, 5*time.Second, time.Millisecond, "live vus at %ds should be %d", sec, want)
	}

	fc.Step(time.Second)

	var result *Result
	require.Eventually(t, func() bool {
		select {
		case result = <-done:
			return true
		default:
			fc.Step(100 * time.Millisecond)
			return false
		}
	}, 5*time.Second, time.Millisecond)

	assert.Equal(t, events.ReasonCompleted, result.Reason)
	assert.Equal(t, 20, result.PeakVUs)
	assert.Equal(t, 4, result.ForcedStops, "the final 4 vus never return on their own")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.crossings, 4)
	for i, c := range rec.crossings {
		assert.Equal(t, i, c.Stage)
	}
	assert.Equal(t, 30*time.Second, rec.crossings[3].At)
	assert.Equal(t, 4, rec.crossings[3].Target)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "setup", PhaseSetup.String())
	assert.Equal(t, "ramping", PhaseRamping.String())
	assert.Equal(t, "tearing-down", PhaseTearingDown.String())
	assert.Equal(t, "done", PhaseDone.String())
	assert.Equal(t, "unknown", Phase(9).String())

	text, err := PhaseRamping.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "ramping", string(text))
}
