package vu

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/wesleyorama2/vuramp/internal/events"
	"github.com/wesleyorama2/vuramp/internal/runerrors"
	"github.com/wesleyorama2/vuramp/internal/scenario"
)

// PacingType identifies the type of pacing.
type PacingType string

const (
	PacingNone     PacingType = "none"
	PacingConstant PacingType = "constant"
	PacingRandom   PacingType = "random"
)

// Pacing controls the pause between two iterations of the same VU.
type Pacing struct {
	Type     PacingType
	Duration time.Duration
	Min      time.Duration
	Max      time.Duration
}

// Wait returns how long to pause before the next iteration.
func (p Pacing) Wait() time.Duration {
	switch p.Type {
	case PacingConstant:
		return p.Duration
	case PacingRandom:
		diff := p.Max - p.Min
		if diff > 0 {
			return p.Min + time.Duration(rand.Int63n(int64(diff)))
		}
		return p.Min
	default:
		return 0
	}
}

// Executor runs the iteration loop of a single VU.
//
// An Executor is shared by every VU of a pool; all per-VU state lives in the
// VirtualUser and in the scenario.VU it builds.
type Executor struct {
	Scenario  scenario.Scenario
	Env       scenario.Env
	SetupData interface{}
	Clock     clock.Clock
	Logger    logrus.FieldLogger

	// IterationTimeout is the per-iteration budget. Zero disables it.
	IterationTimeout time.Duration
	Pacing           Pacing

	// Acquire reserves the next iteration. Returning false ends the loop.
	Acquire func() bool
	// Record receives every finished iteration.
	Record func(events.Iteration)
}

// Run loops iterations until the VU is drained, interrupted or times out.
// It always leaves the VU Stopped.
func (e *Executor) Run(v *VirtualUser) {
	defer v.markStopped()

	svu := scenario.NewVU(v.ID, e.Env, e.SetupData)

	for {
		if !v.IsLive() || v.interrupted() {
			return
		}
		if e.Acquire != nil && !e.Acquire() {
			v.Drain()
			return
		}
		v.markRunning()

		seq := v.iterations.Load() + 1
		svu.Iteration = seq

		start := e.Clock.Now()
		outcome, err := e.iterate(v, svu)
		v.iterations.Add(1)

		if err != nil {
			err = &runerrors.IterationError{VUID: v.ID, Iteration: seq, Err: err}
		}
		if e.Record != nil {
			e.Record(events.Iteration{
				VUID:     v.ID,
				Seq:      seq,
				Outcome:  outcome,
				Duration: e.Clock.Since(start),
				Err:      err,
			})
		}

		if outcome == events.OutcomeTimeout {
			return
		}
		e.pace(v)
	}
}

// iterate runs one scenario call. With a timeout configured the call runs on
// its own goroutine and is abandoned when the budget expires.
func (e *Executor) iterate(v *VirtualUser, svu *scenario.VU) (events.Outcome, error) {
	if e.IterationTimeout <= 0 {
		return classify(e.safeRun(v.ctx, svu))
	}

	ctx, cancel := context.WithCancel(v.ctx)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- e.safeRun(ctx, svu)
	}()

	timer := e.Clock.NewTimer(e.IterationTimeout)
	defer timer.Stop()

	select {
	case err := <-result:
		return classify(err)
	case <-timer.C():
		return events.OutcomeTimeout, runerrors.ErrIterationTimeout
	}
}

func (e *Executor) safeRun(ctx context.Context, svu *scenario.VU) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &runerrors.PanicError{Value: r}
			if e.Logger != nil {
				e.Logger.WithFields(logrus.Fields{
					"vu":        svu.ID,
					"iteration": svu.Iteration,
				}).Warnf("scenario panicked: %v", r)
			}
		}
	}()
	return e.Scenario.Run(ctx, svu)
}

func classify(err error) (events.Outcome, error) {
	if err != nil {
		return events.OutcomeFailure, err
	}
	return events.OutcomeSuccess, nil
}

// pace waits between iterations. Draining or interrupting the VU cuts the
// wait short.
func (e *Executor) pace(v *VirtualUser) {
	wait := e.Pacing.Wait()
	if wait <= 0 {
		return
	}

	timer := e.Clock.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-v.drainCh:
	case <-v.ctx.Done():
	}
}
