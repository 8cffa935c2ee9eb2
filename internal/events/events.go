// Package events defines the lifecycle signals a run publishes.
//
// The signals are the only output surface of the scheduler. Formatting,
// aggregation and transport belong to whatever Observer is plugged in.
package events

import (
	"time"
)

// Outcome classifies a finished iteration.
type Outcome int

const (
	// OutcomeSuccess is an iteration that returned without error.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure is an iteration that returned an error or panicked.
	OutcomeFailure
	// OutcomeTimeout is an iteration abandoned after its time budget.
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Reason is why a run ended.
type Reason string

const (
	// ReasonCompleted means the stage timeline (and iteration cap, if any) ran out.
	ReasonCompleted Reason = "completed"
	// ReasonCancelled means an operator or caller stopped the run.
	ReasonCancelled Reason = "cancelled"
	// ReasonDeadline means the configured maximum duration expired.
	ReasonDeadline Reason = "deadline"
	// ReasonSetupFailed means the setup hook failed and no VU was started.
	ReasonSetupFailed Reason = "setup-failed"
)

// RunStart is published once the run clock starts.
type RunStart struct {
	RunID         string        `json:"runId"`
	StartTime     time.Time     `json:"startTime"`
	TotalDuration time.Duration `json:"totalDuration"`
	Stages        int           `json:"stages"`
	MaxTarget     int           `json:"maxTarget"`
}

// StageCrossing is published when the run clock passes a stage breakpoint.
type StageCrossing struct {
	Stage  int           `json:"stage"`
	Name   string        `json:"name"`
	Target int           `json:"target"`
	At     time.Duration `json:"at"`
	Final  bool          `json:"final"`
}

// Iteration is published for every finished iteration.
type Iteration struct {
	VUID     int           `json:"vuId"`
	Seq      int64         `json:"seq"`
	Outcome  Outcome       `json:"outcome"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// RunEnd is published once, after teardown, when the run is Done.
type RunEnd struct {
	RunID       string        `json:"runId"`
	Reason      Reason        `json:"reason"`
	Duration    time.Duration `json:"duration"`
	Iterations  int64         `json:"iterations"`
	Failed      int64         `json:"failed"`
	TimedOut    int64         `json:"timedOut"`
	SpawnedVUs  int           `json:"spawnedVUs"`
	ForcedStops int           `json:"forcedStops"`
	TeardownErr error         `json:"-"`
}

// Observer receives lifecycle signals.
//
// Methods are called from many goroutines at once (every VU reports its own
// iterations) and must not block for long: a slow observer slows the VU that
// reports to it.
type Observer interface {
	RunStarted(RunStart)
	StageCrossed(StageCrossing)
	VUSpawned(id int)
	VURetired(id int)
	IterationCompleted(Iteration)
	RunEnded(RunEnd)
}

// Nop discards every signal.
type Nop struct{}

func (Nop) RunStarted(RunStart)          {}
func (Nop) StageCrossed(StageCrossing)   {}
func (Nop) VUSpawned(int)                {}
func (Nop) VURetired(int)                {}
func (Nop) IterationCompleted(Iteration) {}
func (Nop) RunEnded(RunEnd)              {}

type multi []Observer

// Multi fans every signal out to all observers, in order. Nil observers are
// skipped.
func Multi(observers ...Observer) Observer {
	m := make(multi, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multi) RunStarted(e RunStart) {
	for _, o := range m {
		o.RunStarted(e)
	}
}

func (m multi) StageCrossed(e StageCrossing) {
	for _, o := range m {
		o.StageCrossed(e)
	}
}

func (m multi) VUSpawned(id int) {
	for _, o := range m {
		o.VUSpawned(id)
	}
}

func (m multi) VURetired(id int) {
	for _, o := range m {
		o.VURetired(id)
	}
}

func (m multi) IterationCompleted(e Iteration) {
	for _, o := range m {
		o.IterationCompleted(e)
	}
}

func (m multi) RunEnded(e RunEnd) {
	for _, o := range m {
		o.RunEnded(e)
	}
}
