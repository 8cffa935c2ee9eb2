package ramp

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Crossing describes entering a stage (or the final hold) at a breakpoint.
type Crossing struct {
	// Stage is the index entered; len(Stages) means the timeline is exhausted.
	Stage int
	// Name of the stage entered ("hold" once exhausted).
	Name string
	// Target is the curve value at the breakpoint instant.
	Target int
	// At is the breakpoint's offset from run start.
	At time.Duration
	// Final is set for the crossing past the last breakpoint.
	Final bool
}

// Controller evaluates a Timeline against a clock.
//
// The start instant is captured once in NewController and never moves.
// Target and Elapsed are safe for concurrent use; Crossings is meant to be
// called from the single control loop but is guarded anyway.
type Controller struct {
	timeline    Timeline
	breakpoints []time.Duration
	clock       clock.PassiveClock
	start       time.Time

	mu        sync.Mutex
	lastStage int
}

// NewController starts the run clock for the given timeline.
func NewController(t Timeline, clk clock.PassiveClock) *Controller {
	return &Controller{
		timeline:    t,
		breakpoints: t.Breakpoints(),
		clock:       clk,
		start:       clk.Now(),
		lastStage:   -1,
	}
}

// Timeline returns the timeline being evaluated.
func (c *Controller) Timeline() Timeline {
	return c.timeline
}

// StartTime returns the instant the run clock started.
func (c *Controller) StartTime() time.Time {
	return c.start
}

// Elapsed returns the time since the run clock started.
func (c *Controller) Elapsed() time.Duration {
	return c.clock.Since(c.start)
}

// Target returns the target concurrency right now.
func (c *Controller) Target() int {
	return TargetAt(c.timeline, c.Elapsed())
}

// CurrentStage returns the index of the active stage right now.
func (c *Controller) CurrentStage() int {
	return StageAt(c.timeline, c.Elapsed())
}

// Exhausted reports whether every stage has elapsed.
func (c *Controller) Exhausted() bool {
	return c.Elapsed() >= c.timeline.TotalDuration()
}

// Progress returns the fraction of the timeline elapsed, in [0, 1].
func (c *Controller) Progress() float64 {
	total := c.timeline.TotalDuration()
	if total <= 0 {
		return 1.0
	}
	progress := float64(c.Elapsed()) / float64(total)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// Crossings returns every breakpoint passed since the previous call, in
// order. The first call reports entering stage 0. A coarse tick that jumps
// over several breakpoints still reports each one.
func (c *Controller) Crossings() []Crossing {
	return c.crossingsAt(c.Elapsed())
}

func (c *Controller) crossingsAt(elapsed time.Duration) []Crossing {
	current := StageAt(c.timeline, elapsed)

	c.mu.Lock()
	defer c.mu.Unlock()

	if current <= c.lastStage {
		return nil
	}

	crossings := make([]Crossing, 0, current-c.lastStage)
	for i := c.lastStage + 1; i <= current; i++ {
		crossing := Crossing{
			Stage: i,
			Name:  c.timeline.StageName(i),
			Final: i == len(c.timeline.Stages),
		}
		if i == 0 {
			crossing.Target = nonNegative(c.timeline.StartTarget)
		} else {
			crossing.At = c.breakpoints[i-1]
			crossing.Target = c.timeline.Stages[i-1].Target
		}
		crossings = append(crossings, crossing)
	}
	c.lastStage = current

	return crossings
}
