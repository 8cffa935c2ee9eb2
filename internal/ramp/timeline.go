// Package ramp turns a declarative list of stages into a target concurrency
// curve.
//
// A Timeline is pure data. TargetAt and StageAt are pure functions of a
// timeline and an elapsed time, and Controller binds a timeline to a clock so
// the run loop can ask "what should the VU count be right now".
package ramp

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/vuramp/internal/runerrors"
)

// Stage is one segment of the ramp.
//
// During a stage the target concurrency moves linearly from the previous
// stage's target (or the timeline's StartTarget for the first stage) to
// Target over Duration.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Timeline is an ordered, immutable sequence of stages.
//
// Example:
//
//	Timeline{Stages: []Stage{
//	    {Duration: 10 * time.Second, Target: 100},  // 0 -> 100
//	    {Duration: 10 * time.Second, Target: 750},  // 100 -> 750
//	    {Duration: 300 * time.Second, Target: 750}, // hold
//	    {Duration: 10 * time.Second, Target: 30},   // 750 -> 30
//	}}
type Timeline struct {
	// StartTarget is the concurrency before the first stage begins.
	StartTarget int `json:"startTarget,omitempty" yaml:"startTarget,omitempty"`

	// Stages in declaration order.
	Stages []Stage `json:"stages" yaml:"stages"`
}

// Flat returns a single-stage timeline holding vus for duration.
func Flat(vus int, duration time.Duration) Timeline {
	return Timeline{
		StartTarget: vus,
		Stages:      []Stage{{Duration: duration, Target: vus}},
	}
}

// Validate checks the timeline invariants. It returns a
// *runerrors.ConfigError describing the first violation found.
func (t Timeline) Validate() error {
	if len(t.Stages) == 0 {
		return &runerrors.ConfigError{Field: "stages", Message: "at least one stage is required"}
	}

	if t.StartTarget < 0 {
		return runerrors.NewConfigError("startVUs", "cannot be negative, got %d", t.StartTarget)
	}

	for i, stage := range t.Stages {
		if stage.Duration <= 0 {
			return runerrors.NewConfigError(fmt.Sprintf("stages[%d].duration", i),
				"must be greater than 0, got %s", stage.Duration)
		}
		if stage.Target < 0 {
			return runerrors.NewConfigError(fmt.Sprintf("stages[%d].target", i),
				"cannot be negative, got %d", stage.Target)
		}
	}

	return nil
}

// TotalDuration is the sum of all stage durations.
func (t Timeline) TotalDuration() time.Duration {
	var total time.Duration
	for _, stage := range t.Stages {
		total += stage.Duration
	}
	return total
}

// Breakpoints returns the cumulative end instant of every stage.
func (t Timeline) Breakpoints() []time.Duration {
	points := make([]time.Duration, len(t.Stages))
	var at time.Duration
	for i, stage := range t.Stages {
		at += stage.Duration
		points[i] = at
	}
	return points
}

// FinalTarget is the target held once every stage has elapsed.
func (t Timeline) FinalTarget() int {
	if len(t.Stages) == 0 {
		return t.StartTarget
	}
	return t.Stages[len(t.Stages)-1].Target
}

// MaxTarget is the largest concurrency the curve ever asks for.
func (t Timeline) MaxTarget() int {
	max := t.StartTarget
	for _, stage := range t.Stages {
		if stage.Target > max {
			max = stage.Target
		}
	}
	return max
}

// StageName returns the configured name of stage i, or a generated one.
func (t Timeline) StageName(i int) string {
	if i < 0 || i >= len(t.Stages) {
		return "hold"
	}
	if t.Stages[i].Name != "" {
		return t.Stages[i].Name
	}
	return fmt.Sprintf("stage-%d", i+1)
}
