package ramp

import (
	"math"
	"time"
)

// TargetAt returns the target concurrency at elapsed time since run start.
//
// Within stage i, spanning [t_i, t_i+d_i), the target moves linearly from the
// previous target to Stages[i].Target and is rounded half-up. Before the run
// starts the StartTarget applies; after the last breakpoint the final target
// is held. The result is never negative.
func TargetAt(t Timeline, elapsed time.Duration) int {
	if elapsed < 0 {
		return nonNegative(t.StartTarget)
	}

	var stageStart time.Duration
	prevTarget := t.StartTarget

	for _, stage := range t.Stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			return roundHalfUp(float64(prevTarget) + float64(stage.Target-prevTarget)*progress)
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	return nonNegative(prevTarget)
}

// StageAt returns the index of the stage active at elapsed. It returns 0
// before the run starts and len(t.Stages) once the timeline is exhausted.
func StageAt(t Timeline, elapsed time.Duration) int {
	if elapsed < 0 {
		return 0
	}

	var stageEnd time.Duration
	for i, stage := range t.Stages {
		stageEnd += stage.Duration
		if elapsed < stageEnd {
			return i
		}
	}
	return len(t.Stages)
}

func roundHalfUp(v float64) int {
	r := math.Floor(v + 0.5)
	if r < 0 {
		return 0
	}
	return int(r)
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
