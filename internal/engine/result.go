package engine

import (
	"time"

	"github.com/wesleyorama2/vuramp/internal/events"
)

// Result contains the frozen outcome of a run.
//
// A cancelled or deadline-terminated run still carries every count gathered
// up to that point.
type Result struct {
	RunID string `json:"runId"`
	Name  string `json:"name,omitempty"`

	// Reason is why the ramping phase ended.
	Reason events.Reason `json:"reason"`

	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	Iterations int64 `json:"iterations"`
	Failed     int64 `json:"failed"`
	TimedOut   int64 `json:"timedOut"`

	SpawnedVUs int `json:"spawnedVUs"`
	// PeakVUs is the largest number of VUs (draining ones included) seen
	// at any control tick.
	PeakVUs int `json:"peakVUs"`
	// ForcedStops counts VUs still busy when the graceful stop period ran
	// out.
	ForcedStops int `json:"forcedStops"`

	// StagesCrossed counts the stage boundaries passed, the final hold
	// included.
	StagesCrossed int `json:"stagesCrossed"`

	// TeardownError is set when the teardown hook failed. It does not change
	// Reason or any count.
	TeardownError error `json:"-"`
	// TeardownErrorMessage mirrors TeardownError for JSON output.
	TeardownErrorMessage string `json:"teardownError,omitempty"`
}

// Succeeded is true for runs that completed their timeline.
func (r *Result) Succeeded() bool {
	return r.Reason == events.ReasonCompleted
}

// SuccessRate is the share of iterations that neither failed nor timed out.
func (r *Result) SuccessRate() float64 {
	if r.Iterations == 0 {
		return 0
	}
	return float64(r.Iterations-r.Failed-r.TimedOut) / float64(r.Iterations)
}

func (r *Result) runEnd() events.RunEnd {
	return events.RunEnd{
		RunID:       r.RunID,
		Reason:      r.Reason,
		Duration:    r.Duration,
		Iterations:  r.Iterations,
		Failed:      r.Failed,
		TimedOut:    r.TimedOut,
		SpawnedVUs:  r.SpawnedVUs,
		ForcedStops: r.ForcedStops,
		TeardownErr: r.TeardownError,
	}
}
