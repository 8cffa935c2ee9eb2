package events

import (
	"github.com/sirupsen/logrus"
)

// LogObserver writes lifecycle signals to a logrus logger.
//
// Run and stage signals are logged at info, VU churn and individual
// iterations at debug, timeouts at warn.
type LogObserver struct {
	Logger logrus.FieldLogger
}

// NewLogObserver returns an observer logging through logger.
func NewLogObserver(logger logrus.FieldLogger) *LogObserver {
	return &LogObserver{Logger: logger}
}

func (l *LogObserver) RunStarted(e RunStart) {
	l.Logger.WithFields(logrus.Fields{
		"run_id":     e.RunID,
		"stages":     e.Stages,
		"max_target": e.MaxTarget,
		"duration":   e.TotalDuration.String(),
	}).Info("run started")
}

func (l *LogObserver) StageCrossed(e StageCrossing) {
	entry := l.Logger.WithFields(logrus.Fields{
		"stage":  e.Stage,
		"name":   e.Name,
		"target": e.Target,
		"at":     e.At.String(),
	})
	if e.Final {
		entry.Info("stage timeline exhausted, holding final target")
		return
	}
	entry.Info("entered stage")
}

func (l *LogObserver) VUSpawned(id int) {
	l.Logger.WithField("vu", id).Debug("vu spawned")
}

func (l *LogObserver) VURetired(id int) {
	l.Logger.WithField("vu", id).Debug("vu retired")
}

func (l *LogObserver) IterationCompleted(e Iteration) {
	entry := l.Logger.WithFields(logrus.Fields{
		"vu":       e.VUID,
		"seq":      e.Seq,
		"outcome":  e.Outcome.String(),
		"duration": e.Duration.String(),
	})

	switch e.Outcome {
	case OutcomeTimeout:
		entry.WithError(e.Err).Warn("iteration timed out, vu force-stopped")
	case OutcomeFailure:
		entry.WithError(e.Err).Debug("iteration failed")
	default:
		entry.Debug("iteration completed")
	}
}

func (l *LogObserver) RunEnded(e RunEnd) {
	entry := l.Logger.WithFields(logrus.Fields{
		"run_id":       e.RunID,
		"reason":       string(e.Reason),
		"duration":     e.Duration.String(),
		"iterations":   e.Iterations,
		"failed":       e.Failed,
		"timed_out":    e.TimedOut,
		"spawned_vus":  e.SpawnedVUs,
		"forced_stops": e.ForcedStops,
	})
	if e.TeardownErr != nil {
		entry = entry.WithField("teardown_error", e.TeardownErr.Error())
	}
	entry.Info("run ended")
}
