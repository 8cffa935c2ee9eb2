package events

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) RunStarted(RunStart)          { r.add("start") }
func (r *recorder) StageCrossed(StageCrossing)   { r.add("stage") }
func (r *recorder) VUSpawned(int)                { r.add("spawn") }
func (r *recorder) VURetired(int)                { r.add("retire") }
func (r *recorder) IterationCompleted(Iteration) { r.add("iteration") }
func (r *recorder) RunEnded(RunEnd)              { r.add("end") }

func TestMulti_FansOutInOrder(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	obs := Multi(a, nil, b)

	obs.RunStarted(RunStart{})
	obs.StageCrossed(StageCrossing{})
	obs.VUSpawned(1)
	obs.IterationCompleted(Iteration{})
	obs.VURetired(1)
	obs.RunEnded(RunEnd{})

	want := []string{"start", "stage", "spawn", "iteration", "retire", "end"}
	assert.Equal(t, want, a.calls)
	assert.Equal(t, want, b.calls)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "failure", OutcomeFailure.String())
	assert.Equal(t, "timeout", OutcomeTimeout.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}

func TestLogObserver(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	obs := NewLogObserver(logger)

	obs.RunStarted(RunStart{RunID: "abc", Stages: 4, MaxTarget: 750, TotalDuration: 330 * time.Second})
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "run started", entry.Message)
	assert.Equal(t, "abc", entry.Data["run_id"])
	assert.Equal(t, 750, entry.Data["max_target"])

	obs.StageCrossed(StageCrossing{Stage: 4, Target: 30, Final: true})
	assert.Contains(t, hook.LastEntry().Message, "exhausted")

	obs.IterationCompleted(Iteration{VUID: 2, Seq: 9, Outcome: OutcomeTimeout, Err: errors.New("slow")})
	entry = hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "timeout", entry.Data["outcome"])

	obs.RunEnded(RunEnd{RunID: "abc", Reason: ReasonCompleted, TeardownErr: errors.New("td")})
	entry = hook.LastEntry()
	assert.Equal(t, "run ended", entry.Message)
	assert.Equal(t, "completed", entry.Data["reason"])
	assert.Equal(t, "td", entry.Data["teardown_error"])
}
