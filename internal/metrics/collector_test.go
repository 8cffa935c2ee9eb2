package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/wesleyorama2/vuramp/internal/events"
	"github.com/wesleyorama2/vuramp/internal/httpscenario"
)

func TestCollector_Counts(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(time.Unix(100, 0))
	c := NewCollector(WithClock(clk))

	c.RunStarted(events.RunStart{RunID: "r1", StartTime: clk.Now()})
	c.StageCrossed(events.StageCrossing{Stage: 1, Target: 10})
	for id := 1; id <= 3; id++ {
		c.VUSpawned(id)
	}
	c.VURetired(2)

	c.IterationCompleted(events.Iteration{VUID: 1, Seq: 1, Outcome: events.OutcomeSuccess, Duration: 10 * time.Millisecond})
	c.IterationCompleted(events.Iteration{VUID: 1, Seq: 2, Outcome: events.OutcomeFailure, Duration: 20 * time.Millisecond, Err: errors.New("x")})
	c.IterationCompleted(events.Iteration{VUID: 3, Seq: 1, Outcome: events.OutcomeTimeout, Duration: 30 * time.Millisecond})
	c.IterationCompleted(events.Iteration{VUID: 3, Seq: 2, Outcome: events.OutcomeSuccess, Duration: 40 * time.Millisecond})

	clk.SetTime(time.Unix(102, 0))
	s := c.Snapshot()

	assert.Equal(t, "r1", s.RunID)
	assert.Equal(t, 2*time.Second, s.Elapsed)
	assert.Equal(t, int64(4), s.Iterations)
	assert.Equal(t, int64(1), s.Failed)
	assert.Equal(t, int64(1), s.TimedOut)
	assert.Equal(t, 0.5, s.ErrorRate)
	assert.Equal(t, 2.0, s.IterationsPerSecond)
	assert.Equal(t, 2, s.ActiveVUs)
	assert.Equal(t, 3, s.SpawnedVUs)
	assert.Equal(t, 1, s.Stage)
	assert.Equal(t, 10, s.Target)

	assert.Equal(t, int64(4), s.IterationDuration.Count)
	assert.InDelta(t, float64(10*time.Millisecond), float64(s.IterationDuration.Min), float64(100*time.Microsecond))
	assert.InDelta(t, float64(40*time.Millisecond), float64(s.IterationDuration.Max), float64(100*time.Microsecond))
	assert.Empty(t, s.RequestDuration)
}

func TestCollector_ElapsedFreezesAtRunEnd(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(time.Unix(0, 0))
	c := NewCollector(WithClock(clk))

	c.RunStarted(events.RunStart{StartTime: clk.Now()})
	clk.SetTime(time.Unix(5, 0))
	c.RunEnded(events.RunEnd{Reason: events.ReasonDeadline})
	clk.SetTime(time.Unix(50, 0))

	s := c.Snapshot()
	assert.Equal(t, 5*time.Second, s.Elapsed)
	assert.Equal(t, events.ReasonDeadline, s.Reason)
}

func TestCollector_EmptySnapshot(t *testing.T) {
	s := NewCollector().Snapshot()
	assert.Zero(t, s.Elapsed)
	assert.Zero(t, s.IterationsPerSecond)
	assert.Zero(t, s.ErrorRate)
	assert.Equal(t, LatencyStats{}, s.IterationDuration)
}

func TestCollector_RecordRequest(t *testing.T) {
	c := NewCollector()

	c.RecordRequest(httpscenario.RequestResult{Name: "login", StatusCode: 200, Duration: 5 * time.Millisecond, BytesReceived: 100})
	c.RecordRequest(httpscenario.RequestResult{Name: "login", StatusCode: 500, Duration: 7 * time.Millisecond, BytesReceived: 10, Err: errors.New("500")})
	c.RecordRequest(httpscenario.RequestResult{Name: "profile", StatusCode: 200, Duration: time.Millisecond})

	s := c.Snapshot()
	assert.Equal(t, int64(3), s.Requests)
	assert.Equal(t, int64(1), s.FailedRequests)
	assert.Equal(t, int64(110), s.BytesReceived)
	require.Len(t, s.RequestDuration, 2)
	assert.Equal(t, int64(2), s.RequestDuration["login"].Count)
	assert.Equal(t, int64(1), s.RequestDuration["profile"].Count)
}

func TestCollector_ClampsOutOfRangeDurations(t *testing.T) {
	c := NewCollector()
	c.IterationCompleted(events.Iteration{Duration: 0})
	c.IterationCompleted(events.Iteration{Duration: 2 * time.Hour})

	s := c.Snapshot()
	assert.Equal(t, int64(2), s.IterationDuration.Count)
	assert.Equal(t, time.Microsecond, s.IterationDuration.Min)
}

func TestCollector_ConcurrentUse(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for vu := 1; vu <= 20; vu++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.VUSpawned(id)
			for i := 0; i < 100; i++ {
				c.IterationCompleted(events.Iteration{VUID: id, Seq: int64(i + 1), Duration: time.Millisecond})
				c.RecordRequest(httpscenario.RequestResult{Name: "r", Duration: time.Millisecond})
			}
			c.VURetired(id)
		}(vu)
	}
	wg.Wait()

	s := c.Snapshot()
	assert.Equal(t, int64(2000), s.Iterations)
	assert.Equal(t, int64(2000), s.Requests)
	assert.Equal(t, int64(2000), s.IterationDuration.Count)
	assert.Zero(t, s.ActiveVUs)
	assert.Equal(t, 20, s.SpawnedVUs)
}
