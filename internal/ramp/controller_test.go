package ramp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

func TestController_FollowsClock(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	c := NewController(grpcFixtureTimeline(), clk)

	assert.Equal(t, time.Duration(0), c.Elapsed())
	assert.Equal(t, 0, c.Target())
	assert.False(t, c.Exhausted())

	clk.Step(15 * time.Second)
	assert.Equal(t, 425, c.Target())
	assert.Equal(t, 1, c.CurrentStage())

	clk.Step(300 * time.Second)
	assert.Equal(t, 390, c.Target())
	assert.InDelta(t, 315.0/330.0, c.Progress(), 1e-9)

	clk.Step(15 * time.Second)
	assert.Equal(t, 30, c.Target())
	assert.True(t, c.Exhausted())
	assert.Equal(t, 1.0, c.Progress())
}

func TestController_CrossingsAreNeverSkipped(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	c := NewController(grpcFixtureTimeline(), clk)

	first := c.Crossings()
	require.Len(t, first, 1)
	assert.Equal(t, Crossing{Stage: 0, Name: "stage-1", Target: 0, At: 0}, first[0])

	// No boundary passed: nothing new.
	clk.Step(5 * time.Second)
	assert.Empty(t, c.Crossings())

	// One coarse jump over two breakpoints.
	clk.Step(200 * time.Second)
	got := c.Crossings()
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Stage)
	assert.Equal(t, 100, got[0].Target)
	assert.Equal(t, 10*time.Second, got[0].At)
	assert.Equal(t, 2, got[1].Stage)
	assert.Equal(t, 750, got[1].Target)
	assert.Equal(t, 20*time.Second, got[1].At)

	// Past the end: stage 3 and the final hold.
	clk.Step(time.Hour)
	got = c.Crossings()
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].Stage)
	assert.Equal(t, 750, got[0].Target)
	assert.True(t, got[1].Final)
	assert.Equal(t, 30, got[1].Target)
	assert.Equal(t, 330*time.Second, got[1].At)

	assert.Empty(t, c.Crossings())
}

func TestController_TargetIsRepeatable(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	c := NewController(grpcFixtureTimeline(), clk)

	clk.Step(17 * time.Second)
	first := c.Target()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Target())
	}
}
