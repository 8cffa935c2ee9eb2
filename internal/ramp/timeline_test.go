package ramp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/vuramp/internal/runerrors"
)

func TestTimeline_Validate(t *testing.T) {
	tests := []struct {
		name      string
		timeline  Timeline
		wantField string
	}{
		{
			name:     "valid",
			timeline: grpcFixtureTimeline(),
		},
		{
			name:      "empty",
			timeline:  Timeline{},
			wantField: "stages",
		},
		{
			name:      "zero duration",
			timeline:  Timeline{Stages: []Stage{{Duration: time.Second, Target: 1}, {Duration: 0, Target: 2}}},
			wantField: "stages[1].duration",
		},
		{
			name:      "negative duration",
			timeline:  Timeline{Stages: []Stage{{Duration: -time.Second, Target: 1}}},
			wantField: "stages[0].duration",
		},
		{
			name:      "negative target",
			timeline:  Timeline{Stages: []Stage{{Duration: time.Second, Target: -1}}},
			wantField: "stages[0].target",
		},
		{
			name:      "negative baseline",
			timeline:  Timeline{StartTarget: -2, Stages: []Stage{{Duration: time.Second, Target: 1}}},
			wantField: "startVUs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.timeline.Validate()
			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}

			var cfgErr *runerrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantField, cfgErr.Field)
		})
	}
}

func TestTimeline_Helpers(t *testing.T) {
	tl := grpcFixtureTimeline()

	assert.Equal(t, 330*time.Second, tl.TotalDuration())
	assert.Equal(t, []time.Duration{
		10 * time.Second, 20 * time.Second, 320 * time.Second, 330 * time.Second,
	}, tl.Breakpoints())
	assert.Equal(t, 30, tl.FinalTarget())
	assert.Equal(t, 750, tl.MaxTarget())
	assert.Equal(t, "stage-2", tl.StageName(1))
	assert.Equal(t, "hold", tl.StageName(4))

	flat := Flat(5, time.Minute)
	assert.Equal(t, 5, flat.StartTarget)
	assert.Equal(t, time.Minute, flat.TotalDuration())
	require.NoError(t, flat.Validate())
}
