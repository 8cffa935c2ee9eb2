package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/vuramp/internal/ramp"
	"github.com/wesleyorama2/vuramp/internal/runerrors"
	"github.com/wesleyorama2/vuramp/internal/vu"
)

func TestResolve_Stages(t *testing.T) {
	config, err := ParseConfig([]byte(grpcRampYAML), "test.yaml")
	require.NoError(t, err)

	plan, err := config.Resolve()
	require.NoError(t, err)

	assert.Equal(t, "grpc-ramp", plan.Name)
	assert.Equal(t, 0, plan.Timeline.StartTarget)
	assert.Equal(t, []ramp.Stage{
		{Duration: 10 * time.Second, Target: 100},
		{Duration: 10 * time.Second, Target: 750},
		{Duration: 300 * time.Second, Target: 750},
		{Duration: 10 * time.Second, Target: 30},
	}, plan.Timeline.Stages)
	assert.True(t, plan.InsecureSkipTLSVerify)
	assert.Equal(t, "hello", plan.Env["MESSAGE"])
	assert.Empty(t, plan.Warnings)

	assert.Equal(t, DefaultGracefulStop, plan.GracefulStop)
	assert.Equal(t, DefaultGracefulRampDown, plan.GracefulRampDown)
	assert.Equal(t, DefaultTickInterval, plan.TickInterval)
	assert.Equal(t, DefaultSetupTimeout, plan.SetupTimeout)
	assert.Equal(t, DefaultTeardownTimeout, plan.TeardownTimeout)
	assert.Zero(t, plan.IterationTimeout)
	assert.Equal(t, vu.PacingNone, plan.Pacing.Type)
}

func TestResolve_FlatMode(t *testing.T) {
	config := minimalConfig()
	config.Options.VUs = intPtr(7)
	config.Options.Duration = "45"

	plan, err := config.Resolve()
	require.NoError(t, err)
	assert.Equal(t, ramp.Flat(7, 45*time.Second), plan.Timeline)
	assert.Equal(t, 7, ramp.TargetAt(plan.Timeline, 0), "flat mode runs at full concurrency from the start")
}

func TestResolve_FlatModeDefaultsToOneVU(t *testing.T) {
	config := minimalConfig()
	config.Options.VUs = nil

	plan, err := config.Resolve()
	require.NoError(t, err)
	assert.Equal(t, DefaultVUs, plan.Timeline.FinalTarget())
}

func TestResolve_StagesWinOverFlatOptions(t *testing.T) {
	config := minimalConfig()
	config.Options.Stages = []StageConfig{{Duration: "5s", Target: 3}}

	plan, err := config.Resolve()
	require.NoError(t, err)
	assert.Len(t, plan.Timeline.Stages, 1)
	assert.Equal(t, 3, plan.Timeline.FinalTarget())
	require.Len(t, plan.Warnings, 1)
	assert.True(t, strings.Contains(plan.Warnings[0], "stages take precedence"))
}

func TestResolve_OptionsAreCarried(t *testing.T) {
	config := minimalConfig()
	config.Options.Iterations = 100
	config.Options.MaxDuration = "2m"
	config.Options.GracefulStop = "5s"
	config.Options.GracefulRampDown = "1s"
	config.Options.IterationTimeout = "3s"
	config.Options.TickInterval = "50ms"
	config.Options.Pacing = &PacingConfig{Type: "random", Min: "100ms", Max: "200ms"}

	plan, err := config.Resolve()
	require.NoError(t, err)
	assert.Equal(t, int64(100), plan.MaxIterations)
	assert.Equal(t, 2*time.Minute, plan.MaxDuration)
	assert.Equal(t, 5*time.Second, plan.GracefulStop)
	assert.Equal(t, time.Second, plan.GracefulRampDown)
	assert.Equal(t, 3*time.Second, plan.IterationTimeout)
	assert.Equal(t, 50*time.Millisecond, plan.TickInterval)
	assert.Equal(t, vu.Pacing{Type: vu.PacingRandom, Min: 100 * time.Millisecond, Max: 200 * time.Millisecond}, plan.Pacing)
}

func TestResolve_InvalidDocumentIsConfigError(t *testing.T) {
	config := minimalConfig()
	config.Options.Duration = ""

	_, err := config.Resolve()
	require.Error(t, err)
	assert.True(t, runerrors.IsConfigError(err))
}

func TestPlan_Validate(t *testing.T) {
	valid := func() *Plan {
		return NewPlan(ramp.Timeline{Stages: []ramp.Stage{{Duration: time.Second, Target: 1}}})
	}

	tests := []struct {
		name   string
		modify func(p *Plan)
		field  string
	}{
		{"empty timeline", func(p *Plan) { p.Timeline = ramp.Timeline{} }, "stages"},
		{"negative graceful stop", func(p *Plan) { p.GracefulStop = -time.Second }, "gracefulStop"},
		{"zero tick", func(p *Plan) { p.TickInterval = 0 }, "tickInterval"},
		{"negative iterations", func(p *Plan) { p.MaxIterations = -1 }, "iterations"},
		{"cap with nobody left", func(p *Plan) {
			p.MaxIterations = 10
			p.Timeline.Stages = append(p.Timeline.Stages, ramp.Stage{Duration: time.Second, Target: 0})
		}, "iterations"},
	}

	require.NoError(t, valid().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.modify(p)

			err := p.Validate()
			var cfgErr *runerrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	// A deadline makes a cap with a final target of 0 acceptable.
	p := valid()
	p.MaxIterations = 10
	p.Timeline.Stages = append(p.Timeline.Stages, ramp.Stage{Duration: time.Second, Target: 0})
	p.MaxDuration = time.Minute
	assert.NoError(t, p.Validate())
}

func TestResolveOptions(t *testing.T) {
	vus := 5
	plan, err := ResolveOptions("script", Options{
		VUs:          &vus,
		Duration:     "30s",
		GracefulStop: "5s",
	}, map[string]string{"MESSAGE": "hello"})
	require.NoError(t, err)

	assert.Equal(t, "script", plan.Name)
	assert.Equal(t, ramp.Flat(5, 30*time.Second), plan.Timeline)
	assert.Equal(t, 5*time.Second, plan.GracefulStop)
	assert.Equal(t, "hello", plan.Env["MESSAGE"])
}

func TestResolveOptions_Invalid(t *testing.T) {
	_, err := ResolveOptions("script", Options{}, nil)
	require.Error(t, err)

	var cfgErr *runerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "duration is required")
}
