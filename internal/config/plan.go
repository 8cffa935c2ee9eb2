package config

import (
	"time"

	"github.com/wesleyorama2/vuramp/internal/ramp"
	"github.com/wesleyorama2/vuramp/internal/runerrors"
	"github.com/wesleyorama2/vuramp/internal/vu"
)

// Defaults applied by Resolve and NewPlan.
const (
	DefaultVUs              = 1
	DefaultGracefulStop     = 30 * time.Second
	DefaultGracefulRampDown = 30 * time.Second
	DefaultTickInterval     = 100 * time.Millisecond
	DefaultSetupTimeout     = 60 * time.Second
	DefaultTeardownTimeout  = 60 * time.Second
)

// Plan is the typed, validated form of a document's options: everything the
// engine needs to schedule a run.
type Plan struct {
	Name     string
	Timeline ramp.Timeline

	// MaxIterations caps the total iteration count. Zero means no cap.
	MaxIterations int64
	// MaxDuration is a hard deadline for the ramping phase. Zero means none.
	MaxDuration time.Duration

	GracefulStop     time.Duration
	GracefulRampDown time.Duration
	IterationTimeout time.Duration
	TickInterval     time.Duration
	SetupTimeout     time.Duration
	TeardownTimeout  time.Duration

	Pacing vu.Pacing

	InsecureSkipTLSVerify bool

	// Env holds the document's env values.
	Env map[string]string

	// Warnings are non-fatal remarks made while resolving the document.
	Warnings []string
}

// NewPlan returns a plan for the given timeline with every default applied.
func NewPlan(tl ramp.Timeline) *Plan {
	return &Plan{
		Timeline:         tl,
		GracefulStop:     DefaultGracefulStop,
		GracefulRampDown: DefaultGracefulRampDown,
		TickInterval:     DefaultTickInterval,
		SetupTimeout:     DefaultSetupTimeout,
		TeardownTimeout:  DefaultTeardownTimeout,
		Pacing:           vu.Pacing{Type: vu.PacingNone},
	}
}

// Validate checks the plan. Problems are reported as *runerrors.ConfigError.
func (p *Plan) Validate() error {
	if err := p.Timeline.Validate(); err != nil {
		return err
	}

	durations := []struct {
		field string
		value time.Duration
	}{
		{"maxDuration", p.MaxDuration},
		{"gracefulStop", p.GracefulStop},
		{"gracefulRampDown", p.GracefulRampDown},
		{"iterationTimeout", p.IterationTimeout},
		{"setupTimeout", p.SetupTimeout},
		{"teardownTimeout", p.TeardownTimeout},
	}
	for _, d := range durations {
		if d.value < 0 {
			return runerrors.NewConfigError(d.field, "must not be negative, got %s", d.value)
		}
	}

	if p.TickInterval <= 0 {
		return runerrors.NewConfigError("tickInterval", "must be greater than 0, got %s", p.TickInterval)
	}
	if p.MaxIterations < 0 {
		return runerrors.NewConfigError("iterations", "must not be negative, got %d", p.MaxIterations)
	}

	// With nobody left to run them, the remaining capped iterations would
	// keep the run alive forever.
	if p.MaxIterations > 0 && p.Timeline.FinalTarget() == 0 && p.MaxDuration == 0 {
		return runerrors.NewConfigError("iterations",
			"an iteration cap needs a final stage target above 0 or a maxDuration")
	}

	return nil
}

// Resolve turns the document options into a Plan.
//
// Stages take precedence over flat vus/duration; when both are given a
// warning is recorded. Flat mode becomes a single stage holding vus from the
// very start.
func (c *TestConfig) Resolve() (*Plan, error) {
	if err := c.Validate(); err != nil {
		return nil, &runerrors.ConfigError{Message: "document is invalid", Err: err}
	}
	return c.Options.resolve(c.Name, c.Env)
}

// ResolveOptions turns options that did not come from a document (a script's
// exported options, CLI flags) into a Plan.
func ResolveOptions(name string, o Options, env map[string]string) (*Plan, error) {
	errs := &ValidationErrors{}
	validateOptions(&o, errs)
	if errs.HasErrors() {
		return nil, &runerrors.ConfigError{Message: "options are invalid", Err: errs}
	}
	return o.resolve(name, env)
}

func (o Options) resolve(name string, env map[string]string) (*Plan, error) {
	var tl ramp.Timeline
	var warnings []string

	if len(o.Stages) > 0 {
		if o.VUs != nil || o.Duration != "" {
			warnings = append(warnings, "both stages and vus/duration are set: stages take precedence")
		}
		tl.StartTarget = o.StartVUs
		for _, s := range o.Stages {
			d, _ := s.Duration.Parse()
			tl.Stages = append(tl.Stages, ramp.Stage{Duration: d, Target: s.Target, Name: s.Name})
		}
	} else {
		vus := DefaultVUs
		if o.VUs != nil {
			vus = *o.VUs
		}
		d, _ := o.Duration.Parse()
		tl = ramp.Flat(vus, d)
	}

	plan := NewPlan(tl)
	plan.Name = name
	plan.Warnings = warnings
	plan.MaxIterations = o.Iterations
	plan.MaxDuration = o.MaxDuration.OrDefault(0)
	plan.GracefulStop = o.GracefulStop.OrDefault(DefaultGracefulStop)
	plan.GracefulRampDown = o.GracefulRampDown.OrDefault(DefaultGracefulRampDown)
	plan.IterationTimeout = o.IterationTimeout.OrDefault(0)
	plan.TickInterval = o.TickInterval.OrDefault(DefaultTickInterval)
	plan.SetupTimeout = o.SetupTimeout.OrDefault(DefaultSetupTimeout)
	plan.TeardownTimeout = o.TeardownTimeout.OrDefault(DefaultTeardownTimeout)
	plan.InsecureSkipTLSVerify = o.InsecureSkipTLSVerify
	plan.Env = env

	if o.Pacing != nil {
		plan.Pacing = vu.Pacing{
			Type:     vu.PacingType(o.Pacing.Type),
			Duration: o.Pacing.Duration.OrDefault(0),
			Min:      o.Pacing.Min.OrDefault(0),
			Max:      o.Pacing.Max.OrDefault(0),
		}
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}
