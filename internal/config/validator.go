package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the entire test document.
//
// Returns nil if valid, or a *ValidationErrors containing all problems.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateOptions(&c.Options, errs)

	if len(c.Scenario.Requests) == 0 {
		errs.Add("scenario.requests", "at least one request is required")
	}
	validateDurationField("scenario.timeout", c.Scenario.Timeout, errs)

	for i := range c.Scenario.Setup {
		validateRequest(fmt.Sprintf("scenario.setup[%d]", i), &c.Scenario.Setup[i], errs)
	}
	for i := range c.Scenario.Requests {
		validateRequest(fmt.Sprintf("scenario.requests[%d]", i), &c.Scenario.Requests[i], errs)
	}
	for i := range c.Scenario.Teardown {
		validateRequest(fmt.Sprintf("scenario.teardown[%d]", i), &c.Scenario.Teardown[i], errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateOptions validates the workload options.
func validateOptions(o *Options, errs *ValidationErrors) {
	if o.VUs != nil && *o.VUs < 0 {
		errs.Add("options.vus", "vus cannot be negative")
	}
	if o.StartVUs < 0 {
		errs.Add("options.startVUs", "startVUs cannot be negative")
	}
	if o.Iterations < 0 {
		errs.Add("options.iterations", "iterations cannot be negative")
	}

	if len(o.Stages) == 0 {
		// Flat mode needs a length.
		if o.Duration == "" {
			errs.Add("options.duration", "duration is required when no stages are defined")
		} else if d, err := o.Duration.Parse(); err != nil {
			errs.Add("options.duration", fmt.Sprintf("invalid duration: %v", err))
		} else if d <= 0 {
			errs.Add("options.duration", "duration must be greater than 0")
		}
	}

	for i, stage := range o.Stages {
		validateStage(fmt.Sprintf("options.stages[%d]", i), &stage, errs)
	}

	validateDurationField("options.maxDuration", o.MaxDuration, errs)
	validateDurationField("options.gracefulStop", o.GracefulStop, errs)
	validateDurationField("options.gracefulRampDown", o.GracefulRampDown, errs)
	validateDurationField("options.iterationTimeout", o.IterationTimeout, errs)
	validateDurationField("options.setupTimeout", o.SetupTimeout, errs)
	validateDurationField("options.teardownTimeout", o.TeardownTimeout, errs)
	validateDurationField("options.tickInterval", o.TickInterval, errs)

	if o.TickInterval != "" {
		if d, err := o.TickInterval.Parse(); err == nil && d == 0 {
			errs.Add("options.tickInterval", "tickInterval must be greater than 0")
		}
	}

	if o.Pacing != nil {
		validatePacing("options.pacing", o.Pacing, errs)
	}
}

// validateDurationField checks an optional non-negative duration.
func validateDurationField(field string, d DurationString, errs *ValidationErrors) {
	if d == "" {
		return
	}
	v, err := d.Parse()
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
		return
	}
	if v < 0 {
		errs.Add(field, "duration cannot be negative")
	}
}

// validateStage validates a single stage configuration.
func validateStage(prefix string, stage *StageConfig, errs *ValidationErrors) {
	if stage.Duration == "" {
		errs.Add(prefix+".duration", "duration is required")
	} else if d, err := stage.Duration.Parse(); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	} else if d <= 0 {
		errs.Add(prefix+".duration", "duration must be greater than 0")
	}

	if stage.Target < 0 {
		errs.Add(prefix+".target", "target cannot be negative")
	}
}

// validatePacing validates pacing configuration.
func validatePacing(prefix string, pacing *PacingConfig, errs *ValidationErrors) {
	validTypes := map[string]bool{
		"none": true, "constant": true, "random": true,
	}

	if !validTypes[pacing.Type] {
		errs.Add(prefix+".type", fmt.Sprintf("invalid pacing type: %s", pacing.Type))
	}

	switch pacing.Type {
	case "constant":
		if pacing.Duration == "" {
			errs.Add(prefix+".duration", "duration is required for constant pacing")
		} else {
			validateDurationField(prefix+".duration", pacing.Duration, errs)
		}

	case "random":
		if pacing.Min == "" {
			errs.Add(prefix+".min", "min is required for random pacing")
		} else {
			validateDurationField(prefix+".min", pacing.Min, errs)
		}

		if pacing.Max == "" {
			errs.Add(prefix+".max", "max is required for random pacing")
		} else {
			validateDurationField(prefix+".max", pacing.Max, errs)
		}

		// Validate min <= max
		if pacing.Min != "" && pacing.Max != "" {
			minDur, _ := pacing.Min.Parse()
			maxDur, _ := pacing.Max.Parse()
			if minDur > maxDur {
				errs.Add(prefix, "min must be less than or equal to max")
			}
		}
	}
}

// validateRequest validates a single request configuration.
func validateRequest(prefix string, req *RequestConfig, errs *ValidationErrors) {
	validMethods := map[string]bool{
		"GET": true, "POST": true, "PUT": true, "DELETE": true,
		"PATCH": true, "HEAD": true, "OPTIONS": true,
	}

	// Empty method defaults to GET.
	if method := strings.ToUpper(req.Method); method != "" && !validMethods[method] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", req.Method))
	}

	if req.URL == "" {
		errs.Add(prefix+".url", "url is required")
	} else if _, err := url.Parse(stripPlaceholders(req.URL)); err != nil {
		errs.Add(prefix+".url", fmt.Sprintf("invalid URL: %v", err))
	}

	validateDurationField(prefix+".timeout", req.Timeout, errs)
	validateDurationField(prefix+".thinkTime", req.ThinkTime, errs)

	if req.ExpectStatus != 0 && (req.ExpectStatus < 100 || req.ExpectStatus > 599) {
		errs.Add(prefix+".expectStatus", fmt.Sprintf("invalid status code: %d", req.ExpectStatus))
	}

	for i, extract := range req.Extract {
		validateExtract(fmt.Sprintf("%s.extract[%d]", prefix, i), &extract, errs)
	}
}

// stripPlaceholders replaces {{var}} patterns so the rest of the URL can be
// checked.
func stripPlaceholders(s string) string {
	for strings.Contains(s, "{{") {
		start := strings.Index(s, "{{")
		end := strings.Index(s, "}}")
		if end <= start {
			break
		}
		s = s[:start] + "placeholder" + s[end+2:]
	}
	return s
}

// validateExtract validates an extract configuration.
func validateExtract(prefix string, extract *ExtractConfig, errs *ValidationErrors) {
	if extract.Name == "" {
		errs.Add(prefix+".name", "name is required")
	}

	validSources := map[string]bool{
		"body": true, "header": true, "status": true,
	}

	if extract.Source == "" {
		errs.Add(prefix+".source", "source is required")
	} else if !validSources[extract.Source] {
		errs.Add(prefix+".source", fmt.Sprintf("invalid source: %s", extract.Source))
	}

	if extract.Source == "header" && extract.Path == "" {
		errs.Add(prefix+".path", "path is required for header extraction")
	}
}
