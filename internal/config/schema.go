// Package config provides parsing and validation of vuramp test documents.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TestConfig is the root of a test document.
//
// Example YAML:
//
//	name: "grpc ramp"
//	options:
//	  stages:
//	    - duration: 10s
//	      target: 100
//	    - duration: 10s
//	      target: 0
//	  insecureSkipTLSVerify: true
//	env:
//	  MESSAGE: hello
//	scenario:
//	  requests:
//	    - method: GET
//	      url: "{{__ENV.BASE_URL}}/hello"
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Options shape the workload
	Options Options `json:"options,omitempty" yaml:"options,omitempty"`

	// Env values exposed to scenario code
	Env StringMap `json:"env,omitempty" yaml:"env,omitempty"`

	// Scenario is what every VU iteration executes
	Scenario ScenarioConfig `json:"scenario" yaml:"scenario"`
}

// Options are the workload options of a test document.
type Options struct {
	// VUs is the flat concurrency used when no stages are given.
	// A nil value means "not set" (defaults to 1).
	VUs *int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Duration is the flat run length used when no stages are given.
	Duration DurationString `json:"duration,omitempty" yaml:"duration,omitempty"`

	// StartVUs is the ramp baseline before the first stage.
	StartVUs int `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`

	// Stages drive the ramp. When present they override VUs and Duration.
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Iterations caps the total number of iterations across all VUs.
	Iterations int64 `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// MaxDuration is a hard deadline for the ramping phase.
	MaxDuration DurationString `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty"`

	// InsecureSkipTLSVerify is passed through to the protocol client.
	InsecureSkipTLSVerify bool `json:"insecureSkipTLSVerify,omitempty" yaml:"insecureSkipTLSVerify,omitempty"`

	// GracefulStop bounds how long in-flight iterations may run after the
	// run is stopped.
	GracefulStop DurationString `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// GracefulRampDown bounds how long a VU retired by a downward ramp may
	// finish its iteration.
	GracefulRampDown DurationString `json:"gracefulRampDown,omitempty" yaml:"gracefulRampDown,omitempty"`

	// IterationTimeout is the per-iteration budget.
	IterationTimeout DurationString `json:"iterationTimeout,omitempty" yaml:"iterationTimeout,omitempty"`

	// TickInterval is the control loop period.
	TickInterval DurationString `json:"tickInterval,omitempty" yaml:"tickInterval,omitempty"`

	// SetupTimeout is the maximum time for the setup hook
	SetupTimeout DurationString `json:"setupTimeout,omitempty" yaml:"setupTimeout,omitempty"`

	// TeardownTimeout is the maximum time for the teardown hook
	TeardownTimeout DurationString `json:"teardownTimeout,omitempty" yaml:"teardownTimeout,omitempty"`

	// Pacing controls time between iterations
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`
}

// StageConfig defines a single ramp stage.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration DurationString `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// PacingConfig controls pacing between iterations.
type PacingConfig struct {
	// Type is the pacing strategy: "none", "constant", "random"
	Type string `json:"type" yaml:"type"`

	// Duration is the wait time for constant pacing
	Duration DurationString `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min is the minimum wait time for random pacing
	Min DurationString `json:"min,omitempty" yaml:"min,omitempty"`

	// Max is the maximum wait time for random pacing
	Max DurationString `json:"max,omitempty" yaml:"max,omitempty"`
}

// ScenarioConfig is the HTTP scenario every VU loops.
type ScenarioConfig struct {
	// Variables are available to all requests as {{name}}
	Variables StringMap `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Headers are applied to every request
	Headers StringMap `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Timeout is the default HTTP request timeout
	Timeout DurationString `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Setup requests run once before the ramp
	Setup []RequestConfig `json:"setup,omitempty" yaml:"setup,omitempty"`

	// Requests run in order on every iteration
	Requests []RequestConfig `json:"requests" yaml:"requests"`

	// Teardown requests run once after the ramp
	Teardown []RequestConfig `json:"teardown,omitempty" yaml:"teardown,omitempty"`
}

// RequestConfig defines a single HTTP request.
type RequestConfig struct {
	// Name for this request (used in logs and errors)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method is the HTTP method (GET, POST, PUT, DELETE, etc.)
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// URL is the request URL (supports variable substitution)
	URL string `json:"url" yaml:"url"`

	// Headers are request-specific headers
	Headers StringMap `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is the request body (supports variable substitution)
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// Timeout is request-specific timeout (overrides the scenario default)
	Timeout DurationString `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// ThinkTime is wait time after this request
	ThinkTime DurationString `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// ExpectStatus fails the iteration when the response status differs.
	// Zero accepts any status below 400.
	ExpectStatus int `json:"expectStatus,omitempty" yaml:"expectStatus,omitempty"`

	// Extract defines variable extraction from response
	Extract []ExtractConfig `json:"extract,omitempty" yaml:"extract,omitempty"`
}

// ExtractConfig defines how to extract variables from a response.
type ExtractConfig struct {
	// Name of the variable to store
	Name string `json:"name" yaml:"name"`

	// Source is where to extract from: "body", "header", "status"
	Source string `json:"source" yaml:"source"`

	// Path is the header name, or a JSONPath for body
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// DurationString is a duration as written in a document: Go syntax ("30s",
// "1m30s") or integer seconds (30 or "30").
type DurationString string

// UnmarshalJSON accepts both JSON strings and numbers.
func (d *DurationString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] != '"' {
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration must be a string or a number: %w", err)
		}
		*d = DurationString(n.String())
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*d = DurationString(s)
	return nil
}

// Parse returns the parsed duration. An empty string is zero.
func (d DurationString) Parse() (time.Duration, error) {
	return ParseDurationString(string(d))
}

// OrDefault returns the parsed duration, or def when unset. Invalid values
// are reported by Validate, so they also fall back to def here.
func (d DurationString) OrDefault(def time.Duration) time.Duration {
	if d == "" {
		return def
	}
	v, err := d.Parse()
	if err != nil {
		return def
	}
	return v
}

// StringMap is a map of string values that also accepts JSON numbers and
// booleans, the same way YAML scalars decode into strings.
type StringMap map[string]string

// UnmarshalJSON implements json.Unmarshaler.
func (m *StringMap) UnmarshalJSON(b []byte) error {
	var raw map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		*m = nil
		return nil
	}

	out := make(StringMap, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case bool:
			out[k] = fmt.Sprintf("%t", val)
		case nil:
			out[k] = ""
		default:
			return fmt.Errorf("value of %q must be a scalar", k)
		}
	}
	*m = out
	return nil
}
