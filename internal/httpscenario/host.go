// Package httpscenario is a scenario host that executes the HTTP requests of
// a scenario document. Every iteration runs the request list in order; setup
// and teardown lists run once around the ramp.
package httpscenario

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/vuramp/internal/config"
	vhttp "github.com/wesleyorama2/vuramp/internal/http"
	"github.com/wesleyorama2/vuramp/internal/scenario"
)

// RequestRecorder receives every executed request. Implementations must be
// safe for concurrent use.
type RequestRecorder interface {
	RecordRequest(RequestResult)
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(RequestResult) {}

// Options configures a Host.
type Options struct {
	// InsecureSkipTLSVerify disables certificate verification.
	InsecureSkipTLSVerify bool
	// Client overrides the shared HTTP client.
	Client *vhttp.Client
	// Recorder receives per-request results.
	Recorder RequestRecorder
	Logger   logrus.FieldLogger
}

// Host runs a scenario document's requests.
type Host struct {
	client    *vhttp.Client
	recorder  RequestRecorder
	logger    logrus.FieldLogger
	variables map[string]string
	headers   map[string]string
	timeout   time.Duration

	setup    []step
	requests []step
	teardown []step
}

var (
	_ scenario.Scenario     = (*Host)(nil)
	_ scenario.SetupHook    = (*Host)(nil)
	_ scenario.TeardownHook = (*Host)(nil)
)

// New compiles the scenario's request lists.
func New(sc config.ScenarioConfig, opts Options) (*Host, error) {
	timeout, err := sc.Timeout.Parse()
	if err != nil {
		return nil, fmt.Errorf("invalid scenario timeout: %w", err)
	}

	h := &Host{
		client:    opts.Client,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
		variables: sc.Variables,
		headers:   sc.Headers,
		timeout:   timeout,
	}
	if h.client == nil {
		h.client = vhttp.NewClient(
			vhttp.WithTimeout(0),
			vhttp.WithInsecureSkipVerify(opts.InsecureSkipTLSVerify),
			vhttp.WithHeader("User-Agent", "vuramp"),
		)
	}
	if h.recorder == nil {
		h.recorder = nopRecorder{}
	}
	if h.logger == nil {
		h.logger = logrus.StandardLogger()
	}

	if h.setup, err = compileSteps(sc.Setup); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	if h.requests, err = compileSteps(sc.Requests); err != nil {
		return nil, fmt.Errorf("requests: %w", err)
	}
	if h.teardown, err = compileSteps(sc.Teardown); err != nil {
		return nil, fmt.Errorf("teardown: %w", err)
	}
	if len(h.requests) == 0 {
		return nil, fmt.Errorf("scenario has no requests")
	}
	return h, nil
}

// Run executes one iteration: every request in order, with think time
// between them. The first failing request ends the iteration.
func (h *Host) Run(ctx context.Context, vu *scenario.VU) error {
	sc := &scope{
		vu:        vu,
		setupData: setupValues(vu.SetupData),
		variables: h.variables,
		env:       vu.Env,
	}
	return h.runSteps(ctx, sc, h.requests)
}

// Setup runs the setup requests once. Values they extract become the setup
// data, visible to every iteration and to teardown.
func (h *Host) Setup(ctx context.Context, env scenario.Env) (interface{}, error) {
	if len(h.setup) == 0 {
		return nil, nil
	}

	sc := &scope{variables: h.variables, env: env}
	if err := h.runSteps(ctx, sc, h.setup); err != nil {
		return nil, err
	}
	h.logger.WithField("values", len(sc.local)).Debug("setup requests completed")
	return sc.local, nil
}

// Teardown runs the teardown requests once.
func (h *Host) Teardown(ctx context.Context, env scenario.Env, data interface{}) error {
	if len(h.teardown) == 0 {
		return nil
	}
	sc := &scope{
		setupData: setupValues(data),
		variables: h.variables,
		env:       env,
	}
	return h.runSteps(ctx, sc, h.teardown)
}

// Close releases idle connections.
func (h *Host) Close() {
	h.client.CloseIdleConnections()
}

func (h *Host) runSteps(ctx context.Context, sc *scope, steps []step) error {
	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.execute(ctx, sc, s); err != nil {
			return fmt.Errorf("request %q: %w", s.name, err)
		}
		if i < len(steps)-1 {
			think(ctx, s.thinkTime)
		}
	}
	return nil
}

func setupValues(data interface{}) map[string]string {
	values, _ := data.(map[string]string)
	return values
}
