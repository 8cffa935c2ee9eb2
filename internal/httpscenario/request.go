package httpscenario

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/wesleyorama2/vuramp/internal/config"
	vhttp "github.com/wesleyorama2/vuramp/internal/http"
	"github.com/wesleyorama2/vuramp/internal/scenario"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// envPrefix marks environment lookups: {{__ENV.MESSAGE}}.
const envPrefix = "__ENV."

// step is a compiled request definition.
type step struct {
	name         string
	method       string
	url          string
	headers      map[string]string
	body         string
	timeout      time.Duration
	thinkTime    time.Duration
	expectStatus int
	extract      []extractor
}

func compileSteps(reqs []config.RequestConfig) ([]step, error) {
	steps := make([]step, 0, len(reqs))
	for i, rc := range reqs {
		s, err := compileStep(rc)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func compileStep(rc config.RequestConfig) (step, error) {
	timeout, err := rc.Timeout.Parse()
	if err != nil {
		return step{}, fmt.Errorf("invalid timeout: %w", err)
	}
	thinkTime, err := rc.ThinkTime.Parse()
	if err != nil {
		return step{}, fmt.Errorf("invalid thinkTime: %w", err)
	}

	name := rc.Name
	if name == "" {
		name = strings.ToUpper(defaultString(rc.Method, "GET")) + " " + rc.URL
	}

	s := step{
		name:         name,
		method:       rc.Method,
		url:          rc.URL,
		headers:      rc.Headers,
		body:         rc.Body,
		timeout:      timeout,
		thinkTime:    thinkTime,
		expectStatus: rc.ExpectStatus,
	}
	for _, ex := range rc.Extract {
		s.extract = append(s.extract, extractor{name: ex.Name, source: ex.Source, path: ex.Path})
	}
	return s, nil
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// scope resolves placeholders. Lookup order: values stored on the VU,
// setup data, scenario variables, then environment for __ENV.* names.
type scope struct {
	vu        *scenario.VU
	setupData map[string]string
	variables map[string]string
	env       scenario.Env

	// local collects extractions when there is no VU (setup, teardown).
	local map[string]string
}

func (s *scope) lookup(name string) (string, bool) {
	if strings.HasPrefix(name, envPrefix) {
		return s.env.Lookup(strings.TrimPrefix(name, envPrefix))
	}

	switch name {
	case "__VU":
		if s.vu != nil {
			return fmt.Sprintf("%d", s.vu.ID), true
		}
		return "0", true
	case "__ITER":
		if s.vu != nil {
			return fmt.Sprintf("%d", s.vu.Iteration), true
		}
		return "0", true
	}

	if s.vu != nil {
		if v, ok := s.vu.Get(name); ok {
			return fmt.Sprintf("%v", v), true
		}
	}
	if v, ok := s.local[name]; ok {
		return v, true
	}
	if v, ok := s.setupData[name]; ok {
		return v, true
	}
	v, ok := s.variables[name]
	return v, ok
}

func (s *scope) set(name, value string) {
	if s.vu != nil {
		s.vu.Set(name, value)
		return
	}
	if s.local == nil {
		s.local = make(map[string]string)
	}
	s.local[name] = value
}

// render substitutes {{name}} placeholders. Unknown names are left as-is.
func (s *scope) render(input string) string {
	if !strings.Contains(input, "{{") {
		return input
	}
	return placeholderPattern.ReplaceAllStringFunc(input, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		if v, ok := s.lookup(name); ok {
			return v
		}
		return m
	})
}

// RequestResult describes one executed request.
type RequestResult struct {
	Name          string
	StatusCode    int
	Duration      time.Duration
	BytesReceived int64
	Err           error
}

// execute runs one step within the scope and applies its extractions.
func (h *Host) execute(ctx context.Context, sc *scope, s step) error {
	req := vhttp.NewRequest(s.method, sc.render(s.url)).WithBody(sc.render(s.body))
	for k, v := range h.headers {
		req.WithHeader(k, sc.render(v))
	}
	for k, v := range s.headers {
		req.WithHeader(k, sc.render(v))
	}

	timeout := s.timeout
	if timeout <= 0 {
		timeout = h.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := h.client.Do(ctx, req)
	result := RequestResult{Name: s.name, Duration: time.Since(start)}
	if resp != nil {
		result.StatusCode = resp.StatusCode
		result.BytesReceived = resp.BytesReceived()
		result.Duration = resp.Timing.TotalTime
	}

	if err == nil {
		err = checkStatus(s, resp)
	}
	if err == nil {
		for _, x := range s.extract {
			value, xerr := x.apply(resp)
			if xerr != nil {
				err = fmt.Errorf("extract %q: %w", x.name, xerr)
				break
			}
			sc.set(x.name, value)
		}
	}

	result.Err = err
	h.recorder.RecordRequest(result)
	return err
}

func checkStatus(s step, resp *vhttp.Response) error {
	if s.expectStatus != 0 {
		if resp.StatusCode != s.expectStatus {
			return fmt.Errorf("expected status %d, got %d", s.expectStatus, resp.StatusCode)
		}
		return nil
	}
	if resp.IsError() {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

// think waits between requests. It returns early when ctx ends.
func think(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
