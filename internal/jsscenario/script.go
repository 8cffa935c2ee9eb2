// Package jsscenario is a scenario host for JavaScript load scripts.
//
// A script exports its workload options, a default function run on every
// iteration and optional setup and teardown functions:
//
//	export const options = {
//	  stages: [{ duration: "10s", target: 100 }, { duration: "10s", target: 0 }],
//	};
//
//	export default function () {
//	  http.get(`${__ENV.BASE_URL}/hello`);
//	  sleep(1);
//	}
//
// Every VU evaluates the script in its own runtime, so top-level variables are
// private to a VU. The http, sleep, check, fail and URL globals are always
// present; import statements are accepted and ignored.
package jsscenario

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/vuramp/internal/config"
	vhttp "github.com/wesleyorama2/vuramp/internal/http"
	"github.com/wesleyorama2/vuramp/internal/httpscenario"
	"github.com/wesleyorama2/vuramp/internal/scenario"
)

// DefaultRequestTimeout applies to http calls that don't set a timeout.
const DefaultRequestTimeout = 60 * time.Second

// runtimeKey is where a VU keeps its runtime.
const runtimeKey = "jsscenario.runtime"

// Options configures a Script.
type Options struct {
	// Env is visible as __ENV while the script is first evaluated. VUs see
	// the run's env instead.
	Env map[string]string
	// InsecureSkipTLSVerify disables certificate verification even when the
	// script's options don't ask for it.
	InsecureSkipTLSVerify bool
	// RequestTimeout applies to http calls without their own timeout.
	RequestTimeout time.Duration
	// Client overrides the shared HTTP client.
	Client   *vhttp.Client
	Recorder httpscenario.RequestRecorder
	Logger   logrus.FieldLogger
}

// Script is a compiled load script.
type Script struct {
	name    string
	program *goja.Program
	options config.Options

	hasSetup    bool
	hasTeardown bool

	client         *vhttp.Client
	recorder       httpscenario.RequestRecorder
	logger         logrus.FieldLogger
	requestTimeout time.Duration

	checksPassed atomic.Int64
	checksFailed atomic.Int64
}

var (
	_ scenario.Scenario     = (*Script)(nil)
	_ scenario.SetupHook    = (*Script)(nil)
	_ scenario.TeardownHook = (*Script)(nil)
)

// Load reads and compiles the script at path.
func Load(path string, opts Options) (*Script, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return Compile(path, string(src), opts)
}

// Compile compiles source and evaluates it once to read its exports.
func Compile(name, source string, opts Options) (*Script, error) {
	program, err := goja.Compile(name, rewriteModule(source), false)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script: %w", err)
	}

	s := &Script{
		name:           name,
		program:        program,
		client:         opts.Client,
		recorder:       opts.Recorder,
		logger:         opts.Logger,
		requestTimeout: opts.RequestTimeout,
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.requestTimeout <= 0 {
		s.requestTimeout = DefaultRequestTimeout
	}

	rt, err := s.newRuntime(0, scenario.NewEnv(opts.Env), nil)
	if err != nil {
		return nil, err
	}
	if _, ok := goja.AssertFunction(rt.exports.Get("default")); !ok {
		return nil, fmt.Errorf("script %s has no default export function", name)
	}
	_, s.hasSetup = goja.AssertFunction(rt.exports.Get("setup"))
	_, s.hasTeardown = goja.AssertFunction(rt.exports.Get("teardown"))

	if s.options, err = exportedOptions(rt.exports.Get("options")); err != nil {
		return nil, err
	}

	if s.client == nil {
		s.client = vhttp.NewClient(
			vhttp.WithTimeout(0),
			vhttp.WithInsecureSkipVerify(opts.InsecureSkipTLSVerify || s.options.InsecureSkipTLSVerify),
			vhttp.WithHeader("User-Agent", "vuramp"),
		)
	}
	return s, nil
}

// Name returns the script's file name.
func (s *Script) Name() string {
	return s.name
}

// Options returns the options the script exported.
func (s *Script) Options() config.Options {
	return s.options
}

// Plan resolves the script's options into a run plan.
func (s *Script) Plan() (*config.Plan, error) {
	return config.ResolveOptions(s.name, s.options, nil)
}

// Checks returns how many check() conditions passed and failed so far.
func (s *Script) Checks() (passed, failed int64) {
	return s.checksPassed.Load(), s.checksFailed.Load()
}

// Run executes the default function once in the VU's runtime. The runtime is
// created on the VU's first iteration and reused afterwards.
func (s *Script) Run(ctx context.Context, vu *scenario.VU) error {
	var rt *runtime
	if v, ok := vu.Get(runtimeKey); ok {
		rt = v.(*runtime)
	} else {
		var err error
		if rt, err = s.newRuntime(vu.ID, vu.Env, vu.SetupData); err != nil {
			return err
		}
		vu.Set(runtimeKey, rt)
	}

	rt.vm.Set("__ITER", vu.Iteration-1)
	_, err := rt.call(ctx, "default", rt.data)
	return err
}

// Setup calls the exported setup function, if any. Its return value must be
// JSON-serialisable; every VU and teardown receive their own copy.
func (s *Script) Setup(ctx context.Context, env scenario.Env) (interface{}, error) {
	if !s.hasSetup {
		return nil, nil
	}
	rt, err := s.newRuntime(0, env, nil)
	if err != nil {
		return nil, err
	}
	v, err := rt.call(ctx, "setup")
	if err != nil {
		return nil, err
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}

	raw, err := json.Marshal(v.Export())
	if err != nil {
		return nil, fmt.Errorf("setup data is not serialisable: %w", err)
	}
	return json.RawMessage(raw), nil
}

// Teardown calls the exported teardown function, if any, with the setup data.
func (s *Script) Teardown(ctx context.Context, env scenario.Env, data interface{}) error {
	if !s.hasTeardown {
		return nil
	}
	rt, err := s.newRuntime(0, env, data)
	if err != nil {
		return err
	}
	_, err = rt.call(ctx, "teardown", rt.data)
	return err
}

// Close releases idle connections.
func (s *Script) Close() {
	s.client.CloseIdleConnections()
}

func exportedOptions(v goja.Value) (config.Options, error) {
	var o config.Options
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return o, nil
	}
	raw, err := json.Marshal(v.Export())
	if err != nil {
		return o, fmt.Errorf("options are not serialisable: %w", err)
	}
	if err := json.Unmarshal(raw, &o); err != nil {
		return o, fmt.Errorf("invalid options: %w", err)
	}
	return o, nil
}

var (
	importLine    = regexp.MustCompile(`(?m)^[ \t]*import\s[^\n]*$`)
	exportDefault = regexp.MustCompile(`(?m)^([ \t]*)export\s+default\s+`)
	exportDecl    = regexp.MustCompile(`(?m)^([ \t]*)export\s+(function\*?|const|let|var|class)\s+([A-Za-z_$][\w$]*)`)
)

// rewriteModule turns ES module syntax into a plain script that fills the
// global exports object. Line numbers are preserved.
func rewriteModule(src string) string {
	src = importLine.ReplaceAllString(src, "")
	src = exportDefault.ReplaceAllString(src, "${1}exports.default = ")

	var names []string
	src = exportDecl.ReplaceAllStringFunc(src, func(m string) string {
		parts := exportDecl.FindStringSubmatch(m)
		names = append(names, parts[3])
		return parts[1] + parts[2] + " " + parts[3]
	})

	if len(names) == 0 {
		return src
	}
	var sb strings.Builder
	sb.WriteString(src)
	sb.WriteString("\n;")
	for _, n := range names {
		fmt.Fprintf(&sb, "exports.%s = %s;", n, n)
	}
	return sb.String()
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(httpscenario.RequestResult) {}
