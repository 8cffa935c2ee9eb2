package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/vuramp/internal/config"
	"github.com/wesleyorama2/vuramp/internal/engine"
	"github.com/wesleyorama2/vuramp/internal/events"
	"github.com/wesleyorama2/vuramp/internal/httpscenario"
	"github.com/wesleyorama2/vuramp/internal/jsscenario"
	"github.com/wesleyorama2/vuramp/internal/metrics"
	"github.com/wesleyorama2/vuramp/internal/output"
	"github.com/wesleyorama2/vuramp/internal/runerrors"
	"github.com/wesleyorama2/vuramp/internal/scenario"
)

// reportInterval is how often the live progress is redrawn.
const reportInterval = time.Second

// RunFailedError is returned when a run ended other than by completing its
// timeline.
type RunFailedError struct {
	Reason events.Reason
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("run ended: %s", e.Reason)
}

// runOptions are the flags of the run command.
type runOptions struct {
	url        string
	method     string
	body       string
	stages     string
	vus        int
	duration   string
	iterations int64

	env              []string
	includeSystemEnv bool
	insecure         bool

	jsonOut     bool
	out         string
	html        string
	metricsAddr string
	quiet       bool
	noColor     bool
}

func runOptionsFrom(v *viper.Viper) runOptions {
	return runOptions{
		url:              v.GetString("url"),
		method:           v.GetString("method"),
		body:             v.GetString("body"),
		stages:           v.GetString("stages"),
		vus:              v.GetInt("vus"),
		duration:         v.GetString("duration"),
		iterations:       v.GetInt64("iterations"),
		env:              v.GetStringSlice("env"),
		includeSystemEnv: v.GetBool("include-system-env"),
		insecure:         v.GetBool("insecure"),
		jsonOut:          v.GetBool("json"),
		out:              v.GetString("out"),
		html:             v.GetString("html"),
		metricsAddr:      v.GetString("metrics-addr"),
		quiet:            v.GetBool("quiet"),
		noColor:          v.GetBool("no-color"),
	}
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [scenario.yaml|scenario.json|script.js]",
		Short: "Run a staged load test",
		Long: `Run a load test from a scenario document, a script, or flags.

Scenario document mode:
  vuramp run scenario.yaml

Script mode:
  vuramp run --env MESSAGE=hello run.js

Quick CLI mode (single request):
  vuramp run --url https://api.example.com/health \
    --stages "30s:10,2m:10,30s:0"

Flat mode:
  vuramp run --url https://api.example.com/health --vus 20 --duration 1m

--stages, --vus, --duration and --iterations override the options of a
document or script. Every flag can also be set as VURAMP_<FLAG>, e.g.
VURAMP_METRICS_ADDR=:9090.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			// The first signal drains the run; a second one kills the process.
			go func() {
				<-ctx.Done()
				stop()
			}()

			return runTest(ctx, path, runOptionsFrom(v), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.String("url", "", "URL to test (alternative to a scenario file)")
	f.StringP("method", "X", "GET", "HTTP method for --url")
	f.StringP("body", "b", "", "Request body for --url")
	f.String("stages", "", "Stages in format 'duration:target,duration:target,...'")
	f.Int("vus", 0, "Number of virtual users (flat mode)")
	f.String("duration", "", "Test duration for flat mode (e.g., 5m, 30s)")
	f.Int64("iterations", 0, "Total iteration cap across all VUs")
	f.StringSliceP("env", "e", nil, "Environment value exposed to the scenario, KEY=VALUE (repeatable)")
	f.Bool("include-system-env", false, "Expose the process environment to the scenario")
	f.BoolP("insecure", "k", false, "Skip TLS certificate verification")
	f.Bool("json", false, "Output results as JSON")
	f.StringP("out", "o", "", "Write JSON results to a file")
	f.String("html", "", "Write an HTML report to a file")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g., :9090)")
	f.BoolP("quiet", "q", false, "Disable live progress output, show only final summary")
	f.Bool("no-color", false, "Disable colored output")
	v.BindPFlags(f)

	return cmd
}

// workload is what a run executes.
type workload struct {
	name  string
	plan  *config.Plan
	host  scenario.Scenario
	close func()
	// after is called once the run has ended.
	after func(logger logrus.FieldLogger)
}

// runTest loads the workload, runs it and reports the result.
func runTest(ctx context.Context, path string, opts runOptions, stdout io.Writer) error {
	logger := logrus.StandardLogger()

	env, err := runEnv(opts)
	if err != nil {
		return err
	}

	var prom *metrics.Prometheus
	collectorOpts := []metrics.Option{}
	if opts.metricsAddr != "" {
		prom = metrics.NewPrometheus()
		collectorOpts = append(collectorOpts, metrics.WithPrometheus(prom))
	}
	collector := metrics.NewCollector(collectorOpts...)

	w, err := loadWorkload(path, opts, env, collector, logger)
	if err != nil {
		return err
	}
	defer w.close()

	jsonToStdout := opts.jsonOut && opts.out == ""
	console := output.NewConsole(output.ConsoleConfig{
		Writer:  stdout,
		Quiet:   opts.quiet || jsonToStdout,
		NoColor: opts.noColor,
	})

	eng, err := engine.New(w.plan, w.host,
		engine.WithObserver(collector, console),
		engine.WithLogger(logger),
		engine.WithEnv(env),
	)
	if err != nil {
		return err
	}

	console.PrintHeader(w.name, eng.RunID(), w.plan.Timeline)

	g, gctx := errgroup.WithContext(ctx)
	reportCtx, stopReport := context.WithCancel(gctx)
	defer stopReport()

	var result *engine.Result
	var runErr error
	g.Go(func() error {
		defer stopReport()
		result, runErr = eng.Run(gctx)
		return nil
	})
	g.Go(func() error {
		console.Report(reportCtx, reportInterval, func() *output.LiveStats {
			return output.LiveStatsFrom(eng.Stats(), w.plan.Timeline, collector.Snapshot())
		})
		return nil
	})
	if prom != nil {
		g.Go(func() error {
			if err := prom.Serve(reportCtx, opts.metricsAddr, logger); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	groupErr := g.Wait()

	if w.after != nil {
		w.after(logger)
	}
	if result == nil {
		return errors.Join(runErr, groupErr)
	}

	snap := collector.Snapshot()
	if jsonToStdout {
		if err := output.WriteJSON(stdout, result, snap); err != nil {
			return err
		}
	} else {
		console.PrintSummary(result, snap)
	}
	if opts.out != "" {
		if err := writeResultFile(opts.out, result, snap); err != nil {
			return err
		}
	}
	if opts.html != "" {
		if err := output.WriteHTMLFile(opts.html, result, snap, w.plan.Timeline); err != nil {
			return err
		}
	}

	if runErr != nil || groupErr != nil {
		return errors.Join(runErr, groupErr)
	}
	if !result.Succeeded() {
		return &RunFailedError{Reason: result.Reason}
	}
	return nil
}

// runEnv merges the environment values exposed to the scenario. --env wins
// over the process environment.
func runEnv(opts runOptions) (map[string]string, error) {
	pairs, err := scenario.ParseEnvPairs(opts.env)
	if err != nil {
		return nil, err
	}
	if !opts.includeSystemEnv {
		return pairs, nil
	}
	return scenario.NewEnv(scenario.SystemEnv(), pairs), nil
}

// loadWorkload picks the scenario host from the file extension, or builds a
// single-request scenario from --url.
func loadWorkload(path string, opts runOptions, env map[string]string, rec httpscenario.RequestRecorder, logger logrus.FieldLogger) (*workload, error) {
	switch {
	case strings.EqualFold(filepath.Ext(path), ".js"):
		return loadScript(path, opts, env, rec, logger)

	case path != "":
		cfg, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		return documentWorkload(cfg, opts, rec, logger)

	case opts.url != "":
		cfg, err := buildConfigFromCLI(opts)
		if err != nil {
			return nil, err
		}
		return documentWorkload(cfg, opts, rec, logger)
	}

	return nil, errors.New("either a scenario file or --url is required")
}

func documentWorkload(cfg *config.TestConfig, opts runOptions, rec httpscenario.RequestRecorder, logger logrus.FieldLogger) (*workload, error) {
	if err := applyOverrides(&cfg.Options, opts); err != nil {
		return nil, err
	}
	plan, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	host, err := httpscenario.New(cfg.Scenario, httpscenario.Options{
		InsecureSkipTLSVerify: plan.InsecureSkipTLSVerify || opts.insecure,
		Recorder:              rec,
		Logger:                logger,
	})
	if err != nil {
		return nil, &runerrors.ConfigError{Field: "scenario", Message: "cannot build scenario", Err: err}
	}

	return &workload{name: displayName(cfg.Name, "vuramp"), plan: plan, host: host, close: host.Close}, nil
}

func loadScript(path string, opts runOptions, env map[string]string, rec httpscenario.RequestRecorder, logger logrus.FieldLogger) (*workload, error) {
	script, err := jsscenario.Load(path, jsscenario.Options{
		Env:                   env,
		InsecureSkipTLSVerify: opts.insecure,
		Recorder:              rec,
		Logger:                logger,
	})
	if err != nil {
		return nil, err
	}

	var plan *config.Plan
	if hasOverrides(opts) {
		o := script.Options()
		if err := applyOverrides(&o, opts); err != nil {
			return nil, err
		}
		plan, err = config.ResolveOptions(script.Name(), o, nil)
	} else {
		plan, err = script.Plan()
	}
	if err != nil {
		return nil, err
	}

	return &workload{
		name:  filepath.Base(path),
		plan:  plan,
		host:  script,
		close: script.Close,
		after: func(logger logrus.FieldLogger) {
			if passed, failed := script.Checks(); passed+failed > 0 {
				logger.WithFields(logrus.Fields{"passed": passed, "failed": failed}).Info("checks")
			}
		},
	}, nil
}

func hasOverrides(opts runOptions) bool {
	return opts.stages != "" || opts.vus > 0 || opts.duration != "" || opts.iterations > 0
}

// applyOverrides lets flags replace the workload options. --stages replaces
// any stage list; --vus and --duration switch to flat mode.
func applyOverrides(o *config.Options, opts runOptions) error {
	if opts.stages != "" {
		stages, err := parseStages(opts.stages)
		if err != nil {
			return fmt.Errorf("invalid stages format: %w", err)
		}
		o.Stages = stages
		o.VUs = nil
		o.Duration = ""
	} else if opts.vus > 0 || opts.duration != "" {
		o.Stages = nil
		if opts.vus > 0 {
			vus := opts.vus
			o.VUs = &vus
		}
		if opts.duration != "" {
			o.Duration = config.DurationString(opts.duration)
		}
	}
	if opts.iterations > 0 {
		o.Iterations = opts.iterations
	}
	if opts.insecure {
		o.InsecureSkipTLSVerify = true
	}
	return nil
}

// buildConfigFromCLI builds a single-request TestConfig from CLI flags
func buildConfigFromCLI(opts runOptions) (*config.TestConfig, error) {
	cfg := &config.TestConfig{
		Name:        "CLI Test",
		Description: fmt.Sprintf("Test generated from CLI flags for %s", opts.url),
		Scenario: config.ScenarioConfig{
			Requests: []config.RequestConfig{
				{
					Name:   "cli-request",
					Method: strings.ToUpper(opts.method),
					URL:    opts.url,
					Body:   opts.body,
				},
			},
		},
	}

	// Default flat run when no shape was given
	if opts.stages == "" && opts.duration == "" {
		cfg.Options.Duration = "30s"
	}
	if opts.stages == "" && opts.vus == 0 {
		vus := 10
		cfg.Options.VUs = &vus
	}
	return cfg, nil
}

func writeResultFile(path string, result *engine.Result, snap *metrics.Snapshot) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := output.WriteJSON(f, result, snap); err != nil {
		f.Close()
		return fmt.Errorf("failed to write results: %w", err)
	}
	return f.Close()
}

func displayName(name, def string) string {
	if name == "" {
		return def
	}
	return name
}
