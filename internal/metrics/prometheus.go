package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/vuramp/internal/events"
	"github.com/wesleyorama2/vuramp/internal/httpscenario"
)

const namespace = "vuramp"

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Prometheus holds the exported metrics of a run on a private registry.
type Prometheus struct {
	registry *prometheus.Registry

	running           prometheus.Gauge
	activeVUs         prometheus.Gauge
	targetVUs         prometheus.Gauge
	stage             prometheus.Gauge
	spawnedVUs        prometheus.Counter
	iterations        *prometheus.CounterVec
	iterationDuration prometheus.Histogram
	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	forcedStops       prometheus.Counter
}

// NewPrometheus registers the run metrics, plus the Go and process
// collectors, on a new registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running",
			Help:      "1 while the ramping phase is in progress",
		}),
		activeVUs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vus",
			Help:      "Number of VUs not yet retired",
		}),
		targetVUs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_target_vus",
			Help:      "Target concurrency at the last crossed stage boundary",
		}),
		stage: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage",
			Help:      "Index of the current stage",
		}),
		spawnedVUs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vus_spawned_total",
			Help:      "Number of VUs started",
		}),
		iterations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Number of finished iterations by outcome",
		}, []string{"outcome"}),
		iterationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iteration_duration_seconds",
			Help:      "Duration of finished iterations",
			Buckets:   durationBuckets,
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Number of HTTP requests by request name and result",
		}, []string{"name", "result"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests by request name",
			Buckets:   durationBuckets,
		}, []string{"name"}),
		forcedStops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forced_stops_total",
			Help:      "Number of VUs interrupted when the graceful stop period ran out",
		}),
	}
}

// Registry returns the registry the metrics live on.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (p *Prometheus) Serve(ctx context.Context, addr string, logger logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("metrics server didn't shut down cleanly")
		}
	}()

	logger.WithField("addr", addr).Info("serving prometheus metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (p *Prometheus) runStarted(events.RunStart) {
	p.running.Set(1)
}

func (p *Prometheus) stageCrossed(e events.StageCrossing) {
	p.stage.Set(float64(e.Stage))
	p.targetVUs.Set(float64(e.Target))
}

func (p *Prometheus) vusChanged(active int64, spawned bool) {
	p.activeVUs.Set(float64(active))
	if spawned {
		p.spawnedVUs.Inc()
	}
}

func (p *Prometheus) iterationCompleted(e events.Iteration) {
	p.iterations.WithLabelValues(e.Outcome.String()).Inc()
	p.iterationDuration.Observe(e.Duration.Seconds())
}

func (p *Prometheus) requestCompleted(r httpscenario.RequestResult) {
	result := "success"
	if r.Err != nil {
		result = "failure"
	}
	p.requests.WithLabelValues(r.Name, result).Inc()
	p.requestDuration.WithLabelValues(r.Name).Observe(r.Duration.Seconds())
}

func (p *Prometheus) runEnded(e events.RunEnd) {
	p.running.Set(0)
	p.forcedStops.Add(float64(e.ForcedStops))
}
