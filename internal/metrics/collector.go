// Package metrics aggregates a run's lifecycle signals into counters and
// latency percentiles, and optionally exports them to Prometheus.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"k8s.io/utils/clock"

	"github.com/wesleyorama2/vuramp/internal/events"
	"github.com/wesleyorama2/vuramp/internal/httpscenario"
)

// Collector is an events.Observer that keeps run totals and HDR histograms
// of iteration and request latencies.
//
// # Thread Safety
//
// Collector is safe for concurrent use. Counters use atomic operations and
// histograms are guarded by a mutex each, since RecordValue is not
// thread-safe.
type Collector struct {
	clock  clock.PassiveClock
	config Config
	prom   *Prometheus

	iterHist   *hdrhistogram.Histogram
	iterHistMu sync.Mutex

	requestHists   map[string]*hdrhistogram.Histogram
	requestHistsMu sync.Mutex

	iterations atomic.Int64
	failed     atomic.Int64
	timedOut   atomic.Int64

	requests       atomic.Int64
	failedRequests atomic.Int64
	bytes          atomic.Int64

	activeVUs atomic.Int64
	spawned   atomic.Int64
	stage     atomic.Int64
	target    atomic.Int64

	mu        sync.RWMutex
	runID     string
	startTime time.Time
	endTime   time.Time
	reason    events.Reason
}

// Config contains configuration for the collector.
type Config struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 3600000000 = 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

// Option configures a Collector.
type Option func(*Collector)

// WithClock sets the clock used for elapsed time and rates.
func WithClock(clk clock.PassiveClock) Option {
	return func(c *Collector) {
		c.clock = clk
	}
}

// WithPrometheus mirrors every signal into Prometheus metrics.
func WithPrometheus(p *Prometheus) Option {
	return func(c *Collector) {
		c.prom = p
	}
}

// WithConfig overrides the histogram configuration.
func WithConfig(cfg Config) Option {
	return func(c *Collector) {
		c.config = cfg
	}
}

// NewCollector creates a collector.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		clock:        clock.RealClock{},
		config:       DefaultConfig(),
		requestHists: make(map[string]*hdrhistogram.Histogram),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.iterHist = c.newHistogram()
	return c
}

var (
	_ events.Observer              = (*Collector)(nil)
	_ httpscenario.RequestRecorder = (*Collector)(nil)
)

func (c *Collector) newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(c.config.HistogramMin, c.config.HistogramMax, c.config.HistogramSigFigs)
}

func (c *Collector) clamp(d time.Duration) int64 {
	v := d.Microseconds()
	if v < c.config.HistogramMin {
		v = c.config.HistogramMin
	}
	if v > c.config.HistogramMax {
		v = c.config.HistogramMax
	}
	return v
}

// RunStarted implements events.Observer.
func (c *Collector) RunStarted(e events.RunStart) {
	c.mu.Lock()
	c.runID = e.RunID
	c.startTime = e.StartTime
	c.mu.Unlock()

	if c.prom != nil {
		c.prom.runStarted(e)
	}
}

// StageCrossed implements events.Observer.
func (c *Collector) StageCrossed(e events.StageCrossing) {
	c.stage.Store(int64(e.Stage))
	c.target.Store(int64(e.Target))
	if c.prom != nil {
		c.prom.stageCrossed(e)
	}
}

// VUSpawned implements events.Observer.
func (c *Collector) VUSpawned(int) {
	c.spawned.Add(1)
	active := c.activeVUs.Add(1)
	if c.prom != nil {
		c.prom.vusChanged(active, true)
	}
}

// VURetired implements events.Observer.
func (c *Collector) VURetired(int) {
	active := c.activeVUs.Add(-1)
	if c.prom != nil {
		c.prom.vusChanged(active, false)
	}
}

// IterationCompleted implements events.Observer.
func (c *Collector) IterationCompleted(e events.Iteration) {
	c.iterHistMu.Lock()
	c.iterHist.RecordValue(c.clamp(e.Duration))
	c.iterHistMu.Unlock()

	c.iterations.Add(1)
	switch e.Outcome {
	case events.OutcomeFailure:
		c.failed.Add(1)
	case events.OutcomeTimeout:
		c.timedOut.Add(1)
	}

	if c.prom != nil {
		c.prom.iterationCompleted(e)
	}
}

// RunEnded implements events.Observer.
func (c *Collector) RunEnded(e events.RunEnd) {
	c.mu.Lock()
	c.endTime = c.clock.Now()
	c.reason = e.Reason
	c.mu.Unlock()

	if c.prom != nil {
		c.prom.runEnded(e)
	}
}

// RecordRequest implements httpscenario.RequestRecorder.
func (c *Collector) RecordRequest(r httpscenario.RequestResult) {
	c.requestHistsMu.Lock()
	hist, ok := c.requestHists[r.Name]
	if !ok {
		hist = c.newHistogram()
		c.requestHists[r.Name] = hist
	}
	hist.RecordValue(c.clamp(r.Duration))
	c.requestHistsMu.Unlock()

	c.requests.Add(1)
	c.bytes.Add(r.BytesReceived)
	if r.Err != nil {
		c.failedRequests.Add(1)
	}

	if c.prom != nil {
		c.prom.requestCompleted(r)
	}
}

// Snapshot returns a point-in-time view of the collected metrics.
func (c *Collector) Snapshot() *Snapshot {
	c.mu.RLock()
	s := &Snapshot{
		RunID:     c.runID,
		StartTime: c.startTime,
		Reason:    c.reason,
	}
	end := c.endTime
	c.mu.RUnlock()

	if !s.StartTime.IsZero() {
		if end.IsZero() {
			end = c.clock.Now()
		}
		s.Elapsed = end.Sub(s.StartTime)
	}

	s.Iterations = c.iterations.Load()
	s.Failed = c.failed.Load()
	s.TimedOut = c.timedOut.Load()
	s.ActiveVUs = int(c.activeVUs.Load())
	s.SpawnedVUs = int(c.spawned.Load())
	s.Stage = int(c.stage.Load())
	s.Target = int(c.target.Load())
	s.Requests = c.requests.Load()
	s.FailedRequests = c.failedRequests.Load()
	s.BytesReceived = c.bytes.Load()

	if s.Elapsed > 0 {
		s.IterationsPerSecond = float64(s.Iterations) / s.Elapsed.Seconds()
		s.RequestsPerSecond = float64(s.Requests) / s.Elapsed.Seconds()
	}
	if s.Iterations > 0 {
		s.ErrorRate = float64(s.Failed+s.TimedOut) / float64(s.Iterations)
	}

	c.iterHistMu.Lock()
	s.IterationDuration = latencyStats(c.iterHist)
	c.iterHistMu.Unlock()

	c.requestHistsMu.Lock()
	if len(c.requestHists) > 0 {
		s.RequestDuration = make(map[string]LatencyStats, len(c.requestHists))
		for name, hist := range c.requestHists {
			s.RequestDuration[name] = latencyStats(hist)
		}
	}
	c.requestHistsMu.Unlock()

	return s
}

func latencyStats(hist *hdrhistogram.Histogram) LatencyStats {
	if hist.TotalCount() == 0 {
		return LatencyStats{}
	}
	return LatencyStats{
		Min:    time.Duration(hist.Min()) * time.Microsecond,
		Max:    time.Duration(hist.Max()) * time.Microsecond,
		Mean:   time.Duration(hist.Mean()) * time.Microsecond,
		StdDev: time.Duration(hist.StdDev()) * time.Microsecond,
		P50:    time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(hist.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(hist.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond,
		Count:  hist.TotalCount(),
	}
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	RunID     string        `json:"runId"`
	StartTime time.Time     `json:"startTime"`
	Elapsed   time.Duration `json:"elapsed"`
	Reason    events.Reason `json:"reason,omitempty"`

	Iterations          int64   `json:"iterations"`
	Failed              int64   `json:"failed"`
	TimedOut            int64   `json:"timedOut"`
	IterationsPerSecond float64 `json:"iterationsPerSecond"`
	ErrorRate           float64 `json:"errorRate"`

	ActiveVUs  int `json:"activeVUs"`
	SpawnedVUs int `json:"spawnedVUs"`
	Stage      int `json:"stage"`
	Target     int `json:"target"`

	Requests          int64   `json:"requests"`
	FailedRequests    int64   `json:"failedRequests"`
	BytesReceived     int64   `json:"bytesReceived"`
	RequestsPerSecond float64 `json:"requestsPerSecond"`

	IterationDuration LatencyStats            `json:"iterationDuration"`
	RequestDuration   map[string]LatencyStats `json:"requestDuration,omitempty"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}
