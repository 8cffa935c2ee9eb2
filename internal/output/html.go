package output

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"os"
	"strings"
	"time"

	"github.com/wesleyorama2/vuramp/internal/engine"
	"github.com/wesleyorama2/vuramp/internal/metrics"
	"github.com/wesleyorama2/vuramp/internal/ramp"
)

// Size of the ramp chart in the HTML report.
const (
	chartWidth  = 720
	chartHeight = 200
)

// reportData contains all data needed to render the HTML report.
type reportData struct {
	Result   *engine.Result
	Metrics  *metrics.Snapshot
	Stages   []reportStage
	Requests []reportRequest

	// RampPoints is the SVG polyline of the target curve.
	RampPoints string
	MaxTarget  int
	Generated  time.Time
}

type reportStage struct {
	Name     string
	From, To int
	Start    time.Duration
	Duration time.Duration
}

type reportRequest struct {
	Name    string
	Latency metrics.LatencyStats
}

// WriteHTMLFile renders the HTML report to path.
func WriteHTMLFile(path string, result *engine.Result, snap *metrics.Snapshot, tl ramp.Timeline) error {
	var buf bytes.Buffer
	if err := WriteHTML(&buf, result, snap, tl); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write HTML file: %w", err)
	}
	return nil
}

// WriteHTML renders a self-contained HTML report of a finished run.
func WriteHTML(w io.Writer, result *engine.Result, snap *metrics.Snapshot, tl ramp.Timeline) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}
	if snap == nil {
		snap = &metrics.Snapshot{}
	}

	data := reportData{
		Result:     result,
		Metrics:    snap,
		Stages:     reportStages(tl),
		RampPoints: rampPoints(tl),
		MaxTarget:  tl.MaxTarget(),
		Generated:  result.EndTime,
	}
	for _, name := range sortedKeys(snap.RequestDuration) {
		data.Requests = append(data.Requests, reportRequest{Name: name, Latency: snap.RequestDuration[name]})
	}

	return reportTemplate.Execute(w, data)
}

func reportStages(tl ramp.Timeline) []reportStage {
	stages := make([]reportStage, 0, len(tl.Stages))
	from, start := tl.StartTarget, time.Duration(0)
	for i, s := range tl.Stages {
		stages = append(stages, reportStage{
			Name:     tl.StageName(i),
			From:     from,
			To:       s.Target,
			Start:    start,
			Duration: s.Duration,
		})
		from = s.Target
		start += s.Duration
	}
	return stages
}

// rampPoints maps the stage breakpoints onto the chart area, target 0 at the
// bottom edge.
func rampPoints(tl ramp.Timeline) string {
	total := tl.TotalDuration()
	peak := tl.MaxTarget()
	if total <= 0 || peak <= 0 {
		return fmt.Sprintf("0,%d %d,%d", chartHeight, chartWidth, chartHeight)
	}

	point := func(at time.Duration, target int) string {
		x := float64(at) / float64(total) * chartWidth
		y := chartHeight - float64(target)/float64(peak)*chartHeight
		return fmt.Sprintf("%.1f,%.1f", x, y)
	}

	points := []string{point(0, tl.StartTarget)}
	var at time.Duration
	for _, s := range tl.Stages {
		at += s.Duration
		points = append(points, point(at, s.Target))
	}
	return strings.Join(points, " ")
}

func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatDuration": formatDuration,
	"formatLatency":  formatDurationShort,
	"formatNumber":   formatNumber,
	"formatBytes":    formatBytes,
	"percent":        func(f float64) string { return fmt.Sprintf("%.2f%%", f*100) },
}).Parse(reportHTML))

const reportHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{with .Result.Name}}{{.}}{{else}}vuramp{{end}} - Load Test Report</title>
<style>
  :root { --bg: #0f172a; --card: #1e293b; --text: #e2e8f0; --muted: #94a3b8; --ok: #22c55e; --bad: #ef4444; --line: #38bdf8; }
  body { margin: 0; padding: 2rem; background: var(--bg); color: var(--text); font-family: system-ui, sans-serif; }
  h1 { margin: 0 0 .25rem; }
  h2 { margin-top: 2rem; font-size: 1.1rem; color: var(--muted); text-transform: uppercase; letter-spacing: .05em; }
  .meta { color: var(--muted); }
  .status { display: inline-block; margin-top: .5rem; padding: .25rem .75rem; border-radius: 999px; font-weight: 600; }
  .status.pass { background: var(--ok); color: #052e16; }
  .status.fail { background: var(--bad); color: #450a0a; }
  .cards { display: grid; grid-template-columns: repeat(auto-fill, minmax(160px, 1fr)); gap: 1rem; }
  .card { background: var(--card); border-radius: .5rem; padding: 1rem; }
  .card .label { color: var(--muted); font-size: .8rem; }
  .card .value { font-size: 1.5rem; font-weight: 600; }
  table { width: 100%; border-collapse: collapse; background: var(--card); border-radius: .5rem; }
  th, td { padding: .5rem .75rem; text-align: left; border-bottom: 1px solid #334155; }
  th { color: var(--muted); font-weight: 500; }
  svg { background: var(--card); border-radius: .5rem; }
  polyline { fill: none; stroke: var(--line); stroke-width: 2; }
  footer { margin-top: 2rem; color: var(--muted); font-size: .8rem; }
</style>
</head>
<body>
<header>
  <h1>{{with .Result.Name}}{{.}}{{else}}vuramp{{end}}</h1>
  <div class="meta">Run {{.Result.RunID}} &middot; {{.Result.StartTime.Format "2006-01-02 15:04:05"}} &middot; {{formatDuration .Result.Duration}}</div>
  <div class="status {{if .Result.Succeeded}}pass{{else}}fail{{end}}">{{.Result.Reason}}</div>
</header>

<h2>Summary</h2>
<div class="cards">
  <div class="card"><div class="label">Iterations</div><div class="value">{{formatNumber .Result.Iterations}}</div></div>
  <div class="card"><div class="label">Failed</div><div class="value">{{formatNumber .Result.Failed}}</div></div>
  <div class="card"><div class="label">Timed out</div><div class="value">{{formatNumber .Result.TimedOut}}</div></div>
  <div class="card"><div class="label">Success rate</div><div class="value">{{percent .Result.SuccessRate}}</div></div>
  <div class="card"><div class="label">Peak VUs</div><div class="value">{{.Result.PeakVUs}}</div></div>
  <div class="card"><div class="label">Spawned VUs</div><div class="value">{{.Result.SpawnedVUs}}</div></div>
  <div class="card"><div class="label">Forced stops</div><div class="value">{{.Result.ForcedStops}}</div></div>
  <div class="card"><div class="label">Requests</div><div class="value">{{formatNumber .Metrics.Requests}}</div></div>
  <div class="card"><div class="label">Req/s</div><div class="value">{{printf "%.1f" .Metrics.RequestsPerSecond}}</div></div>
  <div class="card"><div class="label">Received</div><div class="value">{{formatBytes .Metrics.BytesReceived}}</div></div>
</div>
{{with .Result.TeardownErrorMessage}}<p class="meta">Teardown failed: {{.}}</p>{{end}}

<h2>Ramp</h2>
<svg width="{{.Width}}" height="{{.Height}}" viewBox="0 0 {{.Width}} {{.Height}}" role="img" aria-label="target VUs over time, peak {{.MaxTarget}}">
  <polyline points="{{.RampPoints}}"/>
</svg>
<table>
  <tr><th>Stage</th><th>Starts at</th><th>Duration</th><th>VUs</th></tr>
  {{range .Stages}}
  <tr><td>{{.Name}}</td><td>{{formatDuration .Start}}</td><td>{{formatDuration .Duration}}</td><td>{{.From}} &rarr; {{.To}}</td></tr>
  {{end}}
</table>

<h2>Iteration duration</h2>
<table>
  <tr><th>Count</th><th>Min</th><th>Mean</th><th>P50</th><th>P90</th><th>P95</th><th>P99</th><th>Max</th></tr>
  {{with .Metrics.IterationDuration}}
  <tr><td>{{formatNumber .Count}}</td><td>{{formatLatency .Min}}</td><td>{{formatLatency .Mean}}</td><td>{{formatLatency .P50}}</td><td>{{formatLatency .P90}}</td><td>{{formatLatency .P95}}</td><td>{{formatLatency .P99}}</td><td>{{formatLatency .Max}}</td></tr>
  {{end}}
</table>

{{if .Requests}}
<h2>Requests</h2>
<table>
  <tr><th>Request</th><th>Count</th><th>Min</th><th>Mean</th><th>P50</th><th>P95</th><th>P99</th><th>Max</th></tr>
  {{range .Requests}}
  <tr><td>{{.Name}}</td><td>{{formatNumber .Latency.Count}}</td><td>{{formatLatency .Latency.Min}}</td><td>{{formatLatency .Latency.Mean}}</td><td>{{formatLatency .Latency.P50}}</td><td>{{formatLatency .Latency.P95}}</td><td>{{formatLatency .Latency.P99}}</td><td>{{formatLatency .Latency.Max}}</td></tr>
  {{end}}
</table>
{{end}}

<footer>Generated by vuramp &middot; {{.Generated.Format "2006-01-02 15:04:05 MST"}}</footer>
</body>
</html>
`

// Width and Height expose the chart size to the template.
func (reportData) Width() int  { return chartWidth }
func (reportData) Height() int { return chartHeight }
