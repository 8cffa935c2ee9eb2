// Package output renders run progress and the final summary on a console,
// and writes machine-readable run reports.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/vuramp/internal/engine"
	"github.com/wesleyorama2/vuramp/internal/events"
	"github.com/wesleyorama2/vuramp/internal/metrics"
	"github.com/wesleyorama2/vuramp/internal/ramp"
)

const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	boxHorizontal = "━"

	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Phase      string
	Progress   float64
	Elapsed    time.Duration
	Total      time.Duration
	Stage      int // 1-indexed
	Stages     int
	StageName  string
	LiveVUs    int
	Draining   int
	TargetVUs  int
	Iterations int64
	Failed     int64
	Rate       float64
	P95        time.Duration
}

// LiveStatsFrom combines an engine view and a collector snapshot.
func LiveStatsFrom(s engine.Stats, tl ramp.Timeline, snap *metrics.Snapshot) *LiveStats {
	ls := &LiveStats{
		Phase:      s.Phase.String(),
		Progress:   s.Progress,
		Elapsed:    s.Elapsed,
		Total:      tl.TotalDuration(),
		Stage:      s.Stage + 1,
		Stages:     len(tl.Stages),
		StageName:  s.StageName,
		LiveVUs:    s.Live,
		Draining:   s.Draining,
		TargetVUs:  s.Target,
		Iterations: s.Iterations,
		Failed:     s.Failed + s.TimedOut,
	}
	if ls.Stage > ls.Stages {
		ls.Stage = ls.Stages
	}
	if snap != nil {
		ls.Rate = snap.IterationsPerSecond
		ls.P95 = snap.IterationDuration.P95
	}
	return ls
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer   io.Writer
	Quiet    bool
	NoColor  bool
	ForceTTY bool
}

// Console manages console output during a run. It observes stage crossings
// and ignores the other signals.
type Console struct {
	events.Nop

	writer io.Writer
	isTTY  bool
	quiet  bool
	colors *ColorScheme
	plain  bool

	mu          sync.Mutex
	linesOutput int
}

// NewConsole creates a console writer. Colors are used only on a terminal
// that supports them, unless disabled.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	isTTY := cfg.ForceTTY || IsTerminal(cfg.Writer)
	plain := cfg.NoColor || !isTTY || !supportsColors()

	colors := ForcedColorScheme()
	if plain {
		colors = NoColorScheme()
	}

	return &Console{
		writer: cfg.Writer,
		isTTY:  isTTY,
		quiet:  cfg.Quiet,
		colors: colors,
		plain:  plain,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header with its stage table.
func (c *Console) PrintHeader(name, runID string, tl ramp.Timeline) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, 56)
	if name == "" {
		name = "vuramp"
	}

	c.writeln(c.colors.Frame.Sprint(line))
	c.writeln(fmt.Sprintf("%s %s", c.colors.Title.Sprint(name), c.colors.Dim.Sprintf("(run %s)", runID)))
	c.writeln(c.colors.Frame.Sprint(line))

	c.writeln(fmt.Sprintf("Duration:  %s   Max VUs: %s",
		c.colors.Value.Sprint(formatDuration(tl.TotalDuration())),
		c.colors.Value.Sprint(tl.MaxTarget())))

	from := tl.StartTarget
	for i, s := range tl.Stages {
		c.writeln(fmt.Sprintf("  %s %-10s %6s  %d → %d",
			c.colors.Stage.Sprintf("%2d.", i+1),
			tl.StageName(i),
			formatDuration(s.Duration),
			from, s.Target))
		from = s.Target
	}
	c.writeln("")
}

// Update refreshes the live display. Off a terminal it prints one line.
func (c *Console) Update(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isTTY {
		c.writeln(c.statusLine(stats))
		return
	}

	c.clearLive()
	lines := c.renderLive(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

func (c *Console) renderLive(s *LiveStats) []string {
	progress := fmt.Sprintf("Progress: %s %s | %s",
		c.colors.Good.Sprint(renderProgressBar(s.Progress, 40)),
		c.colors.Title.Sprintf("%3.0f%%", s.Progress*100),
		c.colors.Dim.Sprintf("%s / %s", formatDuration(s.Elapsed), formatDuration(s.Total)))

	stage := fmt.Sprintf("Stage:    %s",
		c.colors.Stage.Sprintf("%s (%d/%d) [%s]", s.StageName, s.Stage, s.Stages, s.Phase))

	failureRate := 0.0
	if s.Iterations > 0 {
		failureRate = float64(s.Failed) / float64(s.Iterations)
	}
	rate := c.colors.Rate(failureRate)

	vus := fmt.Sprintf("VUs:      %s / %d   draining %d",
		c.colors.Value.Sprint(s.LiveVUs), s.TargetVUs, s.Draining)
	iters := fmt.Sprintf("Iters:    %s   %s it/s   failed %s   p95 %s",
		c.colors.Value.Sprint(formatNumber(s.Iterations)),
		c.colors.Good.Sprintf("%.1f", s.Rate),
		rate.Sprintf("%d (%.1f%%)", s.Failed, failureRate*100),
		c.colors.Latency.Sprint(formatDurationShort(s.P95)))

	return []string{progress, stage, vus, iters}
}

func (c *Console) statusLine(s *LiveStats) string {
	return fmt.Sprintf("[%s] %s %.0f%% | stage %d/%d | VUs %d/%d | iters %d | failed %d | %.1f it/s",
		formatDuration(s.Elapsed), s.Phase, s.Progress*100,
		s.Stage, s.Stages, s.LiveVUs, s.TargetVUs,
		s.Iterations, s.Failed, s.Rate)
}

func (c *Console) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

// Report calls stats every interval and displays the result until ctx is
// done.
func (c *Console) Report(ctx context.Context, interval time.Duration, stats func() *LiveStats) {
	if c.quiet {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Update(stats())
		}
	}
}

// PrintSummary prints the final run summary. snap may be nil.
func (c *Console) PrintSummary(result *engine.Result, snap *metrics.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		if result.Succeeded() {
			c.writeln(c.colors.Good.Sprint("COMPLETED"))
		} else {
			c.writeln(c.colors.Bad.Sprint(strings.ToUpper(string(result.Reason))))
		}
		return
	}

	if c.isTTY {
		c.clearLive()
	}

	line := strings.Repeat(boxHorizontal, 56)
	status := c.colors.Good.Sprint("Completed ✓")
	if !result.Succeeded() {
		status = c.colors.Bad.Sprintf("%s ✗", result.Reason)
	}
	name := result.Name
	if name == "" {
		name = "vuramp"
	}

	c.writeln("")
	c.writeln(c.colors.Frame.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(name), status))
	c.writeln(c.colors.Frame.Sprint(line))
	c.writeln("")

	failureRate := 1 - result.SuccessRate()
	if result.Iterations == 0 {
		failureRate = 0
	}

	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(result.Duration))))
	c.writeln(fmt.Sprintf("Iterations:    %s", c.colors.Value.Sprint(formatNumber(result.Iterations))))
	c.writeln(fmt.Sprintf("Failed:        %s", c.colors.Rate(failureRate).Sprintf("%d (%.1f%%)", result.Failed, failureRate*100)))
	if result.TimedOut > 0 {
		c.writeln(fmt.Sprintf("Timed out:     %s", c.colors.Warn.Sprint(result.TimedOut)))
	}
	c.writeln(fmt.Sprintf("VUs:           %s spawned, %s peak", c.colors.Value.Sprint(result.SpawnedVUs), c.colors.Value.Sprint(result.PeakVUs)))
	c.writeln(fmt.Sprintf("Stages:        %d crossed", result.StagesCrossed))
	if result.ForcedStops > 0 {
		c.writeln(fmt.Sprintf("%s %d VUs were interrupted after the graceful stop period", WarningIcon(c.plain), result.ForcedStops))
	}
	if result.TeardownErrorMessage != "" {
		c.writeln(fmt.Sprintf("%s %s", ErrorIcon(c.plain), c.colors.Bad.Sprint(result.TeardownErrorMessage)))
	}
	c.writeln("")

	if snap == nil || snap.IterationDuration.Count == 0 {
		return
	}

	c.writeln(c.colors.Title.Sprint("Iteration Duration:"))
	c.writeLatency(snap.IterationDuration)
	c.writeln("")

	if snap.Requests > 0 {
		c.writeln(fmt.Sprintf("%s %s requests, %s failed, %.1f req/s",
			c.colors.Title.Sprint("HTTP:"),
			formatNumber(snap.Requests),
			formatNumber(snap.FailedRequests),
			snap.RequestsPerSecond))
		for _, name := range sortedKeys(snap.RequestDuration) {
			st := snap.RequestDuration[name]
			c.writeln(fmt.Sprintf("  %-30s p50 %-8s p95 %-8s max %s", name,
				formatDurationShort(st.P50), formatDurationShort(st.P95), formatDurationShort(st.Max)))
		}
		c.writeln("")
	}
}

func (c *Console) writeLatency(st metrics.LatencyStats) {
	rows := []struct {
		label string
		value time.Duration
	}{
		{"Min", st.Min}, {"P50", st.P50}, {"P90", st.P90},
		{"P95", st.P95}, {"P99", st.P99}, {"Max", st.Max},
	}
	for _, r := range rows {
		c.writeln(fmt.Sprintf("  %-10s %s", r.label+":", c.colors.Latency.Sprint(formatDurationShort(r.value))))
	}
}

// StageCrossed prints stage transitions when there is no live display.
func (c *Console) StageCrossed(e events.StageCrossing) {
	if c.quiet || c.isTTY {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.Final {
		c.writeln(fmt.Sprintf("[%s] timeline finished at %d VUs", formatDuration(e.At), e.Target))
		return
	}
	c.writeln(fmt.Sprintf("[%s] entering stage %d (%s) from %d VUs", formatDuration(e.At), e.Stage+1, e.Name, e.Target))
}

// Report is the machine-readable run report.
type Report struct {
	Result  *engine.Result    `json:"result"`
	Metrics *metrics.Snapshot `json:"metrics,omitempty"`
}

// WriteJSON writes the run report as indented JSON.
func WriteJSON(w io.Writer, result *engine.Result, snap *metrics.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Report{Result: result, Metrics: snap})
}

func sortedKeys(m map[string]metrics.LatencyStats) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// formatDurationShort formats a duration in a short format.
func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
