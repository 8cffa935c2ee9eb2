package output

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/vuramp/internal/events"
	"github.com/wesleyorama2/vuramp/internal/metrics"
	"github.com/wesleyorama2/vuramp/internal/ramp"
)

func TestWriteHTML(t *testing.T) {
	snap := &metrics.Snapshot{
		Requests:      400,
		BytesReceived: 2048,
		IterationDuration: metrics.LatencyStats{
			Count: 12345,
			P95:   120 * time.Millisecond,
		},
		RequestDuration: map[string]metrics.LatencyStats{
			"login": {Count: 200, Max: 2 * time.Second},
			"hello": {Count: 200},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, sampleResult(), snap, sampleTimeline()))
	out := buf.String()

	assert.Contains(t, out, "<title>grpc-ramp - Load Test Report</title>")
	assert.Contains(t, out, `class="status pass">completed`)
	assert.Contains(t, out, "12,345")
	assert.Contains(t, out, "2.00 KB")
	assert.Contains(t, out, "<td>peak</td>")
	assert.Contains(t, out, "<td>stage-1</td>")
	assert.Contains(t, out, "100 &rarr; 750")
	assert.Contains(t, out, "120ms")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("<td>hello</td>")), bytes.Index(buf.Bytes(), []byte("<td>login</td>")))
}

func TestWriteHTML_FailedRun(t *testing.T) {
	result := sampleResult()
	result.Name = ""
	result.Reason = events.ReasonCancelled

	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, result, nil, ramp.Flat(5, time.Minute)))
	assert.Contains(t, buf.String(), "<h1>vuramp</h1>")
	assert.Contains(t, buf.String(), `class="status fail">cancelled`)

	assert.Error(t, WriteHTML(&buf, nil, nil, ramp.Timeline{}))
}

func TestWriteHTMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.html")
	require.NoError(t, WriteHTMLFile(path, sampleResult(), &metrics.Snapshot{}, sampleTimeline()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<!DOCTYPE html>")
}

func TestRampPoints(t *testing.T) {
	assert.Equal(t, "0.0,200.0 240.0,173.3 480.0,0.0 720.0,192.0", rampPoints(sampleTimeline()))
	assert.Equal(t, "0.0,0.0 720.0,0.0", rampPoints(ramp.Flat(5, time.Minute)))
	assert.Equal(t, "0,200 720,200", rampPoints(ramp.Timeline{}))
}
