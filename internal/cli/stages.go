package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/vuramp/internal/config"
)

// parseStages parses stages from CLI format "30s:10,2m:10,30s:0". A stage may
// carry a name as a third field: "30s:10:warmup".
func parseStages(stagesStr string) ([]config.StageConfig, error) {
	var stages []config.StageConfig

	parts := strings.Split(stagesStr, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		fields := strings.Split(part, ":")
		if len(fields) < 2 || len(fields) > 3 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}
		durationStr, targetStr := fields[0], fields[1]

		d, err := time.ParseDuration(durationStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration '%s': %w", i+1, durationStr, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("stage %d: duration must be greater than 0", i+1)
		}

		target, err := strconv.Atoi(targetStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, targetStr, err)
		}
		if target < 0 {
			return nil, fmt.Errorf("stage %d: target cannot be negative", i+1)
		}

		stage := config.StageConfig{
			Duration: config.DurationString(durationStr),
			Target:   target,
		}
		if len(fields) == 3 {
			stage.Name = fields[2]
		}
		stages = append(stages, stage)
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}

	return stages, nil
}
