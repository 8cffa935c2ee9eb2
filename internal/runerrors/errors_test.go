package runerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ConfigError
		want string
	}{
		{
			name: "field and message",
			err:  NewConfigError("stages[0].duration", "must be > 0, got %s", "0s"),
			want: "invalid configuration on field 'stages[0].duration': must be > 0, got 0s",
		},
		{
			name: "message only",
			err:  &ConfigError{Message: "stages are required"},
			want: "invalid configuration: stages are required",
		},
		{
			name: "wrapped cause",
			err:  &ConfigError{Field: "options", Err: errors.New("boom")},
			want: "invalid configuration on field 'options': boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("connection refused")

	cfgErr := fmt.Errorf("loading: %w", NewConfigError("vus", "cannot be negative"))
	assert.True(t, IsConfigError(cfgErr))
	assert.False(t, IsSetupError(cfgErr))

	setupErr := fmt.Errorf("run: %w", &SetupError{Err: cause})
	assert.True(t, IsSetupError(setupErr))
	assert.ErrorIs(t, setupErr, cause)

	iterErr := &IterationError{VUID: 3, Iteration: 7, Err: ErrIterationTimeout}
	assert.ErrorIs(t, iterErr, ErrIterationTimeout)
	assert.Equal(t, "vu 3 iteration 7: iteration timed out", iterErr.Error())

	tdErr := &TeardownError{Err: cause}
	assert.ErrorIs(t, tdErr, cause)
	assert.Contains(t, tdErr.Error(), "teardown failed")
}
