// Package runerrors contains the error types produced while preparing and
// executing a load run.
//
// Only ConfigError and SetupError abort a run. Every other error is scoped to
// a single iteration or a single virtual user and is surfaced as a counted
// event instead of being returned to the caller.
package runerrors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIterationTimeout is reported for an iteration that exceeded the
// configured per-iteration budget. The VU running it is force-stopped.
var ErrIterationTimeout = errors.New("iteration timed out")

// ConfigError is returned before a run starts when the stage timeline or the
// run options are invalid.
type ConfigError struct {
	// Field is the offending option, e.g. "stages[2].duration". Optional.
	Field string
	// Message describes the problem.
	Message string
	// Err is an optional underlying cause.
	Err error
}

func (err *ConfigError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid configuration")
	if err.Field != "" {
		sb.WriteString(fmt.Sprintf(" on field '%s'", err.Field))
	}
	if err.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(err.Message)
	}
	if err.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(err.Err.Error())
	}
	return sb.String()
}

func (err *ConfigError) Unwrap() error {
	return err.Err
}

// NewConfigError is a convenience constructor for field-level config errors.
func NewConfigError(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// SetupError wraps a failure of the one-time setup hook. It is fatal: no VU
// is started and teardown is not invoked.
type SetupError struct {
	Err error
}

func (err *SetupError) Error() string {
	return fmt.Sprintf("setup failed: %v", err.Err)
}

func (err *SetupError) Unwrap() error {
	return err.Err
}

// IterationError wraps a failure raised by a single scenario iteration.
type IterationError struct {
	VUID      int
	Iteration int64
	Err       error
}

func (err *IterationError) Error() string {
	return fmt.Sprintf("vu %d iteration %d: %v", err.VUID, err.Iteration, err.Err)
}

func (err *IterationError) Unwrap() error {
	return err.Err
}

// TeardownError wraps a failure of the one-time teardown hook. It is
// reported on the run result but does not fail the run.
type TeardownError struct {
	Err error
}

func (err *TeardownError) Error() string {
	return fmt.Sprintf("teardown failed: %v", err.Err)
}

func (err *TeardownError) Unwrap() error {
	return err.Err
}

// PanicError is produced when scenario code panics. The panic is recovered
// and treated as an ordinary iteration (or hook) failure.
type PanicError struct {
	Value interface{}
}

func (err *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", err.Value)
}

// IsConfigError reports whether err is, or wraps, a ConfigError.
func IsConfigError(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}

// IsSetupError reports whether err is, or wraps, a SetupError.
func IsSetupError(err error) bool {
	var e *SetupError
	return errors.As(err, &e)
}
