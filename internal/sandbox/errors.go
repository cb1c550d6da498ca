package sandbox

import (
	"errors"
	"fmt"
)

// Phase identifies why a script is being executed.
type Phase uint8

const (
	PhaseInit Phase = iota
	PhaseValidate
	PhaseRun
)

// String returns the phase name as shown in logs.
func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "INIT"
	case PhaseValidate:
		return "VALIDATE"
	case PhaseRun:
		return "RUN"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrStepLimit is the cause of every ScriptTimeoutError.
	ErrStepLimit = errors.New("step limit exceeded")
	// ErrAborted is reported when a call was cut short by Abort or by
	// cancellation of the match context.
	ErrAborted = errors.New("script aborted")
	// ErrMemoryLimit is reported when a script builds a string longer than
	// the configured maximum or holds more data than its memory allowance.
	ErrMemoryLimit = errors.New("memory limit exceeded")
)

// ScriptLoadError means a script could not be read, compiled, or could not
// finish executing its top-level chunk.
type ScriptLoadError struct {
	Script string
	Err    error
}

func (e *ScriptLoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Script, e.Err)
}

func (e *ScriptLoadError) Unwrap() error { return e.Err }

// ScriptRuntimeError wraps an error raised while a script entry point ran.
type ScriptRuntimeError struct {
	Script string
	Phase  Phase
	Err    error
}

func (e *ScriptRuntimeError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Script, e.Phase, e.Err)
}

func (e *ScriptRuntimeError) Unwrap() error { return e.Err }

// ScriptTimeoutError means a call used more VM instructions than its budget.
type ScriptTimeoutError struct {
	Script string
	Phase  Phase
	Limit  int64
}

func (e *ScriptTimeoutError) Error() string {
	return fmt.Sprintf("%s %s: exceeded %d steps", e.Script, e.Phase, e.Limit)
}

func (e *ScriptTimeoutError) Unwrap() error { return ErrStepLimit }

// ScriptValidationFailure rejects a script before it is admitted to a match.
type ScriptValidationFailure struct {
	Script string
	Reason string
	Err    error
}

func (e *ScriptValidationFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validate %s: %s: %v", e.Script, e.Reason, e.Err)
	}
	return fmt.Sprintf("validate %s: %s", e.Script, e.Reason)
}

func (e *ScriptValidationFailure) Unwrap() error { return e.Err }

// IsContained reports whether err is a script failure that should disable
// the offending participant while the match continues.
func IsContained(err error) bool {
	if err == nil || errors.Is(err, ErrAborted) {
		return false
	}
	var (
		load    *ScriptLoadError
		runtime *ScriptRuntimeError
		timeout *ScriptTimeoutError
	)
	return errors.As(err, &load) || errors.As(err, &runtime) || errors.As(err, &timeout)
}
