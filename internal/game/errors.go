package game

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRunning is returned by Tick outside the Running state.
	ErrNotRunning = errors.New("game: engine is not running")
	// ErrAborted is returned once a match has been aborted.
	ErrAborted = errors.New("game: match aborted")
)

// EngineInitializationError means the match could not be set up: the stage
// is missing or broken, or no team could be admitted. No tick has run.
type EngineInitializationError struct {
	Reason string
	Err    error
}

func (e *EngineInitializationError) Error() string {
	if e.Err == nil {
		return "engine initialization: " + e.Reason
	}
	return fmt.Sprintf("engine initialization: %s: %v", e.Reason, e.Err)
}

func (e *EngineInitializationError) Unwrap() error { return e.Err }

// EngineRuntimeError is an internal failure during simulation. It ends the
// match and is never caused by a team script.
type EngineRuntimeError struct {
	Tick   int
	Reason string
	Err    error
}

func (e *EngineRuntimeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("engine runtime (tick %d): %s", e.Tick, e.Reason)
	}
	return fmt.Sprintf("engine runtime (tick %d): %s: %v", e.Tick, e.Reason, e.Err)
}

func (e *EngineRuntimeError) Unwrap() error { return e.Err }
