package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the user or product of a run does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRunTimeout is returned when a whole run exceeds its deadline.
	ErrRunTimeout = errors.New("personalization run timed out")
)

// Stage names the engine state a fatal error escaped from.
type Stage string

const (
	StageInit     Stage = "init"
	StagePlanning Stage = "planning"
	StageFanOut   Stage = "fan_out"
	StagePresent  Stage = "present"
	StageFinalize Stage = "finalize"
)

// RunError is a fatal run failure tagged with its stage.
type RunError struct {
	Stage Stage
	Agent AgentName
	Err   error
}

func (e *RunError) Error() string {
	if e.Agent != "" {
		return fmt.Sprintf("%s (%s): %v", e.Stage, e.Agent, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// notFound wraps ErrNotFound with the missing entity.
func notFound(entity string, id int32) error {
	return fmt.Errorf("%s %d: %w", entity, id, ErrNotFound)
}
