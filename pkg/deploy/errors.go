package deploy

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest is a sentinel matched by ValidationError.
var ErrInvalidRequest = errors.New("invalid deployment request")

// ValidationError reports a deployment request rejected before any stage ran.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid deployment request: " + e.Reason
}

// Is implements error matching against ErrInvalidRequest.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// StageError annotates a pipeline failure with the stage that was running.
// The pipeline performs no rollback; completed stages keep their effects.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("deployment failed at stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
