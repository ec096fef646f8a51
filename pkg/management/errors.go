package management

import (
	"errors"
	"fmt"
)

var (
	// ErrModelNotFound indicates the named model (or version) is not
	// registered with the runtime.
	ErrModelNotFound = errors.New("model not found")
	// ErrConflict indicates the model is already registered under the same
	// name and version.
	ErrConflict = errors.New("model already registered")
)

// CallError is returned for any management or inference call that fails with
// an unexpected status. Callers treat it as terminal; no retries are made.
type CallError struct {
	StatusCode int
	Body       string
}

func (e *CallError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("runtime call failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("runtime call failed with status %d: %s", e.StatusCode, e.Body)
}
