package hub

import (
	"errors"
	"fmt"
)

var (
	// ErrDestinationNotEmpty is returned when the snapshot destination
	// already contains files. Partial downloads are not resumed; the caller
	// must clear the destination and retry.
	ErrDestinationNotEmpty = errors.New("destination directory is not empty")
	// ErrRepositoryNotFound is returned when the hub does not know the
	// requested repository or revision.
	ErrRepositoryNotFound = errors.New("model repository not found")
	// ErrGatedRepository is returned when the repository requires an access
	// token that is missing or invalid.
	ErrGatedRepository = errors.New("model repository is gated: access token missing or invalid")
)

// Error wraps a failure while talking to the hub with the repository and
// operation it occurred in.
type Error struct {
	Repo string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Repo, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
