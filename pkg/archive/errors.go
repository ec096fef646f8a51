package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrNoWeights is returned when the model directory contains no
	// recognizable weight files.
	ErrNoWeights = errors.New("model directory contains no weight files")
	// ErrMissingHandler is returned when the handler script cannot be read.
	ErrMissingHandler = errors.New("handler script not found")
)

// PackagingError wraps a failure while generating a model archive.
type PackagingError struct {
	Model string
	Err   error
}

func (e *PackagingError) Error() string {
	return fmt.Sprintf("package model %q: %v", e.Model, e.Err)
}

func (e *PackagingError) Unwrap() error {
	return e.Err
}
