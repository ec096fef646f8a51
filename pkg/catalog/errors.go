package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownModel is a sentinel error matched by UnknownModelError. It is
// returned before any download or packaging work is attempted.
var ErrUnknownModel = errors.New("unknown model")

// UnknownModelError reports a model name that is not present in the catalog,
// along with the names that are.
type UnknownModelError struct {
	Name  string
	Known []string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %q, known models: %s", e.Name, strings.Join(e.Known, ", "))
}

// Is implements error matching against ErrUnknownModel.
func (e *UnknownModelError) Is(target error) bool {
	return target == ErrUnknownModel
}
