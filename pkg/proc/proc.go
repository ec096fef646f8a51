package proc

import (
	"os/exec"
)

// Process encapsulates a single supervised child process. Closing a Process
// terminates the child if it is still running; the child never outlives its
// supervisor.
type Process interface {
	// Command returns the underlying process handle.
	Command() *exec.Cmd
	// Close terminates the process if it is still running and releases any
	// supervision resources.
	Close() error
}
