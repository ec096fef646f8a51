//go:build !windows

package proc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// process is the POSIX supervised-process implementation.
type process struct {
	// cancel cancels the context associated with the process.
	cancel context.CancelFunc
	// command is the child process handle.
	command *exec.Cmd
}

// Command implements Process.Command.
func (p *process) Command() *exec.Cmd {
	return p.command
}

// Close implements Process.Close.
func (p *process) Close() error {
	p.cancel()
	return nil
}

// Start starts a supervised child process. The ctx, name, and arg arguments
// correspond to their counterparts in os/exec.CommandContext. The modifier
// callback (which may be nil) configures the command before it is started.
// On termination the child first receives an interrupt and is killed if it
// has not exited within the wait delay.
func Start(ctx context.Context, modifier func(*exec.Cmd), name string, arg ...string) (Process, error) {
	ctx, cancel := context.WithCancel(ctx)

	command := exec.CommandContext(ctx, name, arg...)
	command.Cancel = func() error {
		return command.Process.Signal(os.Interrupt)
	}
	command.WaitDelay = 10 * time.Second
	if modifier != nil {
		modifier(command)
	}

	if err := command.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("unable to start process: %w", err)
	}
	return &process{
		cancel:  cancel,
		command: command,
	}, nil
}
