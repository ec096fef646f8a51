package proc

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/kolesnikovae/go-winjob"
)

// process is the Windows supervised-process implementation, backed by a Job
// object so the child tree is torn down with the supervisor.
type process struct {
	// job is the Windows Job object that encapsulates the process.
	job *winjob.JobObject
	// command is the child process handle.
	command *exec.Cmd
}

// Command implements Process.Command.
func (p *process) Command() *exec.Cmd {
	return p.command
}

// Close implements Process.Close.
func (p *process) Close() error {
	return p.job.Close()
}

// Start starts a supervised child process. The ctx, name, and arg arguments
// correspond to their counterparts in os/exec.CommandContext. The modifier
// callback (which may be nil) configures the command before it is started.
func Start(ctx context.Context, modifier func(*exec.Cmd), name string, arg ...string) (Process, error) {
	command := exec.CommandContext(ctx, name, arg...)
	if modifier != nil {
		modifier(command)
	}

	job, err := winjob.Start(command, winjob.WithKillOnJobClose())
	if err != nil {
		return nil, fmt.Errorf("unable to start supervised process: %w", err)
	}
	return &process{
		job:     job,
		command: command,
	}, nil
}
