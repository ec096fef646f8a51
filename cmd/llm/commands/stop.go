package commands

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/nutanix/nai-llm/pkg/logging"
	"github.com/nutanix/nai-llm/pkg/proc"
	"github.com/nutanix/nai-llm/pkg/runtime"
)

func newStopCmd(rootOpts *rootOptions) *cobra.Command {
	var target targetFlags
	c := &cobra.Command{
		Use:   "stop",
		Short: "Stop the serving runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger("stop")
			ctx := cmd.Context()

			switch target.target {
			case "local":
				return stopLocalRuntime(ctx, log)
			case "kubernetes":
				kubeTarget, err := runtime.NewKubernetesTarget(log, runtime.KubernetesOptions{
					DeploymentName: target.deployName,
					Namespace:      target.namespace,
					// Volume parameters are irrelevant for deletion but the
					// constructor validates them.
					NFS:    "unused:/unused",
					Memory: "1Gi",
				})
				if err != nil {
					return err
				}
				return kubeTarget.Delete(ctx)
			}
			return fmt.Errorf("unknown target %q (local|kubernetes)", target.target)
		},
	}
	target.register(c)
	return c
}

// stopLocalRuntime asks the local serving runtime to shut down. A runtime
// that is not running is not an error.
func stopLocalRuntime(ctx context.Context, log logging.Logger) error {
	logStream := log.Writer()
	defer logStream.Close()
	process, err := proc.Start(ctx, func(command *exec.Cmd) {
		command.Stdout = logStream
		command.Stderr = logStream
	}, runtime.DefaultBinary, "--stop")
	if err != nil {
		return fmt.Errorf("stop serving runtime: %w", err)
	}
	defer process.Close()
	if err := process.Command().Wait(); err != nil {
		log.Warnf("Serving runtime was not running: %v", err)
	}
	return nil
}
