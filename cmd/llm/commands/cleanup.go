package commands

import (
	"github.com/spf13/cobra"

	"github.com/nutanix/nai-llm/pkg/deploy"
)

func newCleanupCmd(rootOpts *rootOptions) *cobra.Command {
	var (
		genDir     string
		stopServer bool
		tsCleanup  bool
	)
	c := &cobra.Command{
		Use:   "cleanup",
		Short: "Stop the serving runtime and remove generated files",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger("cleanup")
			ctx := cmd.Context()

			if stopServer {
				if err := stopLocalRuntime(ctx, log); err != nil {
					return err
				}
			}
			if tsCleanup {
				if err := deploy.Cleanup(ctx, log, nil, genDir); err != nil {
					return err
				}
			}
			log.Infoln("Cleanup complete")
			return nil
		},
	}
	flags := c.Flags()
	flags.StringVar(&genDir, "gen-dir", "gen", "scratch directory to remove")
	flags.BoolVar(&stopServer, "stop-server", true, "stop the local serving runtime")
	flags.BoolVar(&tsCleanup, "ts-cleanup", true, "remove the scratch directory")
	return c
}
