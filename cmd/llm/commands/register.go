package commands

import (
	"github.com/spf13/cobra"

	"github.com/nutanix/nai-llm/pkg/management"
)

func newRegisterCmd(rootOpts *rootOptions) *cobra.Command {
	var opts management.RegisterOptions
	c := &cobra.Command{
		Use:   "register",
		Short: "Register a model archive with the serving runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger("register")
			client := rootOpts.newManagementClient(log)
			if err := client.Register(cmd.Context(), opts); err != nil {
				return err
			}
			log.Infof("Registered %s", opts.URL)
			return nil
		},
	}
	flags := c.Flags()
	flags.StringVar(&opts.URL, "url", "", "archive name within the model store, or a fetchable URL")
	flags.IntVar(&opts.InitialWorkers, "initial-workers", 1, "number of workers to start")
	flags.BoolVar(&opts.Synchronous, "synchronous", true, "wait for the workers to come up")
	flags.IntVar(&opts.BatchSize, "batch-size", 0, "request batch size")
	flags.IntVar(&opts.MaxBatchDelay, "max-batch-delay", 0, "maximum batch delay in milliseconds")
	flags.IntVar(&opts.ResponseTimeout, "response-timeout", 0, "per-request timeout in seconds")
	_ = c.MarkFlagRequired("url")
	return c
}
