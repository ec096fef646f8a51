package commands

import (
	"github.com/spf13/cobra"

	"github.com/nutanix/nai-llm/pkg/management"
)

func newScaleCmd(rootOpts *rootOptions) *cobra.Command {
	var (
		modelName    string
		modelVersion string
		synchronous  bool
	)
	c := &cobra.Command{
		Use:   "scale",
		Short: "Adjust worker and batching configuration for a model",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger("scale")
			client := rootOpts.newManagementClient(log)

			// Only flags the user actually set are sent; everything else is
			// left untouched on the server.
			opts := management.ScaleOptions{Synchronous: synchronous}
			intFlag := func(name string) *int {
				if !cmd.Flags().Changed(name) {
					return nil
				}
				value, _ := cmd.Flags().GetInt(name)
				return &value
			}
			opts.MinWorkers = intFlag("min-workers")
			opts.MaxWorkers = intFlag("max-workers")
			opts.BatchSize = intFlag("batch-size")
			opts.MaxBatchDelay = intFlag("max-batch-delay")

			if err := client.Scale(cmd.Context(), modelName, modelVersion, opts); err != nil {
				return err
			}
			log.Infof("Scaled model %s", modelName)
			return nil
		},
	}
	flags := c.Flags()
	flags.StringVar(&modelName, "model-name", "", "name of the model to scale")
	flags.StringVar(&modelVersion, "model-version", "", "version to scale (default: the default version)")
	flags.Int("min-workers", 0, "minimum worker count")
	flags.Int("max-workers", 0, "maximum worker count")
	flags.Int("batch-size", 0, "request batch size")
	flags.Int("max-batch-delay", 0, "maximum batch delay in milliseconds")
	flags.BoolVar(&synchronous, "synchronous", true, "wait for the workers to settle")
	_ = c.MarkFlagRequired("model-name")
	return c
}
