package commands

import (
	"github.com/spf13/cobra"
)

func newUnregisterCmd(rootOpts *rootOptions) *cobra.Command {
	var (
		modelName    string
		modelVersion string
	)
	c := &cobra.Command{
		Use:   "unregister",
		Short: "Unregister a model from the serving runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger("unregister")
			client := rootOpts.newManagementClient(log)
			if err := client.Unregister(cmd.Context(), modelName, modelVersion); err != nil {
				return err
			}
			log.Infof("Unregistered model %s", modelName)
			return nil
		},
	}
	flags := c.Flags()
	flags.StringVar(&modelName, "model-name", "", "name of the model to unregister")
	flags.StringVar(&modelVersion, "model-version", "", "version to unregister (default: the default version)")
	_ = c.MarkFlagRequired("model-name")
	return c
}
