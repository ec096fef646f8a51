package commands

import (
	"github.com/spf13/cobra"
)

func newSetDefaultCmd(rootOpts *rootOptions) *cobra.Command {
	var (
		modelName    string
		modelVersion string
	)
	c := &cobra.Command{
		Use:   "set-default",
		Short: "Mark a registered model version as the default",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger("set-default")
			client := rootOpts.newManagementClient(log)
			if err := client.SetDefault(cmd.Context(), modelName, modelVersion); err != nil {
				return err
			}
			log.Infof("Version %s is now the default for model %s", modelVersion, modelName)
			return nil
		},
	}
	flags := c.Flags()
	flags.StringVar(&modelName, "model-name", "", "name of the model")
	flags.StringVar(&modelVersion, "model-version", "", "version to make the default")
	_ = c.MarkFlagRequired("model-name")
	_ = c.MarkFlagRequired("model-version")
	return c
}
