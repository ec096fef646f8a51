package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newDescribeCmd(rootOpts *rootOptions) *cobra.Command {
	var (
		modelName    string
		modelVersion string
	)
	c := &cobra.Command{
		Use:   "describe",
		Short: "Describe a model registered with the serving runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger("describe")
			client := rootOpts.newManagementClient(log)
			statuses, err := client.Describe(cmd.Context(), modelName, modelVersion)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(statuses, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		},
	}
	flags := c.Flags()
	flags.StringVar(&modelName, "model-name", "", "name of the model to describe")
	flags.StringVar(&modelVersion, "model-version", "", "version to describe (default: the default version)")
	_ = c.MarkFlagRequired("model-name")
	return c
}
