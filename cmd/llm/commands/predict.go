package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newPredictCmd(rootOpts *rootOptions) *cobra.Command {
	var (
		modelName string
		dataPath  string
	)
	c := &cobra.Command{
		Use:   "predict",
		Short: "Run a prediction against a served model",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger("predict")
			client := rootOpts.newManagementClient(log)

			payload, err := os.Open(dataPath)
			if err != nil {
				return fmt.Errorf("open input: %w", err)
			}
			defer payload.Close()
			contentType := "text/plain"
			if strings.HasSuffix(dataPath, ".json") {
				contentType = "application/json"
			}

			response, err := client.Predict(cmd.Context(), modelName, contentType, payload)
			if err != nil {
				return err
			}
			cmd.Println(strings.TrimSpace(string(response)))
			return nil
		},
	}
	flags := c.Flags()
	flags.StringVar(&modelName, "model-name", "", "name of the model to predict with")
	flags.StringVar(&dataPath, "data", "", "input file (.json is sent as JSON, anything else as text)")
	_ = c.MarkFlagRequired("model-name")
	_ = c.MarkFlagRequired("data")
	return c
}
