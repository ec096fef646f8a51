// Package commands implements the llm command line.
package commands

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nutanix/nai-llm/pkg/catalog"
	"github.com/nutanix/nai-llm/pkg/hub"
	"github.com/nutanix/nai-llm/pkg/logging"
	"github.com/nutanix/nai-llm/pkg/management"
)

// rootOptions are shared across subcommands through the root command.
type rootOptions struct {
	modelConfig       string
	inferenceAddress  string
	managementAddress string
	metricsAddress    string
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:          "llm",
		Short:        "Deploy and serve large language models",
		SilenceUsage: true,
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.modelConfig, "model-config", "", "path to a model catalog file (default: built-in catalog)")
	flags.StringVar(&opts.inferenceAddress, "inference-address", management.DefaultInferenceAddress, "serving runtime inference address")
	flags.StringVar(&opts.managementAddress, "management-address", management.DefaultManagementAddress, "serving runtime management address")
	flags.StringVar(&opts.metricsAddress, "metrics-address", management.DefaultMetricsAddress, "serving runtime metrics address")

	rootCmd.AddCommand(
		newVersionCmd(),
		newDownloadCmd(opts),
		newRunCmd(opts),
		newStartCmd(opts),
		newStopCmd(opts),
		newRegisterCmd(opts),
		newUnregisterCmd(opts),
		newDescribeCmd(opts),
		newSetDefaultCmd(opts),
		newScaleCmd(opts),
		newPredictCmd(opts),
		newStatusCmd(opts),
		newCleanupCmd(opts),
	)
	return rootCmd
}

// newLogger builds the process logger with a component field.
func newLogger(component string) logging.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	return log.WithField("component", component)
}

// loadCatalog returns the catalog named by --model-config, or the built-in
// one.
func (o *rootOptions) loadCatalog() (*catalog.Catalog, error) {
	if o.modelConfig != "" {
		return catalog.Load(o.modelConfig)
	}
	return catalog.Default()
}

// newManagementClient builds a management client for the configured
// addresses.
func (o *rootOptions) newManagementClient(log logging.Logger) *management.Client {
	return management.NewClient(log,
		management.WithInferenceAddress(o.inferenceAddress),
		management.WithManagementAddress(o.managementAddress),
		management.WithMetricsAddress(o.metricsAddress),
	)
}

// newHubClient builds a hub client carrying the resolved access token.
func newHubClient(log logging.Logger, tokenFlag string) *hub.Client {
	return hub.NewClient(log, hub.WithToken(resolveToken(tokenFlag)))
}

// resolveToken falls back to the HF_TOKEN environment variable when no token
// flag was given.
func resolveToken(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("HF_TOKEN")
}
