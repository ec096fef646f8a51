package commands

import (
	"sort"

	"github.com/spf13/cobra"
)

func newStatusCmd(rootOpts *rootOptions) *cobra.Command {
	var showMetrics bool
	c := &cobra.Command{
		Use:   "status",
		Short: "Show the serving runtime's health and registered models",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger("status")
			ctx := cmd.Context()
			client := rootOpts.newManagementClient(log)

			if err := client.Ping(ctx); err != nil {
				return err
			}
			cmd.Println("Serving runtime is healthy")

			models, err := client.List(ctx)
			if err != nil {
				return err
			}
			if len(models) == 0 {
				cmd.Println("No models registered")
			}
			for _, model := range models {
				cmd.Printf("%s\t%s\n", model.ModelName, model.ModelURL)
			}

			if !showMetrics {
				return nil
			}
			families, err := client.Metrics(ctx)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(families))
			for name := range families {
				names = append(names, name)
			}
			sort.Strings(names)
			cmd.Println()
			for _, name := range names {
				family := families[name]
				cmd.Printf("%s (%s): %d series\n", name, family.GetType(), len(family.GetMetric()))
			}
			return nil
		},
	}
	c.Flags().BoolVar(&showMetrics, "metrics", false, "also show the runtime's Prometheus metrics")
	return c
}
