package commands

import "github.com/spf13/cobra"

// Version is overridden at build time.
var Version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the llm version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("llm version %s\n", Version)
		},
	}
}
