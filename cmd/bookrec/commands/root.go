package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the bookrec root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bookrec",
		Short:         "Book recommendation service",
		Long:          "Semantic book recommendation API over a vector catalog.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewImportCmd())
	cmd.AddCommand(NewVersionCmd())
	return cmd
}

// Execute runs the CLI. A missing .env file is not an error.
func Execute() error {
	_ = godotenv.Load()
	return NewRootCmd().Execute()
}
