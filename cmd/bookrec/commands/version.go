package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liteshelf/bookrec/internal/version"
)

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bookrec %s\n", version.String())
		},
	}
}
