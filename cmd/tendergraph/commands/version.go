package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tendergraph-io/node/version"
)

// NewVersionCmd returns the command that prints the build version.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version.Version)
			return nil
		},
	}
}
