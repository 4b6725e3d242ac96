package commands

import (
	"github.com/spf13/cobra"

	"github.com/tendergraph-io/node/config"
)

var cliConfig = config.NewDefaultConfig()

// RootCmd is the root command for tendergraph.
var RootCmd = &cobra.Command{
	Use:              "tendergraph",
	Short:            "tendergraph consensus node",
	TraverseChildren: true,
}

func init() {
	RootCmd.AddCommand(NewRunCmd())
	RootCmd.AddCommand(NewKeygenCmd())
	RootCmd.AddCommand(NewVersionCmd())
}
