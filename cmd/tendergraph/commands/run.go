package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tendergraph-io/node/config"
	"github.com/tendergraph-io/node/node"
	"github.com/tendergraph-io/node/service"
)

// NewRunCmd returns the command that starts a node.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run a validator node",
		PreRunE: loadConfig,
		RunE:    runNode,
	}
	addRunFlags(cmd)
	return cmd
}

func runNode(cmd *cobra.Command, args []string) error {
	n := node.New(cliConfig)

	if err := n.Init(); err != nil {
		n.Logger.Error("cannot initialize node:", err)
		return err
	}

	if !cliConfig.NoService {
		svc := service.NewService(cliConfig.ServiceAddr, n, n.Logger)
		go svc.Serve()
	}

	n.Run()

	return nil
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("datadir", cliConfig.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", cliConfig.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("moniker", cliConfig.Moniker, "Optional name")

	cmd.Flags().StringP("listen", "l", cliConfig.BindAddr, "Listen IP:Port for consensus traffic")
	cmd.Flags().StringP("advertise", "a", cliConfig.AdvertiseAddr, "Advertise IP:Port for consensus traffic")
	cmd.Flags().DurationP("timeout", "t", cliConfig.TCPTimeout, "TCP timeout")
	cmd.Flags().Int("max-pool", cliConfig.MaxPool, "Connection pool size max")

	cmd.Flags().Bool("no-service", cliConfig.NoService, "Disable the HTTP status service")
	cmd.Flags().StringP("service-listen", "s", cliConfig.ServiceAddr, "Listen IP:Port for HTTP status service")

	cmd.Flags().String("chain-id", cliConfig.ChainID, "Chain identifier bound into genesis metadata")
	cmd.Flags().String("validators-file", cliConfig.ValidatorsFile, "Validator set file, relative to datadir unless absolute")

	cmd.Flags().Duration("propose-timeout", cliConfig.ProposeTimeoutBase, "Base timeout for the propose phase")
	cmd.Flags().Duration("prevote-timeout", cliConfig.PrevoteTimeoutBase, "Base timeout for the prevote phase")
	cmd.Flags().Duration("commit-timeout", cliConfig.CommitTimeoutBase, "Base timeout for the commit phase")
	cmd.Flags().Duration("timeout-delta", cliConfig.TimeoutDelta, "Per-round growth added to every phase timeout")

	cmd.Flags().Uint64("snapshot-interval", cliConfig.SnapshotInterval, "Blocks between full state snapshots")
	cmd.Flags().Int("max-txs-per-block", cliConfig.MaxTxsPerBlock, "Max transactions drained from the mempool per block")
	cmd.Flags().Int("suspend-limit", cliConfig.SuspendLimit, "Consecutive undetermined rounds before the node reports itself suspended (0 disables)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	viper.SetConfigName("tendergraph")
	viper.AddConfigPath(cliConfig.DataDir)

	if err := viper.ReadInConfig(); err == nil {
		logrus.Debugf("using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		return err
	}

	return config.DecodeConfig(viper.AllSettings(), cliConfig)
}
