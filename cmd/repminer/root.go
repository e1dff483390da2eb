package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/eth2030/reputation-miner/config"
	"github.com/eth2030/reputation-miner/log"
)

// cli carries state shared by the subcommands of one invocation.
type cli struct {
	v   *viper.Viper
	cfg *config.Config
	log *log.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}
	def := config.DefaultConfig()

	root := &cobra.Command{
		Use:           "repminer",
		Short:         "Colony reputation mining client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			if err := c.v.BindPFlags(cmd.Flags()); err != nil {
				return errors.Wrap(err, "bind flags")
			}
			cfg, err := config.Load(c.v)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.log = log.NewWithWriter(cmd.ErrOrStderr(), log.ParseLevel(cfg.LogLevel))
			log.SetDefault(c.log)
			return nil
		},
	}

	f := root.PersistentFlags()
	f.String("config", "", "TOML configuration file")
	f.String("rpc-url", def.RPCURL, "JSON-RPC endpoint")
	f.String("colony-network", def.ColonyNetworkAddress, "colony network contract address")
	f.String("private-key", def.PrivateKey, "hex key that signs submissions")
	f.Uint64("chain-id", def.ChainID, "chain id for signing (0 asks the node)")
	f.String("tree-backend", def.TreeBackend, "reputation tree backend: memory, contract")
	f.StringSlice("tree-contracts", def.TreeContractAddresses, "empty PatriciaTree contracts for the contract backend")
	f.String("justification-store", def.JustificationStore, "justification entry store: memory, pebble")
	f.String("datadir", def.DataDir, "data directory")
	f.String("log-level", def.LogLevel, "log level: debug, info, warn, desync, error")
	f.String("metrics-addr", def.MetricsAddr, "serve Prometheus metrics on this address")
	f.Int("cache-size", def.CacheSize, "entries per read cache")
	f.String("decay-numerator", def.DecayNumerator, "decay factor numerator")
	f.String("decay-denominator", def.DecayDenominator, "decay factor denominator")
	f.Uint64("entry-index", def.EntryIndex, "staking entry index passed with the root hash")
	f.Duration("poll-interval", def.PollInterval, "dispute polling interval")

	root.AddCommand(newRunCmd(c), newReplayCmd(c), newVersionCmd())
	return root
}
