package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tendermint/remotestore/config"
	"github.com/tendermint/remotestore/libs/cli"
	"github.com/tendermint/remotestore/libs/log"
)

// ParseConfig retrieves the default environment configuration, sets up the
// root and validates the result.
func ParseConfig(conf *config.Config) (*config.Config, error) {
	if err := viper.Unmarshal(conf); err != nil {
		return nil, err
	}

	conf.SetRoot(conf.RootDir)

	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}
	return conf, nil
}

// RootCommand constructs the root command-line entry point of the client.
func RootCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "remotestore",
		Short:         "Client for a multi-server document database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == VersionCmd.Name() {
				return nil
			}

			pconf, err := ParseConfig(conf)
			if err != nil {
				return err
			}
			*conf = *pconf
			if err := config.EnsureRoot(conf.RootDir); err != nil {
				return err
			}
			return log.OverrideWithNewLogger(logger, conf.LogFormat, conf.LogLevel)
		},
	}
	cmd.PersistentFlags().String("log-level", conf.LogLevel, "log level")
	cmd.PersistentFlags().String("log-format", conf.LogFormat, "log format: plain | json")
	// flags, RS_ environment variables and the config file are loaded before
	// the hook above runs
	return cli.PrepareBaseCmd(cmd, "RS", cli.DefaultHome(config.DefaultRemoteStoreDir))
}

// AddClientFlags exposes the options needed to reach the servers.
func AddClientFlags(cmd *cobra.Command, conf *config.Config) {
	cmd.Flags().StringSlice("client.addresses", conf.Client.Addresses, "server addresses (host:port)")
	cmd.Flags().String("client.db-name", conf.Client.DBName, "name of the database")
	cmd.Flags().String("client.connection-strategy", conf.Client.ConnectionStrategy,
		"address selection: sticky | round-robin-connect | round-robin-request")
	cmd.Flags().Bool("instrumentation.prometheus", conf.Instrumentation.Prometheus, "serve Prometheus metrics")
	cmd.Flags().String("user", "", "database user")
	cmd.Flags().String("password", "", "database password")
}
