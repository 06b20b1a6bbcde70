package commands

import (
	"github.com/spf13/cobra"

	"github.com/tendermint/remotestore/config"
	"github.com/tendermint/remotestore/libs/log"
	tmos "github.com/tendermint/remotestore/libs/os"
)

// MakeInitCommand returns the command writing a config file into the home
// directory. An existing file is left alone.
func MakeInitCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file into the home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile := conf.ConfigFile()
			if tmos.FileExists(configFile) {
				logger.Info("Found config file", "path", configFile)
				return nil
			}
			if err := config.WriteConfigFile(conf.RootDir, conf); err != nil {
				return err
			}
			logger.Info("Generated config file", "path", configFile)
			return nil
		},
	}
	cmd.Flags().StringSlice("client.addresses", conf.Client.Addresses, "server addresses (host:port)")
	cmd.Flags().String("client.db-name", conf.Client.DBName, "name of the database")
	return cmd
}
