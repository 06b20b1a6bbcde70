package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/tendermint/remotestore/config"
)

// MakeCheckConfigCommand returns the command validating a config file. The
// file is read on its own, without flags or environment applied.
func MakeCheckConfigCommand(conf *config.Config) *cobra.Command {
	var fs afero.Fs = afero.NewOsFs()
	return &cobra.Command{
		Use:   "check-config [file]",
		Short: "Validate a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := conf.ConfigFile()
			if len(args) == 1 {
				path = args[0]
			}
			checked, err := config.ReadConfigFile(fs, path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (database %q on %s)\n",
				path, checked.Client.DBName, strings.Join(checked.Client.Addresses, ","))
			return nil
		},
	}
}
