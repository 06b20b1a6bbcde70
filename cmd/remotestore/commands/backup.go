package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tendermint/remotestore/config"
	"github.com/tendermint/remotestore/libs/log"
	"github.com/tendermint/remotestore/remote"
)

// MakeBackupCommand returns the command asking the server for an
// incremental backup into a server-side directory.
func MakeBackupCommand(conf *config.Config, logger log.Logger, options ...remote.Option) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup [dir]",
		Short: "Run an incremental backup into a directory on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Context(), conf, logger, options...)
			if err != nil {
				return err
			}
			defer c.close()

			name, err := c.storage.IncrementalBackup(cmd.Context(), c.db, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		},
	}
	AddClientFlags(cmd, conf)
	return cmd
}

// MakeImportCommand returns the command uploading a database export.
func MakeImportCommand(conf *config.Config, logger log.Logger, options ...remote.Option) *cobra.Command {
	var importOptions string
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import a database export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			c, err := connect(cmd.Context(), conf, logger, options...)
			if err != nil {
				return err
			}
			defer c.close()

			out := cmd.OutOrStdout()
			return c.storage.Import(cmd.Context(), c.db, importOptions, filepath.Base(args[0]), f,
				remote.ImportListenerFunc(func(msg string) { fmt.Fprintln(out, msg) }))
		},
	}
	AddClientFlags(cmd, conf)
	cmd.Flags().StringVar(&importOptions, "options", "", "import options passed to the server")
	cmd.Flags().Bool("client.compress-import", conf.Client.CompressImport, "compress the export with snappy")
	return cmd
}
