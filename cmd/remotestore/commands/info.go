package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tendermint/remotestore/config"
	"github.com/tendermint/remotestore/libs/log"
	"github.com/tendermint/remotestore/remote"
)

type storageInfo struct {
	Name        string   `json:"name"`
	Version     int      `json:"version"`
	Size        int64    `json:"size"`
	Records     int64    `json:"records"`
	Collections []string `json:"collections"`
	Addresses   []string `json:"addresses"`
	ClientID    string   `json:"client_id"`
}

// MakeInfoCommand returns the command printing a summary of the database.
func MakeInfoCommand(conf *config.Config, logger log.Logger, options ...remote.Option) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show size, record count and collections of the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := connect(ctx, conf, logger, options...)
			if err != nil {
				return err
			}
			defer c.close()

			info := storageInfo{
				Collections: c.storage.CollectionNames(),
				Addresses:   c.storage.Addresses(),
				ClientID:    c.storage.ClientID(),
			}
			if sc := c.storage.Configuration(); sc != nil {
				info.Name, info.Version = sc.Name, sc.Version
			}
			if info.Size, err = c.storage.Size(ctx, c.db); err != nil {
				return err
			}
			if info.Records, err = c.storage.CountRecords(ctx, c.db); err != nil {
				return err
			}

			out, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	AddClientFlags(cmd, conf)
	return cmd
}
