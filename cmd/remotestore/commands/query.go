package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tendermint/remotestore/config"
	"github.com/tendermint/remotestore/libs/log"
	"github.com/tendermint/remotestore/remote"
)

// MakeQueryCommand returns the command running a statement and printing the
// resulting rows, one JSON object per line.
func MakeQueryCommand(conf *config.Config, logger log.Logger, options ...remote.Option) *cobra.Command {
	var (
		params   []string
		command  bool
		language string
	)
	cmd := &cobra.Command{
		Use:   "query [statement]",
		Short: "Run a query, command or script and print the rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := connect(ctx, conf, logger, options...)
			if err != nil {
				return err
			}
			defer c.close()

			var positional interface{}
			if len(params) > 0 {
				p := make([]interface{}, len(params))
				for i, v := range params {
					p[i] = v
				}
				positional = p
			}

			var rs *remote.ResultSet
			switch {
			case language != "":
				rs, err = c.storage.Execute(ctx, c.db, language, args[0], positional)
			case command:
				rs, err = c.storage.Command(ctx, c.db, args[0], positional)
			default:
				rs, err = c.storage.Query(ctx, c.db, args[0], positional)
			}
			if err != nil {
				return err
			}
			defer func() {
				if err := rs.Close(ctx); err != nil {
					logger.Error("closing result set", "err", err)
				}
			}()

			enc := json.NewEncoder(cmd.OutOrStdout())
			for rs.Next(ctx) {
				if err := enc.Encode(rs.Row()); err != nil {
					return err
				}
			}
			if err := rs.Err(); err != nil {
				return fmt.Errorf("reading rows: %w", err)
			}
			return nil
		},
	}
	AddClientFlags(cmd, conf)
	cmd.Flags().StringArrayVar(&params, "param", nil, "positional statement parameter, repeatable")
	cmd.Flags().BoolVar(&command, "command", false, "run the statement as a command")
	cmd.Flags().StringVar(&language, "language", "", "run the statement as a script in this language")
	return cmd
}
