package commands

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/tendermint/remotestore/config"
	"github.com/tendermint/remotestore/internal/protocol"
	"github.com/tendermint/remotestore/libs/log"
	tmsync "github.com/tendermint/remotestore/libs/sync"
	"github.com/tendermint/remotestore/remote"
)

type liveEvent struct {
	Event  string       `json:"event"`
	Row    protocol.Row `json:"row,omitempty"`
	Before protocol.Row `json:"before,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// printingListener writes every live query event as a JSON line.
type printingListener struct {
	mtx    sync.Mutex
	enc    *json.Encoder
	closer *tmsync.Closer
}

func newPrintingListener(w io.Writer) *printingListener {
	return &printingListener{enc: json.NewEncoder(w), closer: tmsync.NewCloser()}
}

func (l *printingListener) print(ev liveEvent) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	_ = l.enc.Encode(ev)
}

func (l *printingListener) OnCreate(row protocol.Row) { l.print(liveEvent{Event: "create", Row: row}) }
func (l *printingListener) OnDelete(row protocol.Row) { l.print(liveEvent{Event: "delete", Row: row}) }

func (l *printingListener) OnUpdate(before, after protocol.Row) {
	l.print(liveEvent{Event: "update", Row: after, Before: before})
}

func (l *printingListener) OnError(err error) {
	l.print(liveEvent{Event: "error", Error: err.Error()})
	l.closer.Close()
}

func (l *printingListener) OnEnd() {
	l.print(liveEvent{Event: "end"})
	l.closer.Close()
}

// MakeLiveCommand returns the command subscribing to a live query and
// printing its events until interrupted or until the subscription ends.
func MakeLiveCommand(conf *config.Config, logger log.Logger, options ...remote.Option) *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "live [query]",
		Short: "Follow the changes matching a live query",
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

			l := newPrintingListener(cmd.OutOrStdout())
			id, err := c.storage.LiveQuery(ctx, c.db, args[0], positional, l)
			if err != nil {
				return err
			}
			logger.Info("subscribed", "monitor", id)

			select {
			case <-l.closer.Done():
				return nil
			case <-ctx.Done():
			}

			uctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return c.storage.UnsubscribeLive(uctx, c.db, id)
		},
	}
	AddClientFlags(cmd, conf)
	cmd.Flags().StringArrayVar(&params, "param", nil, "positional query parameter, repeatable")
	return cmd
}
