package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tendermint/remotestore/cmd/remotestore/commands"
	"github.com/tendermint/remotestore/config"
	"github.com/tendermint/remotestore/libs/log"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conf := config.DefaultConfig()
	logger, err := log.NewDefaultLogger(conf.LogFormat, conf.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rcmd := commands.RootCommand(conf, logger)
	rcmd.AddCommand(
		commands.MakeInitCommand(conf, logger),
		commands.MakeCheckConfigCommand(conf),
		commands.MakeInfoCommand(conf, logger),
		commands.MakeQueryCommand(conf, logger),
		commands.MakeLiveCommand(conf, logger),
		commands.MakeBackupCommand(conf, logger),
		commands.MakeImportCommand(conf, logger),
		commands.VersionCmd,
	)

	if err := rcmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}
}
