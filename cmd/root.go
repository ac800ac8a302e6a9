package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/numlink/cmd/gen"
	"github.com/luma/numlink/internal/env"
)

var RootCmd = &cobra.Command{
	Use:   "numlink",
	Short: "Numeric messaging between processes",
	Long: `numlink moves numeric arrays and JSON documents between processes
over request-reply, publish-subscribe and pair sockets on tcp:// and ipc://
addresses.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.AddCommand(
		ServeCmd,
		PairCmd,
		PublishCmd,
		SubscribeCmd,
		ClientCmd,
		VersionCmd,
		gen.RootCmd,
	)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the config and builds the logger every command starts with.
// The returned context is cancelled on SIGINT or SIGTERM.
func setup() (context.Context, context.CancelFunc, *env.Config, *zap.Logger, error) {
	ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	conf, err := env.LoadConfig(ctx)
	if err != nil {
		signalStop()
		return nil, nil, nil, nil, err
	}

	log, err := env.MakeLogger(conf.LogLevel)
	if err != nil {
		signalStop()
		return nil, nil, nil, nil, err
	}

	return ctx, signalStop, conf, log, nil
}
