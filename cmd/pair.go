package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/numlink/protocol"
	"github.com/luma/numlink/service"
	"github.com/luma/numlink/transport"
)

var pairAddr string

func init() {
	flags := PairCmd.PersistentFlags()

	flags.StringVarP(&pairAddr, "addr", "a", "ipc:///tmp/r_python_pipeline", "The tcp:// or ipc:// address to listen on")
}

var PairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Run a standardizing pair peer",
	Long: `Run a standardizing pair peer

Every numeric array of two or more values is answered with the standardized
array and its moments. A single byte 255 shuts the peer down.

Usage
	numlink pair --addr ipc:///tmp/r_python_pipeline

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop, conf, log, err := setup()
		if err != nil {
			return err
		}
		defer signalStop()

		session, err := transport.Open(ctx, transport.PairPeer, pairAddr, transport.Listen, transport.Options{
			MaxMessageSize: conf.MaxMessageSize,
			Sentinel:       protocol.PairShutdown,
			Inbound:        protocol.KindNumeric,
			Log:            log.Named("transport"),
		})
		if err != nil {
			return err
		}

		admin := startAdmin(conf, log, session, nil)
		defer admin.Shutdown()

		log.Info("Data processor ready", zap.String("addr", session.LocalAddress()))

		err = transport.Serve(ctx, session, service.StandardizeHandler())
		signalStop()

		if err != nil && ctx.Err() == nil {
			return err
		}

		log.Info("Exiting")
		return nil
	},
}
