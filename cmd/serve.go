package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/numlink/protocol"
	"github.com/luma/numlink/service"
	"github.com/luma/numlink/transport"
)

const (
	modeNumeric = "numeric"
	modeRPC     = "rpc"
)

var (
	// The address to listen for requests on
	serveAddr string

	// numeric or rpc
	serveMode string

	serveReuseport bool
)

func init() {
	flags := ServeCmd.PersistentFlags()

	flags.StringVarP(&serveAddr, "addr", "a", "tcp://127.0.0.1:5555", "The tcp:// or ipc:// address to listen on")
	flags.StringVarP(&serveMode, "mode", "m", modeNumeric, "numeric: describe numeric arrays, rpc: answer action documents")
	flags.BoolVar(&serveReuseport, "reuseport", true, "Set SO_REUSEPORT on tcp listeners")
}

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a request-reply server",
	Long: `Run a request-reply server

In numeric mode every request is a raw float64 array and the reply is a JSON
summary of it. In rpc mode requests are {"action": ...} documents.

Sending the single value -999 shuts the server down.

Usage
	numlink serve --addr tcp://127.0.0.1:5555 --mode numeric

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop, conf, log, err := setup()
		if err != nil {
			return err
		}
		defer signalStop()

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		var (
			handler transport.Handler
			inbound protocol.FrameKind
		)

		switch serveMode {
		case modeNumeric:
			handler = service.NumericHandler(service.BasicStats{})
			inbound = protocol.KindNumeric

		case modeRPC:
			router := service.NewRouter(log)
			service.RegisterStatistics(router, service.BasicStats{})
			handler = router
			inbound = protocol.KindText

		default:
			return fmt.Errorf("unknown mode %q, use %s or %s", serveMode, modeNumeric, modeRPC)
		}

		session, err := transport.Open(ctx, transport.ReqReplyServer, serveAddr, transport.Listen, transport.Options{
			Reuseport:      serveReuseport,
			MaxMessageSize: conf.MaxMessageSize,
			Sentinel:       protocol.NumericShutdown,
			Inbound:        inbound,
			Log:            log.Named("transport"),
		})
		if err != nil {
			return err
		}

		admin := startAdmin(conf, log, session, nil)
		defer admin.Shutdown()

		log.Info("Listening",
			zap.Any("config", conf),
			zap.String("addr", session.LocalAddress()),
			zap.String("mode", serveMode))

		err = transport.Serve(ctx, session, handler)

		// Restore default behavior on the interrupt signal
		signalStop()

		if err != nil && ctx.Err() == nil {
			return err
		}

		log.Info("Exiting")
		return nil
	},
}
