package cmd

import (
	"bufio"
	"context"
	"errors"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/numlink/client"
	"github.com/luma/numlink/logqueue"
	"github.com/luma/numlink/protocol"
	"github.com/luma/numlink/transport"
)

var (
	clientAddr         string
	clientShutdownPeer bool
	clientFailWhenBusy bool
)

func init() {
	flags := ClientCmd.PersistentFlags()

	flags.StringVarP(&clientAddr, "addr", "a", "tcp://127.0.0.1:5555", "The server's tcp:// or ipc:// address")
	flags.BoolVar(&clientShutdownPeer, "shutdown-peer", false, "Send the shutdown signal to the server on exit")
	flags.BoolVar(&clientFailWhenBusy, "fail-when-busy", false, "Refuse new requests while one is in flight instead of queueing them")
}

var errMissingArgument = errors.New("missing argument")

const clientHelp = `Commands:
  connect                   connect to the server
  test                      send 1, 2, 3, 4, 5
  random                    send 25 normally distributed values
  large                     send 100 uniformly distributed values
  send 1.5, 2.3, 3.7        send custom values (the "send" is optional)
  exec <command>            send a text command
  call <action> [k=v ...]   send an {"action": ...} request
  quit                      exit`

var ClientCmd = &cobra.Command{
	Use:   "client",
	Short: "Interactive request-reply client",
	Long: `Interactive request-reply client

Reads commands from stdin and prints everything sent and received.

` + clientHelp + `

Usage
	numlink client --addr tcp://127.0.0.1:5555

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop, conf, log, err := setup()
		if err != nil {
			return err
		}
		defer signalStop()

		busy := client.BlockWhenBusy
		if clientFailWhenBusy {
			busy = client.FailWhenBusy
		}

		c := client.New(clientAddr, client.Options{
			Policy: client.Policy{
				MaxAttempts: conf.DialAttempts,
				Backoff:     conf.DialBackoff,
			},
			Busy:           busy,
			RequestTimeout: conf.RequestTimeout,
			Transport: transport.Options{
				MaxMessageSize: conf.MaxMessageSize,
				Log:            log.Named("transport"),
			},
			Log: log,
		})

		pollCtx, stopPolling := context.WithCancel(context.Background())

		var polling sync.WaitGroup
		polling.Add(1)
		go func() {
			defer polling.Done()
			if err := logqueue.Poll(pollCtx, c.Queue(), conf.PollInterval, consoleSink(cmd.OutOrStdout())); err != nil {
				log.Error("Log poll loop failed", zap.Error(err))
			}
		}()

		defer func() {
			stopPolling()
			polling.Wait()
		}()

		c.Queue().Push(logqueue.Info, "App started, type \"connect\" to begin or \"help\" for commands")

		lines := make(chan string)
		go func() {
			defer close(lines)

			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return shutdownClient(c, log)

			case line, ok := <-lines:
				if !ok {
					return shutdownClient(c, log)
				}

				quit, err := runLine(ctx, c, line)
				if err != nil {
					log.Debug("Command failed", zap.String("line", line), zap.String("kind", protocol.Kind(err)), zap.Error(err))
				}
				if quit {
					return shutdownClient(c, log)
				}
			}
		}
	},
}

// runLine executes one console command and reports whether to exit. Every
// failure it returns has already been reported to the queue. Requests run
// in the background, their results arrive through the queue.
func runLine(ctx context.Context, c *client.Client, line string) (bool, error) {
	q := c.Queue()

	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}

	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	var err error

	switch strings.ToLower(word) {
	case "quit", "exit":
		return true, nil

	case "help":
		for _, l := range strings.Split(clientHelp, "\n") {
			q.Push(logqueue.Info, "%s", l)
		}

	case "connect":
		go func() {
			// outcomes are reported to the queue by the reconnect policy
			_ = c.Connect(ctx)
		}()

	case "test":
		_, err = c.SendNumbers(ctx, "simple test", []float64{1, 2, 3, 4, 5})

	case "random":
		data := make([]float64, 25)
		for i := range data {
			data[i] = 50 + 15*rand.NormFloat64()
		}
		_, err = c.SendNumbers(ctx, "random normal data (μ=50, σ=15)", data)

	case "large":
		data := make([]float64, 100)
		for i := range data {
			data[i] = 100 * rand.Float64()
		}
		_, err = c.SendNumbers(ctx, "large uniform data (0-100)", data)

	case "exec":
		if rest == "" {
			q.Push(logqueue.Error, "exec needs a command")
			return false, errMissingArgument
		}
		_, err = c.Execute(ctx, rest)

	case "call":
		args := strings.Fields(rest)
		if len(args) == 0 {
			q.Push(logqueue.Error, "call needs an action")
			return false, errMissingArgument
		}

		fields, perr := parseFields(args[1:])
		if perr != nil {
			q.Push(logqueue.Error, "%v", perr)
			return false, perr
		}
		_, err = c.Call(ctx, args[0], fields...)

	default:
		input := line
		if strings.ToLower(word) == "send" {
			input = rest
		}

		values, perr := parseNumbers(input)
		if perr != nil {
			q.Push(logqueue.Error, "Invalid number format: %v", perr)
			q.Push(logqueue.Info, "Use format: 1.5, 2.3, 3.7, 4.1")
			return false, perr
		}
		_, err = c.SendNumbers(ctx, "custom input", values)
	}

	return false, err
}

func shutdownClient(c *client.Client, log *zap.Logger) error {
	if clientShutdownPeer && c.State().Connected() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := c.Shutdown(ctx); err != nil {
			log.Warn("Failed to shut down the server", zap.Error(err))
		}
	}

	if err := c.Close(); err != nil {
		log.Warn("Failed to close the connection", zap.Error(err))
	}

	log.Info("Exiting")
	return nil
}
