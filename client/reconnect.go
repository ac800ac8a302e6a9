package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/luma/numlink/internal/metrics"
	"github.com/luma/numlink/logqueue"
	"github.com/luma/numlink/protocol"
	"github.com/luma/numlink/transport"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = time.Second
	defaultDialTimeout = 5 * time.Second
)

// Policy bounds how hard Connect tries. The zero value dials three times
// with one second in between.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration

	// DialTimeout bounds each individual attempt
	DialTimeout time.Duration

	// Queue and State are optional. Attempts are reported to Queue and the
	// outcome is recorded in State.
	Queue *logqueue.Queue
	State *ConnectionState

	Log *zap.Logger
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}

	if p.Backoff < 0 {
		p.Backoff = 0
	} else if p.Backoff == 0 {
		p.Backoff = DefaultBackoff
	}

	if p.DialTimeout <= 0 {
		p.DialTimeout = defaultDialTimeout
	}

	if p.Log == nil {
		p.Log = zap.NewNop()
	}

	return p
}

// ConnectError is returned once every attempt failed.
type ConnectError struct {
	Addr     string
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connection to %s failed after %d attempts: %v", e.Addr, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

func (e *ConnectError) Is(target error) bool {
	return target == protocol.ErrConnection
}

// Connect dials a request-reply client session, retrying with a fixed
// backoff. There is no sleep after the final attempt.
func Connect(ctx context.Context, address string, policy Policy, opts transport.Options) (*transport.Session, error) {
	p := policy.withDefaults()
	log := p.Log.Named("connect").With(zap.String("addr", address))

	if opts.Log == nil {
		opts.Log = p.Log
	}

	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		p.push(logqueue.Info, "Connecting to %s... attempt %d/%d", address, attempt, p.MaxAttempts)

		s, err := p.dial(ctx, address, opts)
		if err == nil {
			metrics.DialAttempts.WithLabelValues("success").Inc()
			log.Info("Connected", zap.Int("attempt", attempt))
			p.push(logqueue.Success, "Connected to %s!", address)

			if p.State != nil {
				p.State.setRetryCount(attempt - 1)
				p.State.setConnected(true)
			}

			return s, nil
		}

		lastErr = err
		metrics.DialAttempts.WithLabelValues("failure").Inc()
		log.Warn("Connection attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		p.push(logqueue.Info, "Connection attempt %d failed: %v", attempt, err)

		if attempt == p.MaxAttempts {
			break
		}

		timer := time.NewTimer(p.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, p.fail(address, attempt, ctx.Err())

		case <-timer.C:
		}
	}

	return nil, p.fail(address, p.MaxAttempts, lastErr)
}

func (p Policy) dial(ctx context.Context, address string, opts transport.Options) (*transport.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, p.DialTimeout)
	defer cancel()

	return transport.Open(ctx, transport.ReqReplyClient, address, transport.Dial, opts)
}

func (p Policy) fail(address string, attempts int, err error) error {
	p.push(logqueue.Error, "Connection failed after all attempts")
	p.push(logqueue.Info, "Make sure the server at %s is running first!", address)

	if p.State != nil {
		p.State.setRetryCount(attempts)
		p.State.setConnected(false)
	}

	return &ConnectError{Addr: address, Attempts: attempts, Err: err}
}

func (p Policy) push(category logqueue.Category, format string, args ...interface{}) {
	if p.Queue != nil {
		p.Queue.Push(category, format, args...)
	}
}
