package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luma/numlink/logqueue"
	"github.com/luma/numlink/protocol"
	"github.com/luma/numlink/transport"
)

type Options struct {
	Policy Policy

	Busy           BusyPolicy
	RequestTimeout time.Duration

	// Sentinel is what Shutdown sends to stop the server
	Sentinel protocol.Sentinel

	Transport transport.Options

	// Queue receives the user facing log, a new one is made when nil
	Queue *logqueue.Queue

	Log *zap.Logger
}

// Client is a request-reply client that keeps its connection state and
// reports every exchange to its log queue.
type Client struct {
	addr  string
	opts  Options
	queue *logqueue.Queue
	state *ConnectionState
	log   *zap.Logger

	mu         sync.Mutex
	session    *transport.Session
	dispatcher *Dispatcher
}

func New(address string, opts Options) *Client {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	if opts.Queue == nil {
		opts.Queue = logqueue.New()
	}

	if opts.Sentinel == nil {
		opts.Sentinel = protocol.NumericShutdown
	}

	return &Client{
		addr:  address,
		opts:  opts,
		queue: opts.Queue,
		state: NewConnectionState(),
		log:   opts.Log.Named("client").With(zap.String("addr", address)),
	}
}

func (c *Client) Addr() string {
	return c.addr
}

func (c *Client) Queue() *logqueue.Queue {
	return c.queue
}

func (c *Client) State() *ConnectionState {
	return c.state
}

// Connect dials the server using the reconnect policy. It is a no-op when
// already connected. A session left over from a failed exchange is closed
// first.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// a live session is never replaced
	if c.session != nil && c.state.Connected() {
		c.queue.Push(logqueue.Info, "Already connected!")
		return nil
	}

	if c.session != nil {
		if err := c.session.Close(); err != nil {
			c.log.Warn("Failed to close stale session", zap.Error(err))
		}
		c.session = nil
		c.dispatcher = nil
	}

	policy := c.opts.Policy
	policy.Queue = c.queue
	policy.State = c.state
	policy.Log = c.log

	topts := c.opts.Transport
	if topts.Log == nil {
		topts.Log = c.log
	}

	s, err := Connect(ctx, c.addr, policy, topts)
	if err != nil {
		return err
	}

	c.session = s
	c.dispatcher = NewDispatcher(s, c.state, c.queue, DispatcherOptions{
		Busy:           c.opts.Busy,
		RequestTimeout: c.opts.RequestTimeout,
		Log:            c.log,
	})

	return nil
}

// SendNumbers submits a numeric array.
func (c *Client) SendNumbers(ctx context.Context, description string, xs []float64) (*Future, error) {
	d, err := c.current()
	if err != nil {
		return nil, err
	}

	return d.SubmitLabeled(ctx, description, protocol.Numeric(xs))
}

// Execute submits a text command.
func (c *Client) Execute(ctx context.Context, command string) (*Future, error) {
	d, err := c.current()
	if err != nil {
		return nil, err
	}

	return d.SubmitLabeled(ctx, "command", protocol.Text(command))
}

// Call submits an {"action": ...} request document.
func (c *Client) Call(ctx context.Context, action string, fields ...protocol.Field) (*Future, error) {
	d, err := c.current()
	if err != nil {
		return nil, err
	}

	body, err := protocol.NewRequest(action, fields...)
	if err != nil {
		c.queue.Push(logqueue.Error, "Invalid request: %v", err)
		return nil, err
	}

	return d.SubmitLabeled(ctx, action+" request", protocol.Document(body))
}

// Shutdown sends the shutdown sentinel, which the server does not answer,
// and closes the session.
func (c *Client) Shutdown(ctx context.Context) error {
	d, err := c.current()
	if err != nil {
		return err
	}

	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()

	c.queue.Push(logqueue.Send, "Sending shutdown signal")

	if err := d.session.Send(ctx, c.opts.Sentinel.Frame()); err != nil {
		c.queue.Push(logqueue.Error, "Failed to send shutdown signal: %v", err)
		return err
	}

	c.state.setConnected(false)

	return c.closeSession()
}

// Close drops the connection. Pending futures fail with ErrClosed.
func (c *Client) Close() error {
	c.state.setConnected(false)
	return c.closeSession()
}

func (c *Client) closeSession() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}

	err := c.session.Close()
	c.session = nil

	return err
}

func (c *Client) current() (*Dispatcher, error) {
	c.mu.Lock()
	d := c.dispatcher
	c.mu.Unlock()

	if d == nil || !c.state.Connected() {
		c.queue.Push(logqueue.Error, "Not connected to server")
		return nil, fmt.Errorf("%w: not connected to %s", protocol.ErrConnection, c.addr)
	}

	return d, nil
}
