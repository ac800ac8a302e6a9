package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/luma/numlink/internal/metrics"
	"github.com/luma/numlink/logqueue"
	"github.com/luma/numlink/protocol"
)

// Requester is the half of a request-reply session the dispatcher uses.
// *transport.Session satisfies it.
type Requester interface {
	Send(ctx context.Context, f protocol.Frame) error
	Receive(ctx context.Context) (protocol.Frame, error)
}

// BusyPolicy decides what Submit does while another request holds the
// session.
type BusyPolicy int

const (
	// BlockWhenBusy waits for the running request to finish
	BlockWhenBusy BusyPolicy = iota

	// FailWhenBusy returns ErrBusy straight away
	FailWhenBusy
)

func (p BusyPolicy) String() string {
	if p == FailWhenBusy {
		return "fail"
	}
	return "block"
}

// splitThreshold is the length above which text responses are logged one
// line per entry.
const splitThreshold = 80

type DispatcherOptions struct {
	Busy BusyPolicy

	// RequestTimeout bounds each round trip. Zero waits forever.
	RequestTimeout time.Duration

	Log *zap.Logger
}

// PendingRequest is one in-flight exchange.
type PendingRequest struct {
	ID          uuid.UUID
	Description string
	Frame       protocol.Frame
	Submitted   time.Time

	// Deadline is zero when the request has no timeout
	Deadline time.Time
}

// Future resolves once the response to a submitted request arrives or the
// exchange fails.
type Future struct {
	Request PendingRequest

	done chan struct{}
	resp protocol.Frame
	err  error
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the exchange has finished or ctx is done.
func (f *Future) Wait(ctx context.Context) (protocol.Frame, error) {
	select {
	case <-f.done:
		return f.resp, f.err

	case <-ctx.Done():
		return protocol.Frame{}, ctx.Err()
	}
}

func (f *Future) resolve(resp protocol.Frame, err error) {
	f.resp = resp
	f.err = err
	close(f.done)
}

// Dispatcher runs request-reply exchanges in the background, one at a time
// per session, and reports everything that happens to a log queue.
type Dispatcher struct {
	session Requester
	state   *ConnectionState
	queue   *logqueue.Queue

	// sem holds a token while an exchange owns the session
	sem chan struct{}

	busy    BusyPolicy
	timeout time.Duration

	log *zap.Logger
}

func NewDispatcher(session Requester, state *ConnectionState, queue *logqueue.Queue, opts DispatcherOptions) *Dispatcher {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	if state == nil {
		state = NewConnectionState()
		state.setConnected(true)
	}

	if queue == nil {
		queue = logqueue.New()
	}

	return &Dispatcher{
		session: session,
		state:   state,
		queue:   queue,
		sem:     make(chan struct{}, 1),
		busy:    opts.Busy,
		timeout: opts.RequestTimeout,
		log:     log.Named("dispatcher"),
	}
}

// Submit sends f and receives the response on a background goroutine.
func (d *Dispatcher) Submit(ctx context.Context, f protocol.Frame) (*Future, error) {
	return d.SubmitLabeled(ctx, describe(f), f)
}

// SubmitLabeled is Submit with the description used in the log entries.
func (d *Dispatcher) SubmitLabeled(ctx context.Context, description string, f protocol.Frame) (*Future, error) {
	if err := d.checkConnected(); err != nil {
		return nil, err
	}

	if err := d.acquire(ctx); err != nil {
		return nil, err
	}

	// a failed exchange may have finished while we waited
	if err := d.checkConnected(); err != nil {
		d.release()
		return nil, err
	}

	now := time.Now()
	req := PendingRequest{
		ID:          uuid.New(),
		Description: description,
		Frame:       f,
		Submitted:   now,
	}

	if d.timeout > 0 {
		req.Deadline = now.Add(d.timeout)
	}

	future := &Future{Request: req, done: make(chan struct{})}

	go func() {
		resp, err := d.exchange(context.WithoutCancel(ctx), req)
		d.release()
		future.resolve(resp, err)
	}()

	return future, nil
}

func (d *Dispatcher) State() *ConnectionState {
	return d.state
}

// Busy reports whether an exchange currently owns the session.
func (d *Dispatcher) Busy() bool {
	return len(d.sem) > 0
}

func (d *Dispatcher) checkConnected() error {
	if d.state.Connected() {
		return nil
	}

	d.queue.Push(logqueue.Error, "Not connected to server")
	metrics.Requests.WithLabelValues(protocol.Kind(protocol.ErrConnection)).Inc()

	return fmt.Errorf("%w: not connected", protocol.ErrConnection)
}

func (d *Dispatcher) acquire(ctx context.Context) error {
	if d.busy == FailWhenBusy {
		select {
		case d.sem <- struct{}{}:
			return nil

		default:
			d.queue.Push(logqueue.Error, "Busy: a request is already in flight")
			metrics.Requests.WithLabelValues(protocol.Kind(protocol.ErrBusy)).Inc()
			return fmt.Errorf("%w: a request is already in flight", protocol.ErrBusy)
		}
	}

	select {
	case d.sem <- struct{}{}:
		return nil

	case <-ctx.Done():
		d.queue.Push(logqueue.Error, "Gave up waiting for the running request: %v", ctx.Err())
		metrics.Requests.WithLabelValues(protocol.Kind(ctx.Err())).Inc()
		return fmt.Errorf("waiting for the session: %w", ctx.Err())
	}
}

func (d *Dispatcher) release() {
	<-d.sem
}

func (d *Dispatcher) exchange(ctx context.Context, req PendingRequest) (protocol.Frame, error) {
	log := d.log.With(zap.Stringer("request", req.ID))

	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	size, err := d.logRequest(req)
	if err != nil {
		return protocol.Frame{}, d.fail(log, err)
	}

	log.Debug("Sending request", zap.Stringer("kind", req.Frame.Kind), zap.Int("bytes", size))

	if err := d.session.Send(ctx, req.Frame); err != nil {
		return protocol.Frame{}, d.fail(log, err)
	}

	resp, err := d.session.Receive(ctx)
	if err != nil {
		return protocol.Frame{}, d.fail(log, err)
	}

	raw := responseText(resp)
	d.queue.Push(logqueue.Receive, "Raw response: '%s'", raw)

	if err := protocol.CheckResponse([]byte(raw)); err != nil && !errors.Is(err, protocol.ErrProtocol) {
		return protocol.Frame{}, d.fail(log, err)
	}

	d.logResponse(raw)

	elapsed := time.Since(req.Submitted)
	metrics.Requests.WithLabelValues("success").Inc()
	metrics.RequestDuration.Observe(elapsed.Seconds())
	log.Debug("Request complete", zap.Duration("elapsed", elapsed))

	return resp, nil
}

// logRequest reports what is about to be sent and returns its encoded size.
func (d *Dispatcher) logRequest(req PendingRequest) (int, error) {
	body, err := req.Frame.Encode()
	if err != nil {
		return 0, err
	}

	d.queue.Push(logqueue.Send, "Sending %s: %s", req.Description, req.Frame)

	if req.Frame.Kind == protocol.KindNumeric {
		d.queue.Push(logqueue.Info, "Data size: %d values, %d bytes", len(req.Frame.Values), len(body))
	} else {
		d.queue.Push(logqueue.Info, "Data size: %d bytes", len(body))
	}

	return len(body), nil
}

func (d *Dispatcher) logResponse(raw string) {
	doc := gjson.Parse(raw)

	if gjson.Valid(raw) && doc.IsObject() {
		d.queue.Push(logqueue.Success, "Response fields:")
		doc.ForEach(func(key, value gjson.Result) bool {
			d.queue.Push(logqueue.Info, "  %s: %s", key.String(), fieldText(value))
			return true
		})
		return
	}

	if len(raw) > splitThreshold {
		for _, line := range strings.Split(raw, "\n") {
			d.queue.Push(logqueue.Info, "  %s", line)
		}
		return
	}

	d.queue.Push(logqueue.Info, "  %s", raw)
}

// fail records a failed exchange: one error entry, the session marked
// disconnected, no retry.
func (d *Dispatcher) fail(log *zap.Logger, err error) error {
	kind := protocol.Kind(err)

	log.Warn("Request failed", zap.String("kind", kind), zap.Error(err))
	d.queue.Push(logqueue.Error, "Communication error: %v", err)
	metrics.Requests.WithLabelValues(kind).Inc()
	d.state.setConnected(false)

	return err
}

func describe(f protocol.Frame) string {
	switch f.Kind {
	case protocol.KindNumeric:
		return "data"
	case protocol.KindText:
		return "command"
	default:
		return "request"
	}
}

func responseText(f protocol.Frame) string {
	switch f.Kind {
	case protocol.KindText:
		return strings.TrimSpace(f.Text)
	case protocol.KindDocument, protocol.KindTopic:
		return strings.TrimSpace(string(f.Payload))
	default:
		return f.String()
	}
}

func fieldText(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	return v.Raw
}
