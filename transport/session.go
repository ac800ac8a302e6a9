package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/numlink/internal/metrics"
	"github.com/luma/numlink/protocol"
)

type Role int

const (
	Listen Role = iota
	Dial
)

func (r Role) String() string {
	if r == Dial {
		return "dial"
	}
	return "listen"
}

type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// requestIDFlag marks the last word of a request-reply header
const requestIDFlag = 0x80000000

type message struct {
	pipe *pipe
	body []byte
	err  error
}

// Session owns one socket endpoint of a given pattern. Listening sessions
// accept any number of peers (one for pairs), dialing sessions own exactly
// one connection and never redial on their own.
type Session struct {
	pattern Pattern
	role    Role
	addr    Address
	opts    Options
	log     *zap.Logger

	state atomic.Int32

	listener net.Listener

	mu sync.Mutex
	// pipes maps every accepted or dialed connection to whether its
	// handshake has completed
	pipes     map[*pipe]bool
	pipeAdded chan struct{}
	subs      [][]byte

	inbox chan message

	// request-reply bookkeeping
	exMu        sync.Mutex
	nextID      uint32
	pending     bool
	pendingID   uint32
	replying    bool
	replyTo     *pipe
	replyHeader []byte

	closed    chan struct{}
	closeOnce sync.Once
	loops     sync.WaitGroup
}

// Open binds (Listen) or connects (Dial) a session. The address scheme
// selects tcp or a unix domain socket.
func Open(ctx context.Context, pattern Pattern, address string, role Role, options Options) (*Session, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	opts := options.withDefaults(pattern)

	s := &Session{
		pattern:   pattern,
		role:      role,
		addr:      addr,
		opts:      opts,
		log:       opts.Log.Named(pattern.String()).With(zap.String("addr", addr.String()), zap.Stringer("role", role)),
		pipes:     make(map[*pipe]bool),
		pipeAdded: make(chan struct{}),
		inbox:     make(chan message, inboxSize),
		closed:    make(chan struct{}),
	}

	for _, sub := range opts.Subscriptions {
		s.subs = append(s.subs, []byte(sub))
	}

	s.state.Store(int32(StateConnecting))

	if role == Listen {
		err = s.listen()
	} else {
		err = s.dial(ctx)
	}

	if err != nil {
		s.state.Store(int32(StateClosed))
		return nil, err
	}

	s.state.Store(int32(StateOpen))
	s.log.Info("Session open")

	return s, nil
}

func (s *Session) Pattern() Pattern {
	return s.pattern
}

func (s *Session) Role() Role {
	return s.role
}

func (s *Session) Addr() Address {
	return s.addr
}

// LocalAddress is the address peers can dial. For tcp listeners bound to
// port 0 it carries the port that was picked.
func (s *Session) LocalAddress() string {
	if s.listener != nil && s.addr.Scheme == SchemeTCP {
		return string(SchemeTCP) + "://" + s.listener.Addr().String()
	}

	return s.addr.String()
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Peers returns the number of connected peers that completed the handshake.
func (s *Session) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readyCount()
}

func (s *Session) listen() error {
	var (
		l   net.Listener
		err error
	)

	switch {
	case s.addr.Scheme == SchemeIPC:
		removeStaleSocket(s.addr.Host)
		l, err = net.Listen("unix", s.addr.Host)

	case s.opts.Reuseport:
		l, err = reuseport.Listen("tcp", s.addr.Host)

	default:
		l, err = net.Listen("tcp", s.addr.Host)
	}

	if err != nil {
		return fmt.Errorf("%w: listen on %s: %v", protocol.ErrConnection, s.addr, err)
	}

	s.listener = l

	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		s.acceptLoop()
	}()

	return nil
}

func (s *Session) dial(ctx context.Context) error {
	var d net.Dialer

	conn, err := d.DialContext(ctx, s.addr.Network(), s.addr.Host)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", protocol.ErrConnection, s.addr, err)
	}

	p := newPipe(conn, s.addr.Scheme == SchemeIPC, s.opts.MaxMessageSize)

	if err := p.handshake(s.pattern); err != nil {
		p.close()
		return fmt.Errorf("%w: handshake with %s: %v", protocol.ErrConnection, s.addr, err)
	}

	s.mu.Lock()
	s.pipes[p] = false
	s.mu.Unlock()

	s.ready(p)

	return nil
}

func (s *Session) acceptLoop() {
	log := s.log.Named("acceptLoop")

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.isRunning() || errors.Is(err, net.ErrClosed) {
				// The listener was closed while we were waiting for new
				// connections, that's fine.
				return
			}

			log.Warn("Failed to accept connection", zap.Error(err))
			return
		}

		p := newPipe(conn, s.addr.Scheme == SchemeIPC, s.opts.MaxMessageSize)

		s.mu.Lock()
		if !s.isRunning() {
			s.mu.Unlock()
			p.close()
			return
		}
		s.pipes[p] = false
		s.mu.Unlock()

		s.loops.Add(1)
		go func() {
			defer s.loops.Done()

			if err := p.handshake(s.pattern); err != nil {
				log.Warn("Handshake failed", zap.String("remote", remoteAddr(conn)), zap.Error(err))
				s.removePipe(p)
				return
			}

			s.ready(p)
		}()
	}
}

// ready marks a handshaken pipe usable and starts its loops.
func (s *Session) ready(p *pipe) {
	s.mu.Lock()

	if !s.isRunning() {
		s.mu.Unlock()
		p.close()
		return
	}

	if s.pattern == PairPeer && s.readyCount() > 0 {
		s.mu.Unlock()
		s.log.Warn("Rejecting second pair peer", zap.String("remote", remoteAddr(p.conn)))
		s.removePipe(p)
		return
	}

	if s.pattern == Publisher {
		p.queue = make(chan []byte, s.opts.SendQueueSize)
	}

	s.pipes[p] = true
	close(s.pipeAdded)
	s.pipeAdded = make(chan struct{})

	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		s.readLoop(p)
	}()

	if p.queue != nil {
		s.loops.Add(1)
		go func() {
			defer s.loops.Done()
			s.writeLoop(p)
		}()
	}

	s.mu.Unlock()

	metrics.Peers.WithLabelValues(s.pattern.String()).Inc()
	s.log.Debug("Peer connected", zap.String("remote", remoteAddr(p.conn)))
}

// readyCount must be called with mu held
func (s *Session) readyCount() int {
	n := 0
	for _, ready := range s.pipes {
		if ready {
			n++
		}
	}
	return n
}

func (s *Session) removePipe(p *pipe) {
	s.mu.Lock()
	ready, ok := s.pipes[p]
	delete(s.pipes, p)
	s.mu.Unlock()

	if ok && ready {
		metrics.Peers.WithLabelValues(s.pattern.String()).Dec()
	}

	p.close()
}

func (s *Session) readLoop(p *pipe) {
	log := s.log.Named("readLoop")
	defer s.removePipe(p)

	for {
		body, err := p.readMsg()
		if err != nil {
			if !s.isRunning() {
				return
			}

			log.Info("Peer disconnected", zap.Error(err))

			if s.role == Dial {
				s.deliver(message{pipe: p, err: fmt.Errorf("%w: peer %s disconnected: %v", protocol.ErrIO, s.addr, err)})
			}
			return
		}

		switch s.pattern {
		case Publisher:
			// subscribers never talk back
			metrics.FramesDropped.WithLabelValues(s.pattern.String(), "unexpected").Inc()
			continue

		case Subscriber:
			if !s.subscribed(body) {
				metrics.FramesDropped.WithLabelValues(s.pattern.String(), "filtered").Inc()
				continue
			}
		}

		if !s.deliver(message{pipe: p, body: body}) {
			return
		}
	}
}

// writeLoop drains a publisher pipe's queue so one slow subscriber never
// holds up the others.
func (s *Session) writeLoop(p *pipe) {
	for {
		select {
		case <-s.closed:
			return

		case <-p.done:
			return

		case body := <-p.queue:
			if err := p.writeMsg(nil, body); err != nil {
				s.log.Info("Dropping subscriber after failed write", zap.Error(err))
				p.close()
				return
			}
		}
	}
}

func (s *Session) deliver(m message) bool {
	select {
	case s.inbox <- m:
		return true
	case <-s.closed:
		return false
	}
}

// Subscribe adds a topic prefix filter. Only subscribers have filters.
func (s *Session) Subscribe(prefix string) error {
	if s.pattern != Subscriber {
		return fmt.Errorf("%w: %s sessions cannot subscribe", protocol.ErrProtocol, s.pattern)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		if string(sub) == prefix {
			return nil
		}
	}

	s.subs = append(s.subs, []byte(prefix))
	return nil
}

func (s *Session) Unsubscribe(prefix string) error {
	if s.pattern != Subscriber {
		return fmt.Errorf("%w: %s sessions cannot unsubscribe", protocol.ErrProtocol, s.pattern)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subs {
		if string(sub) == prefix {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return nil
		}
	}

	return nil
}

func (s *Session) subscribed(body []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		if bytes.HasPrefix(body, sub) {
			return true
		}
	}

	return false
}

// Send encodes f and writes it with the pattern's semantics. Publishers
// never block, request-reply clients must receive a reply before sending
// again, and request-reply servers answer the last received request.
func (s *Session) Send(ctx context.Context, f protocol.Frame) error {
	if !s.isRunning() {
		return protocol.ErrClosed
	}

	body, err := f.Encode()
	if err != nil {
		return err
	}

	switch s.pattern {
	case Subscriber:
		return fmt.Errorf("%w: subscribers cannot send", protocol.ErrProtocol)

	case Publisher:
		s.publish(body)

	case PairPeer:
		p, err := s.waitPipe(ctx)
		if err != nil {
			return err
		}
		if err := p.writeMsg(nil, body); err != nil {
			return err
		}

	case ReqReplyClient:
		if err := s.sendRequest(ctx, body); err != nil {
			return err
		}

	case ReqReplyServer:
		if err := s.sendReply(body); err != nil {
			return err
		}
	}

	metrics.FramesSent.WithLabelValues(s.pattern.String()).Inc()
	return nil
}

func (s *Session) publish(body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for p, ready := range s.pipes {
		if !ready || p.queue == nil {
			continue
		}

		select {
		case p.queue <- body:
		default:
			metrics.FramesDropped.WithLabelValues(s.pattern.String(), "slow_peer").Inc()
		}
	}
}

func (s *Session) sendRequest(ctx context.Context, body []byte) error {
	s.exMu.Lock()
	if s.pending {
		s.exMu.Unlock()
		return fmt.Errorf("%w: request %d is still waiting for its reply", protocol.ErrBusy, s.pendingID&^requestIDFlag)
	}

	s.nextID++
	id := s.nextID | requestIDFlag
	s.pending = true
	s.pendingID = id
	s.exMu.Unlock()

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], id)

	p, err := s.waitPipe(ctx)
	if err == nil {
		err = p.writeMsg(header[:], body)
	}

	if err != nil {
		s.exMu.Lock()
		s.pending = false
		s.exMu.Unlock()
		return err
	}

	return nil
}

func (s *Session) sendReply(body []byte) error {
	s.exMu.Lock()
	if !s.replying {
		s.exMu.Unlock()
		return fmt.Errorf("%w: no request to reply to", protocol.ErrProtocol)
	}

	p, header := s.replyTo, s.replyHeader
	s.replying = false
	s.replyTo = nil
	s.replyHeader = nil
	s.exMu.Unlock()

	return p.writeMsg(header, body)
}

// waitPipe returns a connected peer, waiting for one to arrive on
// listening sessions.
func (s *Session) waitPipe(ctx context.Context) (*pipe, error) {
	for {
		s.mu.Lock()
		for p, ready := range s.pipes {
			if ready {
				s.mu.Unlock()
				return p, nil
			}
		}
		added := s.pipeAdded
		s.mu.Unlock()

		if s.role == Dial {
			return nil, fmt.Errorf("%w: not connected to %s", protocol.ErrIO, s.addr)
		}

		select {
		case <-added:
		case <-s.closed:
			return nil, protocol.ErrClosed
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: waiting for a peer: %w", protocol.ErrIO, ctx.Err())
		}
	}
}

// Receive blocks until a frame arrives, the session is closed (ErrClosed)
// or ctx is done. A body equal to the session's sentinel is returned as a
// shutdown frame without being decoded.
func (s *Session) Receive(ctx context.Context) (protocol.Frame, error) {
	switch s.pattern {
	case Publisher:
		return protocol.Frame{}, fmt.Errorf("%w: publishers cannot receive", protocol.ErrProtocol)

	case ReqReplyClient:
		s.exMu.Lock()
		pending := s.pending
		s.exMu.Unlock()

		if !pending {
			return protocol.Frame{}, fmt.Errorf("%w: receive without a request in flight", protocol.ErrProtocol)
		}
	}

	for {
		var m message

		select {
		case m = <-s.inbox:
		case <-s.closed:
			s.abandonRequest()
			return protocol.Frame{}, protocol.ErrClosed
		case <-ctx.Done():
			s.abandonRequest()
			return protocol.Frame{}, fmt.Errorf("%w: receive: %w", protocol.ErrIO, ctx.Err())
		}

		if m.err != nil {
			s.abandonRequest()
			return protocol.Frame{}, m.err
		}

		body, ok := s.unwrap(m)
		if !ok {
			continue
		}

		metrics.FramesReceived.WithLabelValues(s.pattern.String()).Inc()

		if s.opts.Sentinel.Matches(body) {
			return s.opts.Sentinel.Frame(), nil
		}

		return protocol.Decode(s.opts.Inbound, body)
	}
}

// abandonRequest forgets the request in flight. A reply that still arrives
// for it is dropped as stale.
func (s *Session) abandonRequest() {
	if s.pattern != ReqReplyClient {
		return
	}

	s.exMu.Lock()
	s.pending = false
	s.pendingID = 0
	s.exMu.Unlock()
}

// unwrap strips request-reply headers, dropping stale replies and
// malformed requests.
func (s *Session) unwrap(m message) ([]byte, bool) {
	switch s.pattern {
	case ReqReplyClient:
		if len(m.body) < 4 {
			metrics.FramesDropped.WithLabelValues(s.pattern.String(), "malformed").Inc()
			return nil, false
		}

		id := binary.BigEndian.Uint32(m.body[:4])

		s.exMu.Lock()
		defer s.exMu.Unlock()

		if !s.pending || id != s.pendingID {
			metrics.FramesDropped.WithLabelValues(s.pattern.String(), "stale").Inc()
			return nil, false
		}

		s.pending = false
		return m.body[4:], true

	case ReqReplyServer:
		// The header is a backtrace of 32 bit words, the last one has the
		// high bit set and is the request id.
		end := -1
		for i := 0; i+4 <= len(m.body); i += 4 {
			if binary.BigEndian.Uint32(m.body[i:])&requestIDFlag != 0 {
				end = i + 4
				break
			}
		}

		if end < 0 {
			metrics.FramesDropped.WithLabelValues(s.pattern.String(), "malformed").Inc()
			return nil, false
		}

		header := make([]byte, end)
		copy(header, m.body[:end])

		s.exMu.Lock()
		s.replying = true
		s.replyTo = m.pipe
		s.replyHeader = header
		s.exMu.Unlock()

		return m.body[end:], true

	default:
		return m.body, true
	}
}

// Close releases the listener and every connection. Receive calls blocked
// on the session return ErrClosed. Calling Close more than once is fine.
func (s *Session) Close() error {
	var err error

	s.closeOnce.Do(func() {
		s.log.Info("Closing session")

		s.mu.Lock()
		s.state.Store(int32(StateClosed))
		close(s.closed)
		pipes := make([]*pipe, 0, len(s.pipes))
		for p := range s.pipes {
			pipes = append(pipes, p)
		}
		s.mu.Unlock()

		if s.listener != nil {
			err = multierr.Append(err, s.listener.Close())

			if s.addr.Scheme == SchemeIPC {
				removeStaleSocket(s.addr.Host)
			}
		}

		for _, p := range pipes {
			err = multierr.Append(err, p.close())
		}

		s.loops.Wait()
		s.log.Info("Session closed")
	})

	return err
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// isRunning returns true if Close has not been called
func (s *Session) isRunning() bool {
	select {
	case <-s.closed:
		return false

	default:
		return true
	}
}

func removeStaleSocket(path string) {
	if fi, err := os.Stat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		os.Remove(path)
	}
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil && addr.String() != "" {
		return addr.String()
	}

	return "local"
}
