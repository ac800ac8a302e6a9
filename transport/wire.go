package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/luma/numlink/protocol"
)

// Messages use the Scalability Protocols wire (as spoken by NNG):
//
//   handshake: 0x00 'S' 'P' 0x00 <protocol uint16 BE> 0x00 0x00
//   tcp msg:   <length uint64 BE> <body>
//   ipc msg:   0x01 <length uint64 BE> <body>

const (
	handshakeSize = 8
	ipcMsgType    = 0x01

	// DefaultMaxMessageSize bounds a single inbound message body
	DefaultMaxMessageSize = 1 << 20

	handshakeTimeout = 10 * time.Second
)

type Pattern int

const (
	ReqReplyServer Pattern = iota
	ReqReplyClient
	Publisher
	Subscriber
	PairPeer
)

func (p Pattern) String() string {
	switch p {
	case ReqReplyServer:
		return "rep"
	case ReqReplyClient:
		return "req"
	case Publisher:
		return "pub"
	case Subscriber:
		return "sub"
	case PairPeer:
		return "pair"
	default:
		return "unknown"
	}
}

// spID is the protocol number announced in the handshake.
func (p Pattern) spID() uint16 {
	switch p {
	case PairPeer:
		return 0x10
	case Publisher:
		return 0x20
	case Subscriber:
		return 0x21
	case ReqReplyClient:
		return 0x30
	case ReqReplyServer:
		return 0x31
	default:
		return 0
	}
}

// peer is the only pattern a session of this pattern may talk to.
func (p Pattern) peer() Pattern {
	switch p {
	case Publisher:
		return Subscriber
	case Subscriber:
		return Publisher
	case ReqReplyClient:
		return ReqReplyServer
	case ReqReplyServer:
		return ReqReplyClient
	default:
		return PairPeer
	}
}

type pipe struct {
	conn    net.Conn
	ipc     bool
	maxSize int

	r   *bufio.Reader
	wmu sync.Mutex

	// queue feeds the publisher write loop, nil for other patterns
	queue chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newPipe(conn net.Conn, ipc bool, maxSize int) *pipe {
	return &pipe{
		conn:    conn,
		ipc:     ipc,
		maxSize: maxSize,
		r:       bufio.NewReader(conn),
		done:    make(chan struct{}),
	}
}

// handshake exchanges protocol headers and checks the peer speaks the
// complementary pattern.
func (p *pipe) handshake(self Pattern) error {
	if err := p.conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrIO, err)
	}
	defer p.conn.SetDeadline(time.Time{})

	out := [handshakeSize]byte{0x00, 'S', 'P', 0x00}
	binary.BigEndian.PutUint16(out[4:], self.spID())

	if _, err := p.conn.Write(out[:]); err != nil {
		return fmt.Errorf("%w: write handshake: %v", protocol.ErrIO, err)
	}

	var in [handshakeSize]byte
	if _, err := io.ReadFull(p.r, in[:]); err != nil {
		return fmt.Errorf("%w: read handshake: %v", protocol.ErrIO, err)
	}

	if in[0] != 0x00 || in[1] != 'S' || in[2] != 'P' || in[3] != 0x00 || in[6] != 0 || in[7] != 0 {
		return fmt.Errorf("%w: peer did not send an SP handshake", protocol.ErrProtocol)
	}

	if got := binary.BigEndian.Uint16(in[4:]); got != self.peer().spID() {
		return fmt.Errorf("%w: %s cannot talk to protocol 0x%02x", protocol.ErrProtocol, self, got)
	}

	return nil
}

func (p *pipe) readMsg() ([]byte, error) {
	if p.ipc {
		t, err := p.r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrIO, err)
		}
		if t != ipcMsgType {
			return nil, fmt.Errorf("%w: unknown ipc message type 0x%02x", protocol.ErrProtocol, t)
		}
	}

	var lenBuf [8]byte
	if _, err := io.ReadFull(p.r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrIO, err)
	}

	size := binary.BigEndian.Uint64(lenBuf[:])
	if size > uint64(p.maxSize) {
		return nil, fmt.Errorf("%w: message of %d bytes exceeds the %d byte limit",
			protocol.ErrProtocol, size, p.maxSize)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(p.r, body); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrIO, err)
	}

	return body, nil
}

// writeMsg writes header and body as one message. Concurrent writers are
// serialised so messages never interleave on the wire.
func (p *pipe) writeMsg(header, body []byte) error {
	prefix := make([]byte, 0, 9)
	if p.ipc {
		prefix = append(prefix, ipcMsgType)
	}
	prefix = binary.BigEndian.AppendUint64(prefix, uint64(len(header)+len(body)))

	bufs := net.Buffers{prefix, header, body}

	p.wmu.Lock()
	defer p.wmu.Unlock()

	if _, err := bufs.WriteTo(p.conn); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrIO, err)
	}

	return nil
}

func (p *pipe) close() error {
	var err error

	p.closeOnce.Do(func() {
		close(p.done)
		err = p.conn.Close()
	})

	return err
}
