package transport

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/luma/numlink/protocol"
)

type Scheme string

const (
	SchemeTCP Scheme = "tcp"
	SchemeIPC Scheme = "ipc"
)

// Address is a parsed `tcp://host:port` or `ipc://path` endpoint.
type Address struct {
	Scheme Scheme

	// Host is host:port for tcp, the socket path for ipc
	Host string
}

func ParseAddress(s string) (Address, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: bad address %q: %v", protocol.ErrConnection, s, err)
	}

	switch Scheme(strings.ToLower(u.Scheme)) {
	case SchemeTCP:
		if _, _, err := net.SplitHostPort(u.Host); err != nil {
			return Address{}, fmt.Errorf("%w: bad tcp address %q: %v", protocol.ErrConnection, s, err)
		}
		return Address{Scheme: SchemeTCP, Host: u.Host}, nil

	case SchemeIPC:
		// ipc:///tmp/sock parses as an empty host and an absolute path,
		// ipc://relative/sock puts the first segment in the host
		path := u.Host + u.Path
		if path == "" {
			return Address{}, fmt.Errorf("%w: ipc address %q has no path", protocol.ErrConnection, s)
		}
		return Address{Scheme: SchemeIPC, Host: path}, nil

	default:
		return Address{}, fmt.Errorf("%w: unsupported scheme in %q", protocol.ErrConnection, s)
	}
}

// Network is the net package network name for the scheme.
func (a Address) Network() string {
	if a.Scheme == SchemeIPC {
		return "unix"
	}

	return "tcp"
}

func (a Address) String() string {
	return string(a.Scheme) + "://" + a.Host
}
