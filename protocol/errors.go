package protocol

import (
	"errors"
	"fmt"
)

// The error taxonomy shared by servers and clients. Errors returned by
// numlink wrap exactly one of these, test with errors.Is.
var (
	// ErrConnection is a dial or listen failure, or exhausted retries.
	ErrConnection = errors.New("connection error")

	// ErrProtocol is a malformed frame: wrong byte length, missing
	// delimiter, invalid JSON or a handshake mismatch.
	ErrProtocol = errors.New("protocol error")

	// ErrBusy means a request was attempted on a session already mid-exchange.
	ErrBusy = errors.New("session busy")

	// ErrRemote means the peer reported a logical failure.
	ErrRemote = errors.New("remote error")

	// ErrClosed means the operation was attempted after the session was closed.
	ErrClosed = errors.New("session closed")

	// ErrIO is a transport level read or write failure.
	ErrIO = errors.New("io error")
)

// RemoteError carries the message a peer sent with a "status":"error"
// response, or the literal error payload.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: %s", e.Message)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// Kind names the taxonomy class of err, "unknown" when it has none. Used
// as a log field and a metric label.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrRemote):
		return "remote"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, ErrIO):
		return "io"
	default:
		return "unknown"
	}
}

func protocolErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}
