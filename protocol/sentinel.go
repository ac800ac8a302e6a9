package protocol

import "bytes"

// Sentinel is a reserved message body that asks the receiving peer to shut
// down. Which body is reserved is a per-session setting, a nil Sentinel
// never matches.
type Sentinel []byte

var (
	// NumericShutdown is the single-element numeric array [-999.0].
	NumericShutdown = Sentinel(EncodeNumericArray([]float64{-999.0}))

	// PairShutdown is the single byte 255 used by pair sessions.
	PairShutdown = Sentinel([]byte{0xFF})
)

// Matches reports whether body is exactly the sentinel.
func (s Sentinel) Matches(body []byte) bool {
	if len(s) == 0 {
		return false
	}

	return bytes.Equal(s, body)
}

// Frame returns the frame that puts the sentinel on the wire.
func (s Sentinel) Frame() Frame {
	return Frame{Kind: KindShutdown, raw: []byte(s)}
}
