package transport

import (
	"go.uber.org/zap"

	"github.com/luma/numlink/protocol"
)

type Options struct {
	// Reuseport controls setting SO_REUSEPORT on tcp listeners
	Reuseport bool

	// MaxMessageSize bounds inbound message bodies, DefaultMaxMessageSize if zero
	MaxMessageSize int

	// Sentinel is checked against every received body before decoding. Nil
	// disables the shutdown protocol for the session.
	Sentinel protocol.Sentinel

	// Inbound is how received bodies are decoded. Defaults to topic frames
	// for subscribers and text for everything else.
	Inbound protocol.FrameKind

	// Subscriptions are the initial topic prefixes of a subscriber
	Subscriptions []string

	// SendQueueSize is the per-subscriber backlog of a publisher before
	// messages to that subscriber are dropped
	SendQueueSize int

	Log *zap.Logger
}

const (
	defaultSendQueueSize = 127
	inboxSize            = 128
)

func (o Options) withDefaults(pattern Pattern) Options {
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}

	if o.SendQueueSize <= 0 {
		o.SendQueueSize = defaultSendQueueSize
	}

	if o.Inbound == protocol.KindNone {
		if pattern == Subscriber {
			o.Inbound = protocol.KindTopic
		} else {
			o.Inbound = protocol.KindText
		}
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	return o
}
