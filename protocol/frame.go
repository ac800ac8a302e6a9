package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

type FrameKind uint8

const (
	KindNone FrameKind = iota
	KindNumeric
	KindTopic
	KindText
	KindDocument
	KindShutdown
)

func (k FrameKind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindTopic:
		return "topic"
	case KindText:
		return "text"
	case KindDocument:
		return "document"
	case KindShutdown:
		return "shutdown"
	default:
		return "none"
	}
}

// Frame is one logical message exchanged over a session. Only the fields
// belonging to Kind are meaningful.
type Frame struct {
	Kind FrameKind

	// Values of a numeric frame
	Values []float64

	// Topic of a topic frame
	Topic string

	// Payload is the JSON body of a topic or document frame
	Payload []byte

	// Text of a text command frame
	Text string

	// raw is the sentinel body of a shutdown frame
	raw []byte
}

func Numeric(xs []float64) Frame {
	return Frame{Kind: KindNumeric, Values: xs}
}

func TopicMessage(topic string, payload []byte) Frame {
	return Frame{Kind: KindTopic, Topic: topic, Payload: payload}
}

func Text(s string) Frame {
	return Frame{Kind: KindText, Text: s}
}

func Document(body []byte) Frame {
	return Frame{Kind: KindDocument, Payload: body}
}

// IsShutdown reports whether the frame is a shutdown sentinel.
func (f Frame) IsShutdown() bool {
	return f.Kind == KindShutdown
}

// Empty reports whether the frame carries nothing at all.
func (f Frame) Empty() bool {
	return f.Kind == KindNone
}

// Encode serialises the frame into a message body.
func (f Frame) Encode() ([]byte, error) {
	switch f.Kind {
	case KindNumeric:
		return EncodeNumericArray(f.Values), nil

	case KindTopic:
		return EncodeTopicMessage(f.Topic, f.Payload)

	case KindText:
		return []byte(f.Text), nil

	case KindDocument:
		if !gjson.ValidBytes(f.Payload) {
			return nil, protocolErrorf("document frame is not valid JSON")
		}
		return f.Payload, nil

	case KindShutdown:
		if len(f.raw) == 0 {
			return nil, protocolErrorf("shutdown frame has no sentinel")
		}
		return f.raw, nil

	default:
		return nil, protocolErrorf("cannot encode a %s frame", f.Kind)
	}
}

// Decode parses body as a frame of the given kind. Sentinel recognition
// happens before this in the session, never here.
func Decode(kind FrameKind, body []byte) (Frame, error) {
	switch kind {
	case KindNumeric:
		xs, err := DecodeNumericArray(body)
		if err != nil {
			return Frame{}, err
		}
		return Numeric(xs), nil

	case KindTopic:
		topic, payload, err := DecodeTopicMessage(body)
		if err != nil {
			return Frame{}, err
		}
		return TopicMessage(topic, payload), nil

	case KindText:
		if !utf8.Valid(body) {
			return Frame{}, protocolErrorf("text frame is not valid UTF-8")
		}
		return Text(string(body)), nil

	case KindDocument:
		if !gjson.ValidBytes(body) {
			return Frame{}, protocolErrorf("document frame is not valid JSON")
		}
		return Document(body), nil

	default:
		return Frame{}, protocolErrorf("cannot decode into a %s frame", kind)
	}
}

// String renders a short preview suitable for logs.
func (f Frame) String() string {
	switch f.Kind {
	case KindNumeric:
		return PreviewValues(f.Values)
	case KindTopic:
		return f.Topic + " " + string(f.Payload)
	case KindText:
		return strconv.Quote(f.Text)
	case KindDocument:
		return string(f.Payload)
	case KindShutdown:
		return "<shutdown>"
	default:
		return "<empty>"
	}
}

// PreviewValues prints up to ten values in full, otherwise the first five
// and the total count.
func PreviewValues(xs []float64) string {
	shown := xs
	if len(xs) > 10 {
		shown = xs[:5]
	}

	parts := make([]string, 0, len(shown)+1)
	for _, x := range shown {
		parts = append(parts, fmt.Sprintf("%.2f", x))
	}

	if len(xs) > 10 {
		parts = append(parts, fmt.Sprintf("... %d total values", len(xs)))
	}

	return "[" + strings.Join(parts, ", ") + "]"
}
