package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"

	"github.com/tidwall/gjson"
)

const (
	// Float64Size is the width of one value in a numeric frame.
	Float64Size = 8

	// TopicDelimiter separates the topic from the JSON payload.
	TopicDelimiter byte = 0x00
)

// EncodeNumericArray writes every value as 8 native-order bytes. There is no
// header and no length prefix, the message boundary is the transport's.
func EncodeNumericArray(xs []float64) []byte {
	b := make([]byte, len(xs)*Float64Size)

	for i, x := range xs {
		binary.NativeEndian.PutUint64(b[i*Float64Size:], math.Float64bits(x))
	}

	return b
}

// DecodeNumericArray reinterprets b as a sequence of float64 values.
func DecodeNumericArray(b []byte) ([]float64, error) {
	if len(b)%Float64Size != 0 {
		return nil, protocolErrorf("numeric frame of %d bytes is not a multiple of %d", len(b), Float64Size)
	}

	xs := make([]float64, len(b)/Float64Size)
	for i := range xs {
		xs[i] = math.Float64frombits(binary.NativeEndian.Uint64(b[i*Float64Size:]))
	}

	return xs, nil
}

// EncodeTopicMessage builds `topic 0x00 payload`. The payload must already
// be a JSON document.
func EncodeTopicMessage(topic string, payload []byte) ([]byte, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(payload) {
		return nil, protocolErrorf("payload for topic %q is not valid JSON", topic)
	}

	b := make([]byte, 0, len(topic)+1+len(payload))
	b = append(b, topic...)
	b = append(b, TopicDelimiter)
	b = append(b, payload...)

	return b, nil
}

// MarshalTopicMessage is EncodeTopicMessage for a Go value.
func MarshalTopicMessage(topic string, v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, protocolErrorf("marshal payload for topic %q: %v", topic, err)
	}

	return EncodeTopicMessage(topic, payload)
}

// DecodeTopicMessage splits b at the first delimiter byte.
func DecodeTopicMessage(b []byte) (string, []byte, error) {
	i := bytes.IndexByte(b, TopicDelimiter)
	if i < 0 {
		return "", nil, protocolErrorf("topic message is missing its delimiter")
	}

	payload := b[i+1:]
	if !gjson.ValidBytes(payload) {
		return "", nil, protocolErrorf("payload for topic %q is not valid JSON", string(b[:i]))
	}

	return string(b[:i]), payload, nil
}

// ValidateTopic rejects topics that contain the delimiter byte.
func ValidateTopic(topic string) error {
	if bytes.IndexByte([]byte(topic), TopicDelimiter) >= 0 {
		return protocolErrorf("topic %q contains the delimiter byte", topic)
	}

	return nil
}
