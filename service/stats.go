package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/tidwall/sjson"

	"github.com/luma/numlink/protocol"
	"github.com/luma/numlink/transport"
)

var (
	ErrNoValues  = errors.New("no values to describe")
	ErrNotFinite = errors.New("values are not finite")
)

// BasicStats reports mean, population standard deviation, min, max and
// length, in that order.
type BasicStats struct{}

func (BasicStats) Describe(ctx context.Context, values []float64) ([]byte, error) {
	if len(values) == 0 {
		return nil, ErrNoValues
	}

	mean, std := meanStd(values)
	if !finite(mean, std) {
		return nil, ErrNotFinite
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	return build([]protocol.Field{
		protocol.F("mean", mean),
		protocol.F("std", std),
		protocol.F("min", lo),
		protocol.F("max", hi),
		protocol.F("length", len(values)),
	})
}

// NumericHandler answers numeric requests with the engine's summary.
func NumericHandler(engine StatisticsEngine) transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, req protocol.Frame) (protocol.Frame, error) {
		if req.Kind != protocol.KindNumeric {
			return protocol.Frame{}, fmt.Errorf("%w: expected numeric data, got %s", protocol.ErrProtocol, req.Kind)
		}

		doc, err := engine.Describe(ctx, req.Values)
		if err != nil {
			return protocol.Frame{}, err
		}

		return protocol.Document(doc), nil
	})
}

// meanStd returns the mean and the population standard deviation.
func meanStd(values []float64) (float64, float64) {
	n := float64(len(values))

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}

	return mean, math.Sqrt(sq / n)
}

func finite(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// build writes fields into a fresh object in the given order.
func build(fields []protocol.Field) ([]byte, error) {
	doc := []byte(`{}`)

	var err error
	for _, f := range fields {
		doc, err = sjson.SetBytes(doc, protocol.EscapeKey(f.Key), f.Value)
		if err != nil {
			return nil, fmt.Errorf("set %s: %w", f.Key, err)
		}
	}

	return doc, nil
}
