package service

import (
	"context"
	"fmt"

	"github.com/luma/numlink/protocol"
	"github.com/luma/numlink/transport"
)

// Standardize scales values to zero mean and unit variance. A constant
// array scales to zeros.
func Standardize(values []float64) []float64 {
	mean, std := meanStd(values)
	if std == 0 {
		std = 1
	}

	scaled := make([]float64, len(values))
	for i, v := range values {
		scaled[i] = (v - mean) / std
	}

	return scaled
}

// StandardizeHandler answers numeric arrays of two or more values with the
// standardized array and its moments. Shorter arrays get no reply.
func StandardizeHandler() transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, req protocol.Frame) (protocol.Frame, error) {
		if req.Kind != protocol.KindNumeric {
			return protocol.Frame{}, fmt.Errorf("%w: expected numeric data, got %s", protocol.ErrProtocol, req.Kind)
		}

		if len(req.Values) <= 1 {
			return protocol.Frame{}, nil
		}

		origMean, origStd := meanStd(req.Values)
		if !finite(origMean, origStd) {
			return protocol.Frame{}, ErrNotFinite
		}

		scaled := Standardize(req.Values)
		scaledMean, scaledStd := meanStd(scaled)

		doc, err := build([]protocol.Field{
			protocol.F("scaled_data", scaled),
			protocol.F("original_mean", origMean),
			protocol.F("original_std", origStd),
			protocol.F("scaled_mean", scaledMean),
			protocol.F("scaled_std", scaledStd),
			protocol.F("n_points", len(req.Values)),
		})
		if err != nil {
			return protocol.Frame{}, err
		}

		return protocol.Document(doc), nil
	})
}
