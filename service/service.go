// Package service holds the processing side of numlink servers: the
// collaborator interfaces that do the actual numerical work and the
// transport handlers that put them on a socket.
//
// Collaborators receive and return JSON documents verbatim, numlink never
// interprets their members beyond "action" and "status".
package service

import "context"

// StatisticsEngine summarises a numeric array into a JSON object.
type StatisticsEngine interface {
	Describe(ctx context.Context, values []float64) ([]byte, error)
}

// ModelService trains and queries a model. Requests are the full
// {"action":...} documents.
type ModelService interface {
	Train(ctx context.Context, req []byte) ([]byte, error)
	Predict(ctx context.Context, req []byte) ([]byte, error)
}

// TabularService works on tabular files named in the request.
type TabularService interface {
	ProcessCSV(ctx context.Context, req []byte) ([]byte, error)
	FilterData(ctx context.Context, req []byte) ([]byte, error)
}
