package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/luma/numlink/protocol"
	"github.com/luma/numlink/transport"
)

// ActionFunc handles one {"action":...} request. The result is a JSON
// object, sent back as is when it carries its own "status" and prefixed
// with "status":"success" otherwise.
type ActionFunc func(ctx context.Context, req []byte) ([]byte, error)

// Router dispatches request documents on their "action" member.
type Router struct {
	mu      sync.RWMutex
	actions map[string]ActionFunc

	log *zap.Logger
}

func NewRouter(log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}

	return &Router{
		actions: make(map[string]ActionFunc),
		log:     log.Named("router"),
	}
}

// Register routes action to fn, replacing any previous handler.
func (r *Router) Register(action string, fn ActionFunc) {
	r.mu.Lock()
	r.actions[action] = fn
	r.mu.Unlock()
}

// Actions lists the registered actions, sorted.
func (r *Router) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	actions := make([]string, 0, len(r.actions))
	for action := range r.actions {
		actions = append(actions, action)
	}
	sort.Strings(actions)

	return actions
}

func (r *Router) Handle(ctx context.Context, req protocol.Frame) (protocol.Frame, error) {
	var body []byte

	switch req.Kind {
	case protocol.KindText:
		body = []byte(req.Text)
	case protocol.KindDocument:
		body = req.Payload
	default:
		return protocol.Frame{}, fmt.Errorf("%w: expected a request document, got %s", protocol.ErrProtocol, req.Kind)
	}

	action, err := protocol.Action(body)
	if err != nil {
		return protocol.Frame{}, err
	}

	r.mu.RLock()
	fn, ok := r.actions[action]
	r.mu.RUnlock()

	if !ok {
		r.log.Info("Unknown action", zap.String("action", action))
		return protocol.Frame{}, fmt.Errorf("invalid action %q", action)
	}

	result, err := fn(ctx, body)
	if err != nil {
		return protocol.Frame{}, err
	}

	if gjson.GetBytes(result, "status").Exists() {
		if !gjson.ValidBytes(result) {
			return protocol.Frame{}, fmt.Errorf("%w: %s returned invalid JSON", protocol.ErrProtocol, action)
		}
		return protocol.Document(result), nil
	}

	resp, err := protocol.SuccessResponse(result)
	if err != nil {
		return protocol.Frame{}, err
	}

	return protocol.Document(resp), nil
}

var _ transport.Handler = (*Router)(nil)

// RegisterStatistics routes "describe" requests carrying a "values" array
// to engine.
func RegisterStatistics(r *Router, engine StatisticsEngine) {
	r.Register("describe", func(ctx context.Context, req []byte) ([]byte, error) {
		raw := gjson.GetBytes(req, "values")
		if !raw.IsArray() {
			return nil, fmt.Errorf("%w: describe needs a values array", protocol.ErrProtocol)
		}

		var values []float64
		for _, v := range raw.Array() {
			if v.Type != gjson.Number {
				return nil, fmt.Errorf("%w: values must be numbers", protocol.ErrProtocol)
			}
			values = append(values, v.Float())
		}

		return engine.Describe(ctx, values)
	})
}

// RegisterModel routes "train" and "predict" to m.
func RegisterModel(r *Router, m ModelService) {
	r.Register("train", m.Train)
	r.Register("predict", m.Predict)
}

// RegisterTabular routes "process_csv" and "filter_data" to t.
func RegisterTabular(r *Router, t TabularService) {
	r.Register("process_csv", t.ProcessCSV)
	r.Register("filter_data", t.FilterData)
}
