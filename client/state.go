package client

import "sync"

// Observer is told about every connected/disconnected transition.
type Observer func(connected bool)

// ConnectionState is shared between the reconnect policy, which sets it,
// and the dispatcher, which clears it when an exchange fails.
type ConnectionState struct {
	mu         sync.Mutex
	connected  bool
	retryCount int
	observers  []Observer
}

func NewConnectionState() *ConnectionState {
	return &ConnectionState{}
}

func (s *ConnectionState) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connected
}

// RetryCount is the number of attempts the last Connect needed.
func (s *ConnectionState) RetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retryCount
}

// Observe registers fn for all future transitions.
func (s *ConnectionState) Observe(fn Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *ConnectionState) setRetryCount(n int) {
	s.mu.Lock()
	s.retryCount = n
	s.mu.Unlock()
}

func (s *ConnectionState) setConnected(connected bool) {
	s.mu.Lock()
	changed := s.connected != connected
	s.connected = connected
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	if !changed {
		return
	}

	for _, fn := range observers {
		fn(connected)
	}
}
