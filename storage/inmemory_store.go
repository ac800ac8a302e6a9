package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/luma/numlink/protocol"
)

const updateBacklog = 255

// InmemoryStore holds every topic as a member of one JSON document.
type InmemoryStore struct {
	mu     sync.RWMutex
	values []byte
	topics []string

	listenMu    sync.Mutex
	updateChans []chan *Update

	// stop will be closed when Close() is called
	stop      chan struct{}
	closeOnce sync.Once
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values: []byte("{}"),
		stop:   make(chan struct{}),
	}
}

func (i *InmemoryStore) Close() error {
	i.closeOnce.Do(func() {
		close(i.stop)

		i.listenMu.Lock()
		defer i.listenMu.Unlock()

		for _, updateChan := range i.updateChans {
			close(updateChan)
		}
		i.updateChans = nil
	})

	return nil
}

// Set replaces the payload of topic. Listeners that are not keeping up miss
// the update rather than holding up the writer.
func (i *InmemoryStore) Set(ctx context.Context, topic string, payload []byte) error {
	if err := protocol.ValidateTopic(topic); err != nil {
		return err
	}

	if !gjson.ValidBytes(payload) {
		return fmt.Errorf("%w: payload for %q is not valid JSON", protocol.ErrProtocol, topic)
	}

	i.mu.Lock()
	values, err := sjson.SetRawBytes(i.values, protocol.EscapeKey(topic), payload)
	if err != nil {
		i.mu.Unlock()
		return err
	}

	if !gjson.GetBytes(i.values, protocol.EscapeKey(topic)).Exists() {
		i.topics = append(i.topics, topic)
	}
	i.values = values
	i.mu.Unlock()

	if !i.isRunning() {
		return nil
	}

	update := &Update{Topic: topic, Payload: append([]byte(nil), payload...)}

	i.listenMu.Lock()
	for _, updateChan := range i.updateChans {
		select {
		case updateChan <- update:
		default:
		}
	}
	i.listenMu.Unlock()

	return nil
}

func (i *InmemoryStore) Get(ctx context.Context, topic string) ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	result := gjson.GetBytes(i.values, protocol.EscapeKey(topic))
	if !result.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, topic)
	}

	return []byte(result.Raw), nil
}

// Topics lists the stored topics in the order they were first seen.
func (i *InmemoryStore) Topics() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return append([]string(nil), i.topics...)
}

func (i *InmemoryStore) ListenToUpdates() <-chan *Update {
	i.listenMu.Lock()
	defer i.listenMu.Unlock()

	updateChan := make(chan *Update, updateBacklog)
	if !i.isRunning() {
		close(updateChan)
		return updateChan
	}

	i.updateChans = append(i.updateChans, updateChan)

	return updateChan
}

// Restore replaces the whole store with a document produced by Backup.
func (i *InmemoryStore) Restore(values []byte) error {
	doc := gjson.ParseBytes(values)
	if !gjson.ValidBytes(values) || !doc.IsObject() {
		return fmt.Errorf("%w: backup is not a JSON object", protocol.ErrProtocol)
	}

	var topics []string
	doc.ForEach(func(key, _ gjson.Result) bool {
		topics = append(topics, key.String())
		return true
	})

	i.mu.Lock()
	i.values = append([]byte(nil), values...)
	i.topics = topics
	i.mu.Unlock()

	return nil
}

func (i *InmemoryStore) Backup() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return append([]byte(nil), i.values...), nil
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

var _ Store = (*InmemoryStore)(nil)
