package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("topic not found")

// Update is sent to listeners every time a topic's payload changes.
type Update struct {
	Topic   string
	Payload []byte
}

// Store keeps the latest JSON payload received for each topic.
type Store interface {
	Set(ctx context.Context, topic string, payload []byte) error
	Get(ctx context.Context, topic string) ([]byte, error)
	Topics() []string

	Restore(values []byte) error
	Backup() ([]byte, error)

	ListenToUpdates() <-chan *Update

	Close() error
}
