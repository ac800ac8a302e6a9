package logqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luma/numlink/internal/metrics"
)

type Category string

const (
	Info    Category = "info"
	Success Category = "success"
	Error   Category = "error"
	Send    Category = "send"
	Receive Category = "receive"
)

// Prefix is the glyph shown in front of entries of the category.
func (c Category) Prefix() string {
	switch c {
	case Info:
		return "ℹ"
	case Success:
		return "✓"
	case Error:
		return "❌"
	case Send:
		return "→"
	case Receive:
		return "←"
	default:
		return "•"
	}
}

type Entry struct {
	Time     time.Time
	Category Category
	Text     string
}

func (e Entry) String() string {
	return fmt.Sprintf("[%s] %s %s", e.Time.Format("15:04:05"), e.Category.Prefix(), e.Text)
}

// DefaultPollInterval is how often Poll drains the queue.
const DefaultPollInterval = 100 * time.Millisecond

var ErrConsumerActive = errors.New("log queue already has a consumer")

// Queue is an unbounded FIFO of log entries. Any number of goroutines may
// push, only the single Poll loop takes entries out.
type Queue struct {
	mu      sync.Mutex
	entries []Entry

	consuming atomic.Bool

	now func() time.Time
}

func New() *Queue {
	return &Queue{now: time.Now}
}

// Push timestamps and appends an entry. Never blocks on the consumer.
func (q *Queue) Push(category Category, format string, args ...interface{}) {
	text := format
	if len(args) > 0 {
		text = fmt.Sprintf(format, args...)
	}

	q.mu.Lock()
	q.entries = append(q.entries, Entry{Time: q.now(), Category: category, Text: text})
	q.mu.Unlock()

	metrics.LogEntries.WithLabelValues(string(category)).Inc()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}

// Drain removes and returns every queued entry in insertion order.
func (q *Queue) Drain() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.entries
	q.entries = nil

	return entries
}

// Sink consumes drained entries, in order, on the polling goroutine.
type Sink func(Entry)

// Poll drains q into sink every interval until ctx is done, then drains
// whatever is left once more. Only one Poll may run per queue.
func Poll(ctx context.Context, q *Queue, interval time.Duration, sink Sink) error {
	if !q.consuming.CompareAndSwap(false, true) {
		return ErrConsumerActive
	}
	defer q.consuming.Store(false)

	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	flush := func() {
		for _, e := range q.Drain() {
			sink(e)
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil

		case <-ticker.C:
			flush()
		}
	}
}
