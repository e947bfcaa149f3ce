package mqtt

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrQueueFull is returned when a publish cannot be queued without waiting.
var ErrQueueFull = errors.New("publish queue full")

// ErrQueueClosed is returned for publishes after Close.
var ErrQueueClosed = errors.New("publish queue closed")

// flushTimeout bounds how long Close waits for queued publishes.
const flushTimeout = 10 * time.Second

type queued struct {
	state  *StateEvent
	system *SystemEvent
}

// Queue hands publishes to a single goroutine that feeds the wrapped
// Publisher in order. PublishState and PublishSystem never wait on the
// broker.
type Queue struct {
	next  Publisher
	log   *zap.SugaredLogger
	items chan queued
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewQueue starts the publishing goroutine. size bounds the events waiting
// for it; DefaultBufferSize when zero.
func NewQueue(next Publisher, size int, log *zap.SugaredLogger) *Queue {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	q := &Queue{
		next:  next,
		log:   log,
		items: make(chan queued, size),
		done:  make(chan struct{}),
	}
	go q.run()
	return q
}

// PublishState queues a relay state change.
func (q *Queue) PublishState(event StateEvent) error {
	return q.put(queued{state: &event})
}

// PublishSystem queues a system event.
func (q *Queue) PublishSystem(event SystemEvent) error {
	return q.put(queued{system: &event})
}

// IsConnected reports the wrapped publisher's connection when it has one.
func (q *Queue) IsConnected() bool {
	if cs, ok := q.next.(ConnectionStatus); ok {
		return cs.IsConnected()
	}
	return false
}

// Close sends what is still queued, waiting up to flushTimeout, then closes
// the wrapped publisher.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.items)
	q.mu.Unlock()

	select {
	case <-q.done:
	case <-time.After(flushTimeout):
		q.log.Warnw("publish queue not flushed before close", "pending", len(q.items))
	}
	return q.next.Close()
}

func (q *Queue) put(it queued) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.items <- it:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for it := range q.items {
		if it.state != nil {
			if err := q.next.PublishState(*it.state); err != nil {
				q.log.Warnw("publish error", "channel", it.state.Channel, "error", err)
			}
			continue
		}
		if err := q.next.PublishSystem(*it.system); err != nil {
			q.log.Warnw("system publish error", "event", it.system.Event, "error", err)
		}
	}
}
