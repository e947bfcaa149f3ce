package relay

import (
	"context"

	"github.com/sweeney/relay-node/internal/router"
)

// DefaultInboxSize bounds how many messages may wait between two ticks.
const DefaultInboxSize = 64

type envelope struct {
	msg  router.Message
	done chan struct{}
}

// Inbox is the single path from the transports into the daemon loop.
// Any number of goroutines may Post or Send; only the loop Drains.
type Inbox struct {
	ch chan envelope
}

// NewInbox creates an inbox holding up to size pending messages.
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{ch: make(chan envelope, size)}
}

// Post queues msg without waiting. It returns false and drops the message
// when the inbox is full.
func (b *Inbox) Post(msg router.Message) bool {
	select {
	case b.ch <- envelope{msg: msg}:
		return true
	default:
		return false
	}
}

// Send queues msg and waits until the loop has dispatched it.
func (b *Inbox) Send(ctx context.Context, msg router.Message) error {
	done := make(chan struct{})
	select {
	case b.ch <- envelope{msg: msg, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of queued messages.
func (b *Inbox) Len() int {
	return len(b.ch)
}

// Drain hands every message queued at the time of the call to handle, in
// arrival order, and returns how many it handled. Messages arriving during
// the drain wait for the next call, so one drain is bounded.
func (b *Inbox) Drain(handle func(router.Message)) int {
	n := len(b.ch)
	for i := 0; i < n; i++ {
		env := <-b.ch
		handle(env.msg)
		if env.done != nil {
			close(env.done)
		}
	}
	return n
}
