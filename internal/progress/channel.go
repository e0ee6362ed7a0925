package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultIdleTimeout bounds how long Receive waits for the next event.
const DefaultIdleTimeout = 180 * time.Second

var (
	// ErrStreamTimeout is returned by Receive when no event arrives within the idle timeout.
	ErrStreamTimeout = errors.New("Stream timeout") //nolint:staticcheck // wire text is capitalized.
	// ErrClosed is returned by Send once the terminal event has been queued.
	ErrClosed = errors.New("progress channel closed")
)

// Channel is an unbounded FIFO of Events shared by one producer and one
// consumer. Send never blocks. Receive waits up to the idle timeout.
type Channel struct {
	idleTimeout time.Duration

	mu        sync.Mutex
	queue     []Event
	closed    bool
	abandoned bool
	notify    chan struct{}
}

// NewChannel returns an empty channel. A non-positive idleTimeout selects DefaultIdleTimeout.
func NewChannel(idleTimeout time.Duration) *Channel {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Channel{
		idleTimeout: idleTimeout,
		notify:      make(chan struct{}, 1),
	}
}

// Send appends evt to the queue. After Abandon the event is silently discarded.
// Sending after a Terminal event returns ErrClosed.
func (c *Channel) Send(evt Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if evt.Kind == KindTerminal {
		c.closed = true
	}
	if c.abandoned {
		return nil
	}
	c.queue = append(c.queue, evt)
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// Receive pops the oldest event, waiting up to the idle timeout for one to arrive.
func (c *Channel) Receive(ctx context.Context) (Event, error) {
	if evt, ok := c.pop(); ok {
		return evt, nil
	}
	timer := time.NewTimer(c.idleTimeout)
	defer timer.Stop()
	for {
		select {
		case <-c.notify:
			if evt, ok := c.pop(); ok {
				return evt, nil
			}
		case <-timer.C:
			if evt, ok := c.pop(); ok {
				return evt, nil
			}
			return Event{}, ErrStreamTimeout
		case <-ctx.Done():
			return Event{}, fmt.Errorf("receive progress: %w", ctx.Err())
		}
	}
}

// Abandon records that the consumer is gone. Queued events are released and
// later sends are dropped so the producer can finish without growing memory.
func (c *Channel) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandoned = true
	c.queue = nil
}

// Len reports the number of queued events.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Channel) pop() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return Event{}, false
	}
	evt := c.queue[0]
	c.queue[0] = Event{}
	c.queue = c.queue[1:]
	return evt, true
}
