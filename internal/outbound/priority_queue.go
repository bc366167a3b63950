// Package outbound buffers rendered patient messages between the
// notification dispatcher and the send workers.
package outbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/SamiAGOURRAM/salam-queue-flow-sub001/internal/domain"
)

// ErrQueueFull is returned by Enqueue when the message's priority tier is
// at capacity.
var ErrQueueFull = errors.New("outbound queue is full")

// Capacity sets the buffer size of each priority tier.
type Capacity struct {
	High   int
	Normal int
	Low    int
}

// DefaultCapacity keeps "you are called" messages on a short buffer so a
// stalled gateway shows up as drops quickly.
var DefaultCapacity = Capacity{High: 500, Normal: 2000, Low: 1000}

// PriorityQueue dispatches messages to one of three buffered channels by
// priority. Workers dequeue with a double select: high is always drained
// first, normal and low compete fairly when high is empty.
type PriorityQueue struct {
	high   chan domain.Message
	normal chan domain.Message
	low    chan domain.Message
}

func New(c Capacity) *PriorityQueue {
	if c.High <= 0 {
		c.High = DefaultCapacity.High
	}
	if c.Normal <= 0 {
		c.Normal = DefaultCapacity.Normal
	}
	if c.Low <= 0 {
		c.Low = DefaultCapacity.Low
	}
	return &PriorityQueue{
		high:   make(chan domain.Message, c.High),
		normal: make(chan domain.Message, c.Normal),
		low:    make(chan domain.Message, c.Low),
	}
}

// Enqueue never blocks: a full tier returns ErrQueueFull to the caller, which
// is an event handler on the bus dispatcher.
func (q *PriorityQueue) Enqueue(m domain.Message) error {
	var ch chan domain.Message
	switch m.Priority {
	case domain.PriorityHigh:
		ch = q.high
	case domain.PriorityNormal:
		ch = q.normal
	case domain.PriorityLow:
		ch = q.low
	default:
		return fmt.Errorf("unknown priority %q", m.Priority)
	}
	select {
	case ch <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue blocks until a message is available or ctx is cancelled, in which
// case it returns false.
func (q *PriorityQueue) Dequeue(ctx context.Context) (domain.Message, bool) {
	select {
	case m := <-q.high:
		return m, true
	default:
	}

	select {
	case m := <-q.high:
		return m, true
	case m := <-q.normal:
		return m, true
	case m := <-q.low:
		return m, true
	case <-ctx.Done():
		return domain.Message{}, false
	}
}

// Depths returns the number of messages waiting in each tier.
func (q *PriorityQueue) Depths() (high, normal, low int) {
	return len(q.high), len(q.normal), len(q.low)
}
