// Package orchestrator implements C8, the end-to-end run handler that
// composes C1-C7 into the full webhook-to-merge-decision pipeline (spec
// §4.8).
package orchestrator

import (
	"errors"

	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/webhook"
)

// ErrQueueFull is returned by Queue.Enqueue when the buffer is saturated;
// the webhook handler surfaces this as a 500 so GitHub retries delivery
// (spec §4.2 "non-blocking, O(1) enqueue").
var ErrQueueFull = errors.New("orchestrator queue is full")

// Queue is an in-process FIFO buffer between the webhook handler and the
// single run-handling consumer goroutine. Enqueue never blocks: a full
// buffer is a backpressure signal, not something a webhook request should
// wait out.
type Queue struct {
	ch chan webhook.Envelope
}

// NewQueue creates a queue with the given buffer capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan webhook.Envelope, capacity)}
}

// Enqueue implements webhook.Enqueuer.
func (q *Queue) Enqueue(env webhook.Envelope) error {
	select {
	case q.ch <- env:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue blocks until an envelope is available or ctx/done fires; callers
// pass the channel's own receive form via Chan for select loops.
func (q *Queue) Chan() <-chan webhook.Envelope {
	return q.ch
}
