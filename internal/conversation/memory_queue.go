package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process queue for single-instance deployments and
// tests. Messages are gone once received.
type MemoryQueue struct {
	ch chan queueMessage
}

func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryQueue{ch: make(chan queueMessage, buffer)}
}

// Send blocks while the buffer is full.
func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	id := uuid.NewString()
	select {
	case q.ch <- queueMessage{ID: id, Body: body, ReceiptHandle: id}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits up to waitSeconds for the first message, then drains
// whatever else is already buffered up to maxMessages. A zero wait blocks
// until a message arrives or ctx ends.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	var first queueMessage
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, nil
	case first = <-q.ch:
	}

	out := []queueMessage{first}
	for len(out) < maxMessages {
		select {
		case msg := <-q.ch:
			out = append(out, msg)
		default:
			return out, nil
		}
	}
	return out, nil
}

func (q *MemoryQueue) Delete(context.Context, string) error { return nil }

// Len reports how many messages are waiting.
func (q *MemoryQueue) Len() int { return len(q.ch) }
