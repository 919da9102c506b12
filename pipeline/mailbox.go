package pipeline

import (
	"context"
	"fmt"
)

// Mailbox is a bounded FIFO message queue. A full mailbox blocks the sender;
// that blocking is the pipeline's flow control. If PDF processing lags, the
// scraper's tell blocks, downloads stay active, and the Coordinator defers
// pumping the pending queue.
type Mailbox struct {
	name string
	ch   chan Message
}

// NewMailbox creates a mailbox with the given capacity.
func NewMailbox(name string, capacity int) *Mailbox {
	if capacity < 1 {
		capacity = 1
	}
	return &Mailbox{name: name, ch: make(chan Message, capacity)}
}

// Name returns the mailbox owner's name.
func (m *Mailbox) Name() string { return m.name }

// Tell enqueues msg, blocking while the mailbox is full.
func (m *Mailbox) Tell(ctx context.Context, msg Message) error {
	select {
	case m.ch <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline: tell %s: %w", m.name, ctx.Err())
	}
}

// Receive exposes the consuming end of the mailbox.
func (m *Mailbox) Receive() <-chan Message { return m.ch }

// Len reports the number of queued messages.
func (m *Mailbox) Len() int { return len(m.ch) }
