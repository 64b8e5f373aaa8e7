package engine

import (
	"context"
	"sync"

	"github.com/roach88/packsale/internal/store"
)

// commandFunc mutates state inside the command's transaction and returns the
// value handed back to the caller. Events are emitted through rec.
type commandFunc func(ctx context.Context, tx *store.Tx, rec *recorder) (any, error)

// command is one unit of work for the Run loop.
//
// Exactly one of fn or direct is set. fn runs inside a store transaction;
// direct runs without one (outbox delivery manages its own transactions).
type command struct {
	name   string
	fn     commandFunc
	direct func(ctx context.Context) (any, error)
	reply  chan reply
}

type reply struct {
	value any
	err   error
}

func newCommand(name string, fn commandFunc) *command {
	return &command{name: name, fn: fn, reply: make(chan reply, 1)}
}

// commandQueue is a thread-safe FIFO queue of commands.
//
// Callers on any goroutine enqueue; the Engine's Run loop dequeues. The queue
// is unbounded so HTTP handlers and workflow activities never block on a
// busy loop; they block on their own reply channel instead.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type commandQueue struct {
	mu       sync.Mutex
	commands []*command
	closed   bool
	signal   chan struct{} // buffered, size 1
}

func newCommandQueue() *commandQueue {
	return &commandQueue{
		commands: make([]*command, 0, 64),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a command to the back of the queue.
// Returns false if the queue is closed.
func (q *commandQueue) Enqueue(c *command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.commands = append(q.commands, c)

	// Non-blocking; the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (nil, false) if the queue is empty.
func (q *commandQueue) TryDequeue() (*command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.commands) == 0 {
		return nil, false
	}

	c := q.commands[0]
	// Release the slot so the command's closure can be collected.
	q.commands[0] = nil

	if len(q.commands) == 1 {
		q.commands = q.commands[:0]
	} else {
		q.commands = q.commands[1:]
	}

	return c, true
}

// Wait returns a channel that signals when commands may be available.
// The channel is closed once the queue is closed.
func (q *commandQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.commands)
}

// Close stops accepting commands and wakes the Run loop.
// Commands still queued are drained by the caller via Drain.
func (q *commandQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// Drain removes and returns every queued command.
func (q *commandQueue) Drain() []*command {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.commands
	q.commands = nil
	return out
}
