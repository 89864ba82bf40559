// Package tasks provides structured task management on top of the kernel:
// completion queues, scoped joining, and completion-order iteration.
package tasks

import (
	"errors"

	"github.com/joeycumines/logiface"

	kernel "github.com/joeycumines/go-kernel"
	"github.com/joeycumines/go-kernel/locks"
)

// Queue errors.
var (
	// ErrQueueClosed is returned by Put and Spawn on a closed queue, and by
	// Get once the queue is closed and drained.
	ErrQueueClosed = errors.New("tasks: queue closed")
	// ErrQueueEmpty is returned by GetNonblocking when no completed task is
	// available yet.
	ErrQueueEmpty = errors.New("tasks: queue empty")
	// ErrQueueFull is returned by PutNonblocking and Spawn when the number
	// of uncompleted tasks has reached the queue's capacity.
	ErrQueueFull = errors.New("tasks: queue full")
)

// CompletionQueue hands out tasks in completion order, not insertion order.
// A zero capacity means unbounded; otherwise Put blocks (and
// PutNonblocking fails) while the number of uncompleted tasks is at
// capacity.
//
// It deliberately tracks tasks rather than futures; completion is observed
// through Task.AddCallback on the kernel goroutine, which keeps the queue
// lock-free.
type CompletionQueue struct {
	kernel      *kernel.Kernel
	gate        *locks.Gate
	completed   []*kernel.Task
	uncompleted map[*kernel.Task]struct{}
	capacity    int
	closed      bool
}

// NewCompletionQueue creates a queue bound to k. A non-positive capacity
// means unbounded.
func NewCompletionQueue(k *kernel.Kernel, capacity int) *CompletionQueue {
	return &CompletionQueue{
		kernel:      k,
		gate:        locks.NewGate(k),
		uncompleted: make(map[*kernel.Task]struct{}),
		capacity:    capacity,
	}
}

// Closed reports whether the queue has been closed.
func (q *CompletionQueue) Closed() bool { return q.closed }

// Len returns the number of tasks in the queue, completed or not.
func (q *CompletionQueue) Len() int {
	return len(q.completed) + len(q.uncompleted)
}

// Full reports whether the number of uncompleted tasks is at capacity.
func (q *CompletionQueue) Full() bool {
	return q.capacity > 0 && len(q.uncompleted) >= q.capacity
}

// Close closes the queue. When graceful, queued tasks stay owned by the
// queue and Get keeps draining them; otherwise every queued task
// (completed or not) is returned to the caller and the queue is emptied.
// Close is idempotent; a second call returns nil.
func (q *CompletionQueue) Close(graceful bool) []*kernel.Task {
	var out []*kernel.Task
	if !graceful {
		out = append(out, q.completed...)
		for t := range q.uncompleted {
			out = append(out, t)
		}
		q.completed = nil
		q.uncompleted = make(map[*kernel.Task]struct{})
	}
	q.closed = true
	// Wake getters so they can observe the close; putters too.
	q.gate.Unblock()
	return out
}

// Gettable suspends until Get would not block: a completed task is
// available, or the queue is closed and drained.
func (q *CompletionQueue) Gettable(c *kernel.Context) error {
	for len(q.completed) == 0 && (len(q.uncompleted) > 0 || !q.closed) {
		if err := q.gate.Wait(c); err != nil {
			return err
		}
	}
	return nil
}

// Get suspends until a task completes and returns it. Once the queue is
// closed and drained, Get fails with ErrQueueClosed.
func (q *CompletionQueue) Get(c *kernel.Context) (*kernel.Task, error) {
	if err := q.Gettable(c); err != nil {
		return nil, err
	}
	return q.GetNonblocking()
}

// GetNonblocking returns a completed task if one is available, else
// ErrQueueEmpty while tasks remain, else ErrQueueClosed.
func (q *CompletionQueue) GetNonblocking() (*kernel.Task, error) {
	if len(q.completed) > 0 {
		t := q.completed[0]
		q.completed[0] = nil
		q.completed = q.completed[1:]
		return t, nil
	}
	if len(q.uncompleted) > 0 || !q.closed {
		return nil, ErrQueueEmpty
	}
	return nil, ErrQueueClosed
}

// Puttable suspends until Put would not block: the queue has spare
// capacity or has been closed.
func (q *CompletionQueue) Puttable(c *kernel.Context) error {
	for !q.closed && q.Full() {
		if err := q.gate.Wait(c); err != nil {
			return err
		}
	}
	return nil
}

// Put adds a task to the queue, suspending while the queue is full.
func (q *CompletionQueue) Put(c *kernel.Context, t *kernel.Task) error {
	if err := q.Puttable(c); err != nil {
		return err
	}
	return q.PutNonblocking(t)
}

// PutNonblocking adds a task without suspending, failing with
// ErrQueueClosed or ErrQueueFull.
func (q *CompletionQueue) PutNonblocking(t *kernel.Task) error {
	if q.closed {
		return ErrQueueClosed
	}
	if q.Full() {
		return ErrQueueFull
	}
	q.uncompleted[t] = struct{}{}
	t.AddCallback(q.onCompletion)
	return nil
}

// Spawn spawns fn onto the queue's kernel and puts the task, failing
// before spawning if the queue cannot accept it.
func (q *CompletionQueue) Spawn(fn kernel.TaskFunc) (*kernel.Task, error) {
	if q.closed {
		return nil, ErrQueueClosed
	}
	if q.Full() {
		return nil, ErrQueueFull
	}
	t, err := q.kernel.Spawn(fn)
	if err != nil {
		return nil, err
	}
	if err := q.PutNonblocking(t); err != nil {
		// Unreachable given the checks above, but a spawned task must not
		// leak unobserved.
		_ = t.Cancel()
		return nil, err
	}
	return t, nil
}

func (q *CompletionQueue) onCompletion(t *kernel.Task) {
	if _, ok := q.uncompleted[t]; ok {
		delete(q.uncompleted, t)
		q.completed = append(q.completed, t)
	}
	q.gate.Unblock()
}

// Join closes the queue and joins every remaining task, draining
// completion order. When cancel is true (or the caller is unwinding an
// error) pending tasks are cancelled first. Task errors are logged per
// LogTaskError.
func (q *CompletionQueue) Join(c *kernel.Context, cancel bool, logger *logiface.Logger[logiface.Event]) error {
	remaining := q.Close(false)
	if cancel {
		for _, t := range remaining {
			_ = t.Cancel()
		}
	}
	for _, t := range remaining {
		if err := t.Join(c); err != nil {
			return err
		}
		LogTaskError(logger, t)
	}
	return nil
}
