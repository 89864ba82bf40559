package tasks

import (
	"errors"

	"github.com/joeycumines/logiface"

	kernel "github.com/joeycumines/go-kernel"
	"github.com/joeycumines/go-kernel/locks"
)

// LogTaskError logs a completed task's terminal error, if any. Cancellation
// is ordinary teardown and logged at debug; anything else is an error that
// nobody else will observe.
func LogTaskError(logger *logiface.Logger[logiface.Event], t *kernel.Task) {
	err := t.ErrNow()
	if err == nil {
		return
	}
	if errors.Is(err, kernel.ErrCancelled) {
		logger.Debug().
			Uint64("task", t.ID()).
			Log("tasks: task cancelled")
		return
	}
	logger.Err().
		Uint64("task", t.ID()).
		Err(err).
		Log("tasks: task error")
}

// Joining ensures a task cannot outlive a scope: call it (usually deferred)
// with cancel set when the scope is unwinding early. The task is joined
// unconditionally and its error logged per LogTaskError.
func Joining(c *kernel.Context, t *kernel.Task, cancel bool, logger *logiface.Logger[logiface.Event]) error {
	if cancel {
		_ = t.Cancel()
	}
	if err := t.Join(c); err != nil {
		return err
	}
	LogTaskError(logger, t)
	return nil
}

// AsCompleted calls fn with each task as it completes, in completion
// order, until all tasks have been seen, fn returns false, or the caller
// is disrupted.
func AsCompleted(c *kernel.Context, ts []*kernel.Task, fn func(*kernel.Task) bool) error {
	gate := locks.NewGate(c.Kernel())
	var completed []*kernel.Task
	for _, t := range ts {
		t.AddCallback(func(t *kernel.Task) {
			completed = append(completed, t)
			gate.Unblock()
		})
	}
	for seen := 0; seen < len(ts); {
		for len(completed) == 0 {
			if err := gate.Wait(c); err != nil {
				return err
			}
		}
		t := completed[0]
		completed[0] = nil
		completed = completed[1:]
		seen++
		if !fn(t) {
			return nil
		}
	}
	return nil
}
