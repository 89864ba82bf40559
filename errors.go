package kernel

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrClosed is returned when an operation is attempted on a kernel (or a
	// facility built on it) that has been closed, and is injected into tasks
	// that were blocked on a file descriptor passed to [Kernel.CloseFD].
	// It is always a programming error to retry after ErrClosed.
	ErrClosed = errors.New("kernel: closed")

	// ErrKernelTimeout is returned by [Kernel.Run] when the caller's overall
	// deadline elapses before the run loop drains. It is an expected,
	// caller-handled condition, not a failure of the kernel.
	ErrKernelTimeout = errors.New("kernel: run deadline elapsed")

	// ErrCancelled is injected into a task at its current suspension point
	// when it is cancelled. Unless the task catches it, ErrCancelled becomes
	// the task's terminal error.
	ErrCancelled = errors.New("kernel: task cancelled")

	// ErrTaskTimeout is injected into a task whose [Kernel.TimeoutAfter]
	// deadline elapsed before the task completed.
	ErrTaskTimeout = errors.New("kernel: task timed out")

	// ErrNotCompleted is returned by the non-blocking result accessors of a
	// task that has not yet completed.
	ErrNotCompleted = errors.New("kernel: task not completed")

	// ErrReentrantRun is returned when Run is invoked while the kernel is
	// already running. The scheduler is not reentrant.
	ErrReentrantRun = errors.New("kernel: recursive run")

	// ErrNotOwner is returned when a kernel operation that must execute on
	// the owning goroutine (or the currently running task) is called from
	// elsewhere. Cross-goroutine wakeup must go through
	// [Kernel.PostCallback] or [Kernel.Unblock].
	ErrNotOwner = errors.New("kernel: not called from the owning goroutine")
)

// PanicError wraps a value recovered from a panic inside a task's
// computation. It becomes the task's terminal error.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("kernel: task panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type,
// enabling [errors.Is] and [errors.As] matching through the cause chain.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
