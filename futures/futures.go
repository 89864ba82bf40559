// Package futures bridges work running on foreign goroutines into the
// kernel. A Future's producer side (SetResult, SetError) is safe to call
// from any goroutine; the consumer side joins it from a task, with the
// completion marshalled onto the kernel goroutine via PostCallback.
package futures

import (
	"sync"

	kernel "github.com/joeycumines/go-kernel"
)

// Future holds one eventual result of type T. The zero value is not
// usable; create with NewFuture.
type Future[T any] struct {
	mu        sync.Mutex
	completed bool
	result    T
	err       error
	callbacks []func(*Future[T])
}

// NewFuture creates an uncompleted Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{}
}

// Completed reports whether the future has a result or error.
func (f *Future[T]) Completed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

// SetResult completes the future with a value. Completing an already
// completed future is ignored.
func (f *Future[T]) SetResult(v T) {
	f.complete(v, nil)
}

// SetError completes the future with an error. Completing an already
// completed future is ignored.
func (f *Future[T]) SetError(err error) {
	var zero T
	f.complete(zero, err)
}

func (f *Future[T]) complete(v T, err error) {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return
	}
	f.completed = true
	f.result = v
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()
	// Outside the lock: a callback may inspect the future.
	for _, cb := range callbacks {
		cb(f)
	}
}

// AddCallback registers fn to run once the future completes. If it has
// already completed, fn runs synchronously on the caller's goroutine;
// otherwise it runs on the producer's goroutine.
func (f *Future[T]) AddCallback(fn func(*Future[T])) {
	f.mu.Lock()
	if !f.completed {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	fn(f)
}

// ResultNow returns the result without blocking, or ErrNotCompleted.
func (f *Future[T]) ResultNow() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.completed {
		var zero T
		return zero, kernel.ErrNotCompleted
	}
	return f.result, f.err
}

// Join suspends the calling task until the future completes. The returned
// error is the caller's injected error (cancellation, timeout), never the
// future's own; fetch that via ResultNow or Get.
//
// The completion callback may fire on any goroutine, so the wakeup is
// marshalled through PostCallback onto the kernel goroutine before the
// actual unblock.
func (f *Future[T]) Join(c *kernel.Context) error {
	if f.Completed() {
		return nil
	}
	k := c.Kernel()
	return c.Block(f, func() {
		f.AddCallback(func(*Future[T]) {
			_ = k.PostCallback(func() {
				_ = k.Unblock(f)
			})
		})
	})
}

// Get joins the future and returns its result.
func (f *Future[T]) Get(c *kernel.Context) (T, error) {
	if err := f.Join(c); err != nil {
		var zero T
		return zero, err
	}
	return f.ResultNow()
}

// Call runs fn on its own goroutine and returns a Future for its result,
// converting a panic into the future's error. Use it to push blocking or
// CPU-heavy work off the kernel goroutine; a task then awaits the result
// with Get.
func Call[T any](fn func() (T, error)) *Future[T] {
	f := NewFuture[T]()
	go func() {
		defer func() {
			if v := recover(); v != nil {
				f.SetError(kernel.PanicError{Value: v})
			}
		}()
		v, err := fn()
		if err != nil {
			f.SetError(err)
		} else {
			f.SetResult(v)
		}
	}()
	return f
}
