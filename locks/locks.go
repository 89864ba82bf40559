// Package locks provides task-level synchronization primitives.
//
// These are thin state machines over the kernel's generic block/unblock
// facility, keyed on the primitive's own identity. They are safe to share
// between tasks of one kernel without further locking, because tasks never
// run in parallel; they are not safe to share across kernels or goroutines.
package locks

import (
	"errors"

	kernel "github.com/joeycumines/go-kernel"
)

// ErrNotHeld is returned when releasing a lock or semaphore that is not
// held.
var ErrNotHeld = errors.New("locks: not held")

// Gate wakes all of its current waiters each time it is unblocked. It
// carries no state of its own; it is the raw register-then-wake primitive
// the other types (and completion queues, streams) are built on.
type Gate struct {
	kernel *kernel.Kernel
}

// NewGate creates a Gate bound to k.
func NewGate(k *kernel.Kernel) *Gate {
	return &Gate{kernel: k}
}

// Wait suspends until the next Unblock.
func (g *Gate) Wait(c *kernel.Context) error {
	return c.Block(g, nil)
}

// Unblock wakes every task currently waiting on the gate. Tasks that wait
// after this call are not affected.
func (g *Gate) Unblock() {
	_ = g.kernel.Unblock(g)
}

// Lock is a task-level mutual exclusion lock. Waiters acquire in FIFO
// order: a release wakes all waiters, which then re-contend in their
// original registration order.
type Lock struct {
	kernel *kernel.Kernel
	locked bool
}

// NewLock creates a Lock bound to k.
func NewLock(k *kernel.Kernel) *Lock {
	return &Lock{kernel: k}
}

// Acquire suspends until the lock is held by the calling task.
func (l *Lock) Acquire(c *kernel.Context) error {
	for l.locked {
		if err := c.Block(l, nil); err != nil {
			return err
		}
	}
	l.locked = true
	return nil
}

// TryAcquire acquires the lock without suspending, reporting success.
func (l *Lock) TryAcquire() bool {
	if l.locked {
		return false
	}
	l.locked = true
	return true
}

// Release releases the lock and wakes its waiters. The lock is not
// reentrant and does not track its holder; releasing an unheld lock is
// ErrNotHeld.
func (l *Lock) Release() error {
	if !l.locked {
		return ErrNotHeld
	}
	l.locked = false
	return l.kernel.Unblock(l)
}

// Do runs fn while holding the lock.
func (l *Lock) Do(c *kernel.Context, fn func() error) error {
	if err := l.Acquire(c); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}

// BoundedSemaphore is a counting semaphore whose value never exceeds its
// initial count; over-release is an error rather than a silent capacity
// increase.
type BoundedSemaphore struct {
	kernel *kernel.Kernel
	value  int
	bound  int
}

// NewBoundedSemaphore creates a semaphore with the given initial (and
// maximum) count.
func NewBoundedSemaphore(k *kernel.Kernel, count int) *BoundedSemaphore {
	if count < 1 {
		panic("locks: semaphore count must be positive")
	}
	return &BoundedSemaphore{kernel: k, value: count, bound: count}
}

// Acquire suspends until a unit is available, then takes it.
func (s *BoundedSemaphore) Acquire(c *kernel.Context) error {
	for s.value == 0 {
		if err := c.Block(s, nil); err != nil {
			return err
		}
	}
	s.value--
	return nil
}

// TryAcquire takes a unit without suspending, reporting success.
func (s *BoundedSemaphore) TryAcquire() bool {
	if s.value == 0 {
		return false
	}
	s.value--
	return true
}

// Release returns a unit and wakes waiters. Releasing beyond the initial
// count is ErrNotHeld.
func (s *BoundedSemaphore) Release() error {
	if s.value == s.bound {
		return ErrNotHeld
	}
	s.value++
	return s.kernel.Unblock(s)
}

// condWaiter is a unique block key per Condition.Wait call.
type condWaiter struct{ _ byte }

// Condition is a task-level condition variable over a Lock.
type Condition struct {
	kernel  *kernel.Kernel
	lock    *Lock
	waiters []*condWaiter
}

// NewCondition creates a Condition over its own lock.
func NewCondition(k *kernel.Kernel) *Condition {
	return NewConditionWith(k, NewLock(k))
}

// NewConditionWith creates a Condition over an existing lock, so several
// conditions can share one lock.
func NewConditionWith(k *kernel.Kernel, l *Lock) *Condition {
	return &Condition{kernel: k, lock: l}
}

// Acquire acquires the underlying lock.
func (cv *Condition) Acquire(c *kernel.Context) error { return cv.lock.Acquire(c) }

// TryAcquire acquires the underlying lock without suspending.
func (cv *Condition) TryAcquire() bool { return cv.lock.TryAcquire() }

// Release releases the underlying lock.
func (cv *Condition) Release() error { return cv.lock.Release() }

// Wait atomically releases the lock and suspends until notified, then
// re-acquires the lock before returning. Must be called with the lock
// held; that invariant cannot be checked (the lock does not track its
// holder), so violating it corrupts the queue being guarded.
func (cv *Condition) Wait(c *kernel.Context) error {
	w := &condWaiter{}
	cv.waiters = append(cv.waiters, w)
	if err := cv.lock.Release(); err != nil {
		cv.removeWaiter(w)
		return err
	}
	blockErr := c.Block(w, nil)
	if blockErr != nil {
		cv.removeWaiter(w)
	}
	if err := cv.lock.Acquire(c); err != nil {
		return err
	}
	return blockErr
}

// Notify wakes up to n waiters, oldest first.
func (cv *Condition) Notify(n int) {
	for n > 0 && len(cv.waiters) > 0 {
		w := cv.waiters[0]
		cv.waiters[0] = nil
		cv.waiters = cv.waiters[1:]
		_ = cv.kernel.Unblock(w)
		n--
	}
}

// NotifyAll wakes every waiter.
func (cv *Condition) NotifyAll() {
	cv.Notify(len(cv.waiters))
}

func (cv *Condition) removeWaiter(w *condWaiter) {
	for i, other := range cv.waiters {
		if other == w {
			cv.waiters = append(cv.waiters[:i:i], cv.waiters[i+1:]...)
			return
		}
	}
}

// Event is a one-way latch with a reset: tasks wait until it is set.
type Event struct {
	kernel *kernel.Kernel
	set    bool
}

// NewEvent creates an unset Event bound to k.
func NewEvent(k *kernel.Kernel) *Event {
	return &Event{kernel: k}
}

// IsSet reports whether the event is set.
func (e *Event) IsSet() bool { return e.set }

// Set marks the event and wakes every waiter.
func (e *Event) Set() {
	if e.set {
		return
	}
	e.set = true
	_ = e.kernel.Unblock(e)
}

// Clear resets the event; subsequent Wait calls suspend again.
func (e *Event) Clear() { e.set = false }

// Wait suspends until the event is set.
func (e *Event) Wait(c *kernel.Context) error {
	for !e.set {
		if err := c.Block(e, nil); err != nil {
			return err
		}
	}
	return nil
}
