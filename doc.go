// Package kernel implements a single-threaded cooperative task scheduler.
//
// A Kernel multiplexes tasks over the goroutine that created it. Tasks are
// ordinary functions that suspend themselves through their Context at trap
// points: fd readiness (PollRead, PollWrite), deadlines (Sleep,
// SleepForever), completion of another task (Task.Join), or an opaque
// blocking source (Block, released by Kernel.Unblock). At most one task is
// ever executing at a time; concurrency comes from interleaving suspension
// points, never from parallel execution, so tasks share state freely
// between their own traps without locks.
//
// Cancellation is cooperative: Kernel.Cancel and Kernel.TimeoutAfter inject
// an error at the target task's current suspension point rather than
// unwinding it synchronously. Cross-goroutine wakeup goes through
// Kernel.PostCallback or Kernel.Unblock, which interrupt a kernel blocked
// in poll via a self-wake descriptor.
//
// The subpackages build on this core: locks provides task-level
// synchronization primitives, tasks provides completion queues and
// structured task groups, streams and adapters provide nonblocking I/O
// helpers, futures bridges foreign goroutines into the kernel, and signals
// delivers OS signals as a pollable source.
package kernel
