package kernel

import "time"

// Context is the in-task handle through which a computation suspends. It is
// bound to one task and is only valid on that task's goroutine, while the
// task is running. It is not a context.Context; cancellation is delivered by
// the kernel as an error returned from the suspension methods.
type Context struct {
	kernel *Kernel
	task   *Task
	gid    uint64
}

// Kernel returns the kernel scheduling this task.
func (c *Context) Kernel() *Kernel { return c.kernel }

// Task returns the task this context belongs to.
func (c *Context) Task() *Task { return c.task }

// trap performs one suspension: hand tr to the kernel, park until resumed,
// and surface whatever the kernel injected.
func (c *Context) trap(tr *Trap) (any, error) {
	t := c.task
	c.kernel.currentGID.Store(0)
	t.yield <- yieldMsg{trap: tr}
	r := <-t.resume
	c.kernel.currentGID.Store(c.gid)
	return r.value, r.err
}

// PollRead suspends until fd is ready for reading, the fd is closed via
// [Kernel.CloseFD] (ErrClosed), or the task is disrupted.
func (c *Context) PollRead(fd int) error {
	_, err := c.trap(&Trap{Kind: TrapPollRead, FD: fd})
	return err
}

// PollWrite suspends until fd is ready for writing, the fd is closed via
// [Kernel.CloseFD] (ErrClosed), or the task is disrupted.
func (c *Context) PollWrite(fd int) error {
	_, err := c.trap(&Trap{Kind: TrapPollWrite, FD: fd})
	return err
}

// Sleep suspends until at least d has elapsed, or the task is disrupted.
// A non-positive d still suspends, but the task is immediately runnable
// again (it yields to other ready tasks).
func (c *Context) Sleep(d time.Duration) error {
	_, err := c.trap(&Trap{Kind: TrapSleep, Duration: d})
	return err
}

// SleepForever suspends with no deadline. Only cancellation, a
// TimeoutAfter deadline, or kernel close wakes the task again.
func (c *Context) SleepForever() error {
	_, err := c.trap(&Trap{Kind: TrapSleep, Forever: true})
	return err
}

// Block suspends against the opaque source key until [Kernel.Unblock] is
// called with the same key, or the task is disrupted. If post is non-nil it
// is invoked exactly once, immediately after the task is registered, so the
// caller can trigger the eventual wakeup without a lost-wakeup race. The
// source must be usable as a map key.
func (c *Context) Block(source any, post func()) error {
	_, err := c.trap(&Trap{Kind: TrapBlock, Source: source, PostBlock: post})
	return err
}

// Spawn enqueues a new task onto this task's kernel.
func (c *Context) Spawn(fn TaskFunc) (*Task, error) {
	return c.kernel.Spawn(fn)
}
