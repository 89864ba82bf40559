package kernel

// TaskFunc is one suspendable unit of work. It runs on a goroutine owned by
// its Task, but never concurrently with the kernel or any other task: the
// kernel resumes it one suspension point at a time via the trap rendezvous,
// and it must suspend only through the methods of the provided [Context].
//
// The returned value and error become the task's terminal result, observable
// via [Task.Wait] and [Task.ResultNow].
type TaskFunc func(c *Context) (any, error)

type resumeMsg struct {
	value any
	err   error
}

type yieldMsg struct {
	trap   *Trap
	result any
	err    error
}

// Task wraps one suspendable computation scheduled on a Kernel. All methods
// except the completion accessors guarded below must be called from the
// kernel's owning goroutine or from within a running task.
type Task struct {
	kernel *Kernel
	fn     TaskFunc

	// Rendezvous with the computation goroutine. The kernel side is tick;
	// the task side is Context.trap. Both channels are unbuffered so that
	// exactly one of {kernel, task} runs at any moment.
	resume chan resumeMsg
	yield  chan yieldMsg

	result    any
	err       error
	callbacks []func(*Task)

	id        uint64
	gid       uint64 // computation goroutine id, set before its first yield
	started   bool
	completed bool
	abandoned bool // abort could not unwind the computation
}

// tick resumes the computation exactly one suspension point, injecting value
// or exc at the current trap. It returns the next trap, or nil once the
// computation has run to completion (result or error captured internally).
// Kernel-side only.
func (t *Task) tick(value any, exc error) *Trap {
	if !t.started {
		t.started = true
		if exc != nil {
			// Disrupted before the computation ever ran; it never starts.
			t.complete(nil, exc)
			return nil
		}
		go t.main()
	} else {
		t.resume <- resumeMsg{value: value, err: exc}
	}
	y := <-t.yield
	if y.trap != nil {
		return y.trap
	}
	t.complete(y.result, y.err)
	return nil
}

// main is the body of the computation goroutine. It runs t.fn to completion,
// converting panics into a terminal PanicError, then performs the final
// yield back to the kernel.
func (t *Task) main() {
	c := &Context{kernel: t.kernel, task: t, gid: getGoroutineID()}
	t.gid = c.gid
	t.kernel.currentGID.Store(c.gid)

	var y yieldMsg
	func() {
		defer func() {
			if v := recover(); v != nil {
				y = yieldMsg{err: PanicError{Value: v}}
			}
		}()
		y.result, y.err = t.fn(c)
	}()

	t.kernel.currentGID.Store(0)
	t.yield <- y
}

// complete records the terminal state, releases the computation so reference
// cycles cannot keep it alive, and fires completion callbacks in
// registration order.
func (t *Task) complete(result any, err error) {
	t.completed = true
	t.result = result
	t.err = err
	t.fn = nil
	t.resume = nil
	t.yield = nil
	cbs := t.callbacks
	t.callbacks = nil
	for _, cb := range cbs {
		cb(t)
	}
}

// abort forces teardown of the computation without normal scheduling, by
// injecting ErrCancelled at the current suspension point. It returns false
// if the computation swallowed the cancellation and suspended again; such a
// task is left pending forever (its goroutine parked), which is the
// deliberate escape hatch that keeps Kernel.Close non-blocking.
func (t *Task) abort() bool {
	if t.completed {
		return true
	}
	if t.abandoned {
		return false
	}
	if t.tick(nil, ErrCancelled) == nil {
		return true
	}
	t.abandoned = true
	return false
}

// Completed reports whether the task has run to completion (successfully,
// with an error, or cancelled).
func (t *Task) Completed() bool { return t.completed }

// ResultNow returns the task's terminal result without blocking. It fails
// with ErrNotCompleted if the task is still pending; otherwise the error is
// the task's own terminal error, if any.
func (t *Task) ResultNow() (any, error) {
	if !t.completed {
		return nil, ErrNotCompleted
	}
	return t.result, t.err
}

// ErrNow returns the task's terminal error (nil on success) without
// blocking, or ErrNotCompleted if the task is still pending.
func (t *Task) ErrNow() error {
	if !t.completed {
		return ErrNotCompleted
	}
	return t.err
}

// Join suspends the calling task until t completes. The returned error is
// the *caller's* injected error (cancellation, timeout), never t's terminal
// error; inspect that via ResultNow or ErrNow afterwards.
func (t *Task) Join(c *Context) error {
	_, err := c.trap(&Trap{Kind: TrapJoin, Target: t})
	return err
}

// Wait joins t and then returns its terminal result. If the caller itself is
// disrupted while waiting, Wait returns that error instead.
func (t *Task) Wait(c *Context) (any, error) {
	if err := t.Join(c); err != nil {
		return nil, err
	}
	return t.ResultNow()
}

// AddCallback registers fn to be invoked with the task once it completes.
// Callbacks run in registration order, exactly once each; if the task has
// already completed, fn is invoked synchronously in the caller's context.
// Kernel-goroutine (or running-task) only; cross-thread completion
// observation goes through the futures bridge.
func (t *Task) AddCallback(fn func(*Task)) {
	if t.completed {
		fn(t)
		return
	}
	t.callbacks = append(t.callbacks, fn)
}

// Cancel schedules a cooperative cancellation: ErrCancelled is injected at
// the task's current (or next) suspension point. It is a no-op if the task
// has completed.
func (t *Task) Cancel() error {
	return t.kernel.Cancel(t)
}

// ID returns the task's kernel-unique identity.
func (t *Task) ID() uint64 { return t.id }
