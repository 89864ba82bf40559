package kernel

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// Forever is the timeout value that disables a deadline.
const Forever time.Duration = -1

// taskReady is one entry of the ready queue: a task together with the value
// or error to inject at its pending suspension point.
type taskReady struct {
	task  *Task
	value any
	err   error
}

// Stats is a snapshot of the kernel's internal counters.
type Stats struct {
	// Ticks is the total number of scheduling passes performed.
	Ticks uint64
	// Tasks is the number of live (not yet completed) tasks.
	Tasks int
	// Ready is the number of tasks waiting in the ready queue.
	Ready int
	// Join is the number of tasks blocked joining another task.
	Join int
	// Poll is the number of tasks blocked on fd readiness.
	Poll int
	// Sleep is the number of tasks blocked on a deadline.
	Sleep int
	// Blocked is the number of tasks parked on a generic source or forever.
	Blocked int
	// ToRaise is the number of pending disruptions not yet delivered.
	ToRaise int
	// TimeoutAfter is the number of armed task deadlines.
	TimeoutAfter int
}

// Kernel is a single-threaded cooperative scheduler. It multiplexes tasks
// over one goroutine (the owner's), suspending them at trap points and
// waking them on fd readiness, deadlines, task completion, or explicit
// unblocks. All methods must be called from the owning goroutine or from a
// currently running task, except PostCallback (thread-safe) and Unblock
// (re-routes itself through PostCallback when called from elsewhere).
type Kernel struct {
	// Prevent copying
	_ [0]func()

	logger *logiface.Logger[logiface.Event]

	ownerGID uint64
	// currentGID is the goroutine id of the currently running task's
	// computation, or zero while the kernel itself runs. Task goroutines
	// store/clear it around every yield point, so a load from any goroutine
	// is race-free.
	currentGID atomic.Uint64

	closed  bool
	running bool

	ticks       uint64
	sanityEvery uint64

	numTasks   int
	nextTaskID uint64
	current    *Task
	ready      []taskReady

	// Tasks are juggled among these collections; a task appears in at most
	// one of them (or the ready queue) at any time.
	joinBlocker    *dictBlocker // key: *Task
	readBlocker    *dictBlocker // key: fd
	writeBlocker   *dictBlocker // key: fd
	sleepBlocker   *timeoutBlocker
	genericBlocker *dictBlocker
	foreverBlocker *foreverBlocker

	// Disrupters: errors to inject at a task's next (or current) trap.
	toRaise             map[*Task]error
	timeoutAfterBlocker *timeoutBlocker

	poller *Poller
	nudger *nudger

	cbMu      sync.Mutex
	callbacks []func()
	cbClosed  bool // mirrors closed, guarded by cbMu for PostCallback
}

// New creates a Kernel owned by the calling goroutine.
func New(opts ...KernelOption) (*Kernel, error) {
	cfg, err := resolveKernelOptions(opts)
	if err != nil {
		return nil, err
	}
	poller, err := NewPoller()
	if err != nil {
		return nil, err
	}
	nudger, err := newNudger(cfg.logger)
	if err != nil {
		_ = poller.Close()
		return nil, err
	}
	if err := poller.Register(nudger.readFD(), EventRead); err != nil {
		nudger.close()
		_ = poller.Close()
		return nil, err
	}
	return &Kernel{
		logger:              cfg.logger,
		ownerGID:            getGoroutineID(),
		sanityEvery:         cfg.sanityEvery,
		joinBlocker:         newDictBlocker(),
		readBlocker:         newDictBlocker(),
		writeBlocker:        newDictBlocker(),
		sleepBlocker:        newTimeoutBlocker(),
		genericBlocker:      newDictBlocker(),
		foreverBlocker:      newForeverBlocker(),
		toRaise:             make(map[*Task]error),
		timeoutAfterBlocker: newTimeoutBlocker(),
		poller:              poller,
		nudger:              nudger,
	}, nil
}

func (k *Kernel) isOwner() bool {
	gid := getGoroutineID()
	if gid == k.ownerGID {
		return true
	}
	// Calls from the currently ticked task's goroutine are serialized with
	// the kernel by the tick rendezvous, so they count as the owner.
	return gid != 0 && gid == k.currentGID.Load()
}

// Run drives spawned tasks through completion.
//
// If fn is non-nil, a task is spawned for it, and when that task completes
// Run returns its result eagerly, leaving other tasks pending; call Run
// again with a nil fn to drain them. With a nil fn, Run returns (nil, nil)
// once no tasks and no posted callbacks remain.
//
// A negative timeout (Forever) disables the deadline. A zero timeout still
// performs exactly one full scheduling pass; it fails with ErrKernelTimeout
// only if that pass left work behind, so a drain that finishes within the
// pass returns nil.
func (k *Kernel) Run(fn TaskFunc, timeout time.Duration) (any, error) {
	if k.closed {
		return nil, ErrClosed
	}
	if !k.isOwner() {
		return nil, ErrNotOwner
	}
	if k.running || k.current != nil {
		return nil, ErrReentrantRun
	}
	k.running = true
	defer func() { k.running = false }()

	var mainTask *Task
	if fn != nil {
		var err error
		mainTask, err = k.Spawn(fn)
		if err != nil {
			return nil, err
		}
	}

	var deadline time.Time
	hasDeadline := timeout >= 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	for k.hasWork() {

		if k.ticks%k.sanityEvery == 0 {
			k.sanityCheck()
		}
		k.ticks++

		// Fire callbacks posted by other goroutines.
		k.cbMu.Lock()
		callbacks := k.callbacks
		k.callbacks = nil
		k.cbMu.Unlock()
		for _, callback := range callbacks {
			callback()
		}

		// Run all ready tasks.
		for len(k.ready) > 0 {
			completed := k.runOneReady()
			if completed != nil && completed == mainTask {
				// Return the result eagerly. To run the remaining tasks
				// through completion, call Run again with a nil fn.
				return completed.ResultNow()
			}
		}

		if k.numTasks > 0 {
			events, err := k.poller.Poll(k.pollTimeout(hasDeadline, deadline))
			if err != nil {
				// An unrecoverable poller error is fatal to the run loop;
				// masking it would spin.
				return nil, err
			}
			for _, ev := range events {
				if ev.FD == k.nudger.readFD() {
					k.nudger.ack()
					continue
				}
				k.wakeFD(ev.FD, ev.Events)
			}

			now := time.Now()
			for _, t := range k.sleepBlocker.unblock(now) {
				k.ready = append(k.ready, taskReady{task: t})
			}
			for _, t := range k.timeoutAfterBlocker.unblock(now) {
				k.disrupt(t, ErrTaskTimeout)
			}
		}

		if hasDeadline && !time.Now().Before(deadline) {
			if k.hasWork() {
				return nil, ErrKernelTimeout
			}
			break
		}
	}
	return nil, nil
}

// hasWork reports whether the run loop has anything left to do: live
// tasks, or callbacks posted from other goroutines that have not been
// fired yet.
func (k *Kernel) hasWork() bool {
	if k.numTasks > 0 {
		return true
	}
	k.cbMu.Lock()
	pending := len(k.callbacks)
	k.cbMu.Unlock()
	return pending > 0
}

// pollTimeout computes how long the poller may block: the time until the
// nearest of the run deadline, the earliest sleep, and the earliest armed
// task deadline. Negative means block indefinitely.
func (k *Kernel) pollTimeout(hasDeadline bool, deadline time.Time) time.Duration {
	timeout := Forever
	apply := func(t time.Time) {
		d := max(time.Until(t), 0)
		if timeout < 0 || d < timeout {
			timeout = d
		}
	}
	if hasDeadline {
		apply(deadline)
	}
	if t, ok := k.sleepBlocker.minDeadline(); ok {
		apply(t)
	}
	if t, ok := k.timeoutAfterBlocker.minDeadline(); ok {
		apply(t)
	}
	return timeout
}

// runOneReady pops and ticks the task at the head of the ready queue,
// routing the resulting trap. It returns the task if it completed, else nil.
func (k *Kernel) runOneReady() *Task {
	entry := k.ready[0]
	k.ready[0] = taskReady{}
	k.ready = k.ready[1:]
	task, value, exc := entry.task, entry.value, entry.err

	if override, ok := k.toRaise[task]; ok {
		delete(k.toRaise, task)
		value, exc = nil, override
	}

	k.current = task
	trap := task.tick(value, exc)
	k.current = nil

	if trap == nil {
		// Completed. Wake joiners, clear disrupters, disarm any deadline.
		for _, t := range k.joinBlocker.unblock(task) {
			k.ready = append(k.ready, taskReady{task: t})
		}
		delete(k.toRaise, task)
		k.timeoutAfterBlocker.cancel(task)
		k.numTasks--
		return task
	}

	if override, ok := k.toRaise[task]; ok {
		// Disrupted while running; deliver at the trap it just issued
		// instead of blocking it.
		delete(k.toRaise, task)
		k.ready = append(k.ready, taskReady{task: task, err: override})
	} else if err := k.routeTrap(task, trap); err != nil {
		k.ready = append(k.ready, taskReady{task: task, err: err})
	}
	return nil
}

// routeTrap parks the task per its trap. A returned error is injected into
// the task rather than propagated.
func (k *Kernel) routeTrap(task *Task, trap *Trap) error {
	switch trap.Kind {

	case TrapBlock:
		k.genericBlocker.block(trap.Source, task)
		if trap.PostBlock != nil {
			trap.PostBlock()
		}
		return nil

	case TrapJoin:
		target := trap.Target
		if target == nil || target.kernel != k {
			return fmt.Errorf("kernel: join target not on this kernel")
		}
		if target == task {
			return fmt.Errorf("kernel: task cannot join itself")
		}
		if target.Completed() {
			k.ready = append(k.ready, taskReady{task: task})
		} else {
			k.joinBlocker.block(target, task)
		}
		return nil

	case TrapPollRead:
		k.readBlocker.block(trap.FD, task)
		if err := k.syncFDInterest(trap.FD); err != nil {
			k.readBlocker.cancel(task)
			return err
		}
		return nil

	case TrapPollWrite:
		k.writeBlocker.block(trap.FD, task)
		if err := k.syncFDInterest(trap.FD); err != nil {
			k.writeBlocker.cancel(task)
			return err
		}
		return nil

	case TrapSleep:
		switch {
		case trap.Forever:
			k.foreverBlocker.block(task)
		case trap.Duration <= 0:
			// Still a suspension point; the task goes to the back of the
			// ready queue so its peers get a turn.
			k.ready = append(k.ready, taskReady{task: task})
		default:
			k.sleepBlocker.block(time.Now().Add(trap.Duration), task)
		}
		return nil

	default:
		return fmt.Errorf("kernel: unknown trap kind %v", trap.Kind)
	}
}

// syncFDInterest reconciles the poller's registered mask for fd with the
// union of directions still awaited by blocked tasks. Interest is
// level-triggered, so the mask must shrink as waiters are released or a
// ready-but-unconsumed fd would spin the poll loop.
func (k *Kernel) syncFDInterest(fd int) error {
	var want IOEvents
	if k.readBlocker.has(fd) {
		want |= EventRead
	}
	if k.writeBlocker.has(fd) {
		want |= EventWrite
	}
	cur, registered := k.poller.Registered(fd)
	switch {
	case want == 0:
		if registered {
			return k.poller.Unregister(fd)
		}
		return nil
	case !registered:
		return k.poller.Register(fd, want)
	case cur != want:
		return k.poller.Modify(fd, want)
	default:
		return nil
	}
}

// wakeFD moves tasks blocked on fd in the signaled directions back onto the
// ready queue. Error and hangup conditions wake both directions so the
// waiters observe the failure from their own I/O calls.
func (k *Kernel) wakeFD(fd int, events IOEvents) {
	if events&(EventRead|EventError|EventHangup) != 0 {
		for _, t := range k.readBlocker.unblock(fd) {
			k.ready = append(k.ready, taskReady{task: t})
		}
	}
	if events&(EventWrite|EventError|EventHangup) != 0 {
		for _, t := range k.writeBlocker.unblock(fd) {
			k.ready = append(k.ready, taskReady{task: t})
		}
	}
	// Tolerate a racing close of fd; the waiters were woken regardless.
	_ = k.syncFDInterest(fd)
}

// disrupt schedules err to be raised in task at its current (or next)
// suspension point, unblocking it if it is parked.
func (k *Kernel) disrupt(task *Task, err error) {
	if task.Completed() {
		return
	}

	k.toRaise[task] = err

	if fd, ok := k.readBlocker.cancel(task); ok {
		_ = k.syncFDInterest(fd.(int))
		k.ready = append(k.ready, taskReady{task: task})
		return
	}
	if fd, ok := k.writeBlocker.cancel(task); ok {
		_ = k.syncFDInterest(fd.(int))
		k.ready = append(k.ready, taskReady{task: task})
		return
	}
	if _, ok := k.joinBlocker.cancel(task); ok {
		k.ready = append(k.ready, taskReady{task: task})
		return
	}
	if k.sleepBlocker.cancel(task) {
		k.ready = append(k.ready, taskReady{task: task})
		return
	}
	if _, ok := k.genericBlocker.cancel(task); ok {
		k.ready = append(k.ready, taskReady{task: task})
		return
	}
	if k.foreverBlocker.cancel(task) {
		k.ready = append(k.ready, taskReady{task: task})
		return
	}
	// Already in the ready queue, or currently running; the pending
	// toRaise entry is delivered when it next ticks or traps.
}

// Spawn enqueues a new task.
func (k *Kernel) Spawn(fn TaskFunc) (*Task, error) {
	if k.closed {
		return nil, ErrClosed
	}
	if !k.isOwner() {
		return nil, ErrNotOwner
	}
	k.nextTaskID++
	task := &Task{
		kernel: k,
		fn:     fn,
		resume: make(chan resumeMsg),
		yield:  make(chan yieldMsg),
		id:     k.nextTaskID,
	}
	k.ready = append(k.ready, taskReady{task: task})
	k.numTasks++
	return task, nil
}

// Cancel schedules cooperative cancellation of task: ErrCancelled is
// injected at its current (or next) suspension point. No-op if the task has
// completed. Cross-goroutine cancellation must go through PostCallback.
func (k *Kernel) Cancel(task *Task) error {
	if k.closed {
		return ErrClosed
	}
	if !k.isOwner() {
		return ErrNotOwner
	}
	if task.kernel != k {
		return fmt.Errorf("kernel: task not on this kernel")
	}
	if !task.Completed() {
		k.disrupt(task, ErrCancelled)
	}
	return nil
}

// TimeoutAfter arms a deadline on task: if it has not completed within d,
// ErrTaskTimeout is injected at its suspension point. The returned disarm
// function cancels the deadline; it is also disarmed automatically when the
// task completes first, so a disarm racing completion is a no-op. A
// negative d arms nothing.
func (k *Kernel) TimeoutAfter(task *Task, d time.Duration) (func(), error) {
	if k.closed {
		return nil, ErrClosed
	}
	if !k.isOwner() {
		return nil, ErrNotOwner
	}
	if task.kernel != k {
		return nil, fmt.Errorf("kernel: task not on this kernel")
	}
	if d < 0 {
		return func() {}, nil
	}
	// Even if d is zero the timeout is delivered at the next blocking trap
	// rather than raised here, for consistency.
	k.timeoutAfterBlocker.block(time.Now().Add(d), task)
	return func() { k.timeoutAfterBlocker.cancel(task) }, nil
}

// Unblock wakes every task blocked on source, in registration order. Safe
// to call from any goroutine: off the owning goroutine it re-routes itself
// through PostCallback, waking the kernel if it is blocked in poll.
func (k *Kernel) Unblock(source any) error {
	return k.UnblockN(source, -1)
}

// UnblockN wakes up to n tasks blocked on source (all of them when n is
// negative), in registration order. Thread-safety matches Unblock.
func (k *Kernel) UnblockN(source any, n int) error {
	if !k.isOwner() {
		return k.PostCallback(func() { _ = k.UnblockN(source, n) })
	}
	if k.closed {
		return ErrClosed
	}
	for _, t := range k.genericBlocker.unblockN(source, n) {
		k.ready = append(k.ready, taskReady{task: t})
	}
	return nil
}

// PostCallback schedules fn to run on the owning goroutine at the start of
// the next scheduling pass, waking the kernel if it is blocked in poll.
// This is the only fully thread-safe entry point; everything else must be
// routed through it when calling from another goroutine.
func (k *Kernel) PostCallback(fn func()) error {
	k.cbMu.Lock()
	if k.cbClosed {
		k.cbMu.Unlock()
		return ErrClosed
	}
	k.callbacks = append(k.callbacks, fn)
	k.cbMu.Unlock()
	k.nudger.nudge()
	return nil
}

// CloseFD deregisters fd from the poller and fails every task blocked on it
// with ErrClosed. Call it before closing the descriptor itself.
func (k *Kernel) CloseFD(fd int) error {
	if k.closed {
		return ErrClosed
	}
	if !k.isOwner() {
		return ErrNotOwner
	}
	for _, t := range k.readBlocker.unblock(fd) {
		k.toRaise[t] = ErrClosed
		k.ready = append(k.ready, taskReady{task: t})
	}
	for _, t := range k.writeBlocker.unblock(fd) {
		k.toRaise[t] = ErrClosed
		k.ready = append(k.ready, taskReady{task: t})
	}
	return k.syncFDInterest(fd)
}

// Current returns the task currently being ticked, or nil.
func (k *Kernel) Current() *Task { return k.current }

// Stats returns a snapshot of the kernel's counters. After Close it
// returns the zero value.
func (k *Kernel) Stats() Stats {
	if k.closed {
		return Stats{}
	}
	return Stats{
		Ticks:        k.ticks,
		Tasks:        k.numTasks,
		Ready:        len(k.ready),
		Join:         k.joinBlocker.len(),
		Poll:         k.readBlocker.len() + k.writeBlocker.len(),
		Sleep:        k.sleepBlocker.len(),
		Blocked:      k.genericBlocker.len() + k.foreverBlocker.len(),
		ToRaise:      len(k.toRaise),
		TimeoutAfter: k.timeoutAfterBlocker.len(),
	}
}

// AllTasks returns every live task, useful for debugging. After Close it
// returns nil.
func (k *Kernel) AllTasks() []*Task {
	if k.closed || !k.isOwner() {
		return nil
	}
	all := make([]*Task, 0, k.numTasks)
	if k.current != nil {
		all = append(all, k.current)
	}
	for _, entry := range k.ready {
		all = append(all, entry.task)
	}
	all = append(all, k.joinBlocker.tasks()...)
	all = append(all, k.readBlocker.tasks()...)
	all = append(all, k.writeBlocker.tasks()...)
	all = append(all, k.sleepBlocker.tasks()...)
	all = append(all, k.genericBlocker.tasks()...)
	all = append(all, k.foreverBlocker.tasks()...)
	return all
}

// Close aborts every pending task, then releases the poller and nudger.
// Idempotent. A task whose forced teardown cannot complete synchronously
// (it suspended again while unwinding) is logged and left pending rather
// than silently dropped.
func (k *Kernel) Close() error {
	if !k.isOwner() {
		return ErrNotOwner
	}
	if k.closed {
		return nil
	}

	for _, task := range k.AllTasks() {
		if task.Completed() {
			continue
		}
		if !task.abort() {
			k.logger.Warning().
				Uint64("task", task.ID()).
				Log("kernel: close: task did not unwind, leaving it pending")
		}
	}

	k.cbMu.Lock()
	k.cbClosed = true
	k.callbacks = nil
	k.cbMu.Unlock()

	err := k.poller.Close()
	k.nudger.close()
	k.closed = true
	return err
}

// sanityCheck validates the one-collection invariant: every live task is in
// exactly one of the ready queue and the blockers (or currently running).
func (k *Kernel) sanityCheck() {
	actual := len(k.ready) +
		k.joinBlocker.len() +
		k.readBlocker.len() +
		k.writeBlocker.len() +
		k.sleepBlocker.len() +
		k.genericBlocker.len() +
		k.foreverBlocker.len()
	if k.current != nil {
		actual++
	}
	if k.numTasks < 0 || k.numTasks != actual {
		panic(fmt.Sprintf(
			"kernel: sanity check failed: %d tasks tracked, %d found",
			k.numTasks, actual,
		))
	}
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
