package kernel

import (
	"container/heap"
	"time"
)

// dictBlocker parks tasks under an opaque source key. Tasks blocked on the
// same key are released in registration order (FIFO fairness). A task may be
// parked under at most one key at a time; the kernel's one-collection
// invariant guarantees it.
type dictBlocker struct {
	sourceToTasks map[any][]*Task
	taskToSource  map[*Task]any
}

func newDictBlocker() *dictBlocker {
	return &dictBlocker{
		sourceToTasks: make(map[any][]*Task),
		taskToSource:  make(map[*Task]any),
	}
}

func (b *dictBlocker) len() int { return len(b.taskToSource) }

func (b *dictBlocker) has(source any) bool {
	return len(b.sourceToTasks[source]) > 0
}

func (b *dictBlocker) block(source any, t *Task) {
	if _, ok := b.taskToSource[t]; ok {
		panic("kernel: task blocked twice")
	}
	b.sourceToTasks[source] = append(b.sourceToTasks[source], t)
	b.taskToSource[t] = source
}

// unblock releases every task parked under source, in registration order.
func (b *dictBlocker) unblock(source any) []*Task {
	return b.unblockN(source, -1)
}

// unblockN releases up to n tasks parked under source (all of them when n is
// negative), in registration order.
func (b *dictBlocker) unblockN(source any, n int) []*Task {
	ts := b.sourceToTasks[source]
	if len(ts) == 0 {
		return nil
	}
	if n < 0 || n >= len(ts) {
		delete(b.sourceToTasks, source)
	} else {
		rest := make([]*Task, len(ts)-n)
		copy(rest, ts[n:])
		b.sourceToTasks[source] = rest
		ts = ts[:n]
	}
	for _, t := range ts {
		delete(b.taskToSource, t)
	}
	return ts
}

// cancel removes t from wherever it is parked, returning the source it was
// parked under.
func (b *dictBlocker) cancel(t *Task) (any, bool) {
	source, ok := b.taskToSource[t]
	if !ok {
		return nil, false
	}
	delete(b.taskToSource, t)
	ts := b.sourceToTasks[source]
	for i, other := range ts {
		if other == t {
			ts = append(ts[:i:i], ts[i+1:]...)
			break
		}
	}
	if len(ts) == 0 {
		delete(b.sourceToTasks, source)
	} else {
		b.sourceToTasks[source] = ts
	}
	return source, true
}

func (b *dictBlocker) tasks() []*Task {
	out := make([]*Task, 0, len(b.taskToSource))
	for t := range b.taskToSource {
		out = append(out, t)
	}
	return out
}

// timerEntry is one parked deadline. A cancelled entry keeps its heap slot
// with task set to nil and is skipped when it surfaces, so cancellation is
// O(1) rather than a heap deletion.
type timerEntry struct {
	deadline time.Time
	task     *Task
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)         { *h = append(*h, x.(*timerEntry)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// timeoutBlocker parks tasks under wake-time deadlines (a min-heap). It
// backs both the sleep trap and TimeoutAfter.
type timeoutBlocker struct {
	heap   timerHeap
	byTask map[*Task]*timerEntry
}

func newTimeoutBlocker() *timeoutBlocker {
	return &timeoutBlocker{byTask: make(map[*Task]*timerEntry)}
}

func (b *timeoutBlocker) len() int { return len(b.byTask) }

func (b *timeoutBlocker) block(deadline time.Time, t *Task) {
	if _, ok := b.byTask[t]; ok {
		panic("kernel: task blocked twice")
	}
	e := &timerEntry{deadline: deadline, task: t}
	b.byTask[t] = e
	heap.Push(&b.heap, e)
}

func (b *timeoutBlocker) cancel(t *Task) bool {
	e, ok := b.byTask[t]
	if !ok {
		return false
	}
	delete(b.byTask, t)
	e.task = nil // inert; skipped when it reaches the top
	return true
}

// minDeadline returns the earliest live deadline, discarding any dead
// entries that have bubbled to the top.
func (b *timeoutBlocker) minDeadline() (time.Time, bool) {
	for len(b.heap) > 0 && b.heap[0].task == nil {
		heap.Pop(&b.heap)
	}
	if len(b.heap) == 0 {
		return time.Time{}, false
	}
	return b.heap[0].deadline, true
}

// unblock releases every task whose deadline is at or before now, in
// deadline order.
func (b *timeoutBlocker) unblock(now time.Time) []*Task {
	var out []*Task
	for len(b.heap) > 0 {
		e := b.heap[0]
		if e.task == nil {
			heap.Pop(&b.heap)
			continue
		}
		if e.deadline.After(now) {
			break
		}
		heap.Pop(&b.heap)
		delete(b.byTask, e.task)
		out = append(out, e.task)
	}
	return out
}

func (b *timeoutBlocker) tasks() []*Task {
	out := make([]*Task, 0, len(b.byTask))
	for t := range b.byTask {
		out = append(out, t)
	}
	return out
}

// foreverBlocker parks tasks that wait on nothing at all (SleepForever).
// Only cancellation releases them.
type foreverBlocker struct {
	parked map[*Task]struct{}
}

func newForeverBlocker() *foreverBlocker {
	return &foreverBlocker{parked: make(map[*Task]struct{})}
}

func (b *foreverBlocker) len() int { return len(b.parked) }

func (b *foreverBlocker) block(t *Task) {
	b.parked[t] = struct{}{}
}

func (b *foreverBlocker) cancel(t *Task) bool {
	if _, ok := b.parked[t]; !ok {
		return false
	}
	delete(b.parked, t)
	return true
}

func (b *foreverBlocker) tasks() []*Task {
	out := make([]*Task, 0, len(b.parked))
	for t := range b.parked {
		out = append(out, t)
	}
	return out
}
