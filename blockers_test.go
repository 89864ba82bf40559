package kernel

import (
	"testing"
	"time"
)

func newBareTask() *Task {
	return &Task{
		resume: make(chan resumeMsg),
		yield:  make(chan yieldMsg),
	}
}

func TestDictBlockerFIFO(t *testing.T) {
	b := newDictBlocker()
	t1, t2, t3 := newBareTask(), newBareTask(), newBareTask()

	b.block("a", t1)
	b.block("a", t2)
	b.block("b", t3)
	if b.len() != 3 {
		t.Fatalf("len = %d", b.len())
	}
	if !b.has("a") || !b.has("b") || b.has("c") {
		t.Fatal("has mismatch")
	}

	ts := b.unblock("a")
	if len(ts) != 2 || ts[0] != t1 || ts[1] != t2 {
		t.Fatalf("unblock order wrong: %v", ts)
	}
	if b.len() != 1 {
		t.Fatalf("len = %d", b.len())
	}
	if ts := b.unblock("a"); ts != nil {
		t.Fatalf("second unblock = %v", ts)
	}
}

func TestDictBlockerUnblockN(t *testing.T) {
	b := newDictBlocker()
	t1, t2, t3 := newBareTask(), newBareTask(), newBareTask()
	b.block("a", t1)
	b.block("a", t2)
	b.block("a", t3)

	ts := b.unblockN("a", 2)
	if len(ts) != 2 || ts[0] != t1 || ts[1] != t2 {
		t.Fatalf("unblockN = %v", ts)
	}
	if b.len() != 1 {
		t.Fatalf("len = %d", b.len())
	}
	ts = b.unblockN("a", 5)
	if len(ts) != 1 || ts[0] != t3 {
		t.Fatalf("unblockN = %v", ts)
	}
}

func TestDictBlockerCancel(t *testing.T) {
	b := newDictBlocker()
	t1, t2 := newBareTask(), newBareTask()
	b.block("a", t1)
	b.block("a", t2)

	source, ok := b.cancel(t1)
	if !ok || source != "a" {
		t.Fatalf("cancel = %v, %v", source, ok)
	}
	if _, ok := b.cancel(t1); ok {
		t.Fatal("double cancel succeeded")
	}
	ts := b.unblock("a")
	if len(ts) != 1 || ts[0] != t2 {
		t.Fatalf("unblock = %v", ts)
	}
}

func TestDictBlockerBlockTwicePanics(t *testing.T) {
	b := newDictBlocker()
	task := newBareTask()
	b.block("a", task)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	b.block("b", task)
}

func TestTimeoutBlockerOrder(t *testing.T) {
	b := newTimeoutBlocker()
	now := time.Now()
	t1, t2, t3 := newBareTask(), newBareTask(), newBareTask()
	b.block(now.Add(3*time.Second), t1)
	b.block(now.Add(1*time.Second), t2)
	b.block(now.Add(2*time.Second), t3)

	deadline, ok := b.minDeadline()
	if !ok || !deadline.Equal(now.Add(1*time.Second)) {
		t.Fatalf("minDeadline = %v, %v", deadline, ok)
	}

	ts := b.unblock(now.Add(2 * time.Second))
	if len(ts) != 2 || ts[0] != t2 || ts[1] != t3 {
		t.Fatalf("unblock = %v", ts)
	}
	if ts := b.unblock(now.Add(10 * time.Second)); len(ts) != 1 || ts[0] != t1 {
		t.Fatalf("unblock = %v", ts)
	}
	if _, ok := b.minDeadline(); ok {
		t.Fatal("minDeadline on empty blocker")
	}
}

func TestTimeoutBlockerCancelIsInert(t *testing.T) {
	b := newTimeoutBlocker()
	now := time.Now()
	t1, t2 := newBareTask(), newBareTask()
	b.block(now.Add(1*time.Second), t1)
	b.block(now.Add(2*time.Second), t2)

	if !b.cancel(t1) {
		t.Fatal("cancel failed")
	}
	if b.cancel(t1) {
		t.Fatal("double cancel succeeded")
	}
	if b.len() != 1 {
		t.Fatalf("len = %d", b.len())
	}

	// The cancelled entry is skipped, not surfaced.
	deadline, ok := b.minDeadline()
	if !ok || !deadline.Equal(now.Add(2*time.Second)) {
		t.Fatalf("minDeadline = %v", deadline)
	}
	ts := b.unblock(now.Add(5 * time.Second))
	if len(ts) != 1 || ts[0] != t2 {
		t.Fatalf("unblock = %v", ts)
	}
}

func TestForeverBlocker(t *testing.T) {
	b := newForeverBlocker()
	task := newBareTask()
	b.block(task)
	if b.len() != 1 {
		t.Fatalf("len = %d", b.len())
	}
	if !b.cancel(task) {
		t.Fatal("cancel failed")
	}
	if b.cancel(task) {
		t.Fatal("double cancel succeeded")
	}
	if b.len() != 0 {
		t.Fatalf("len = %d", b.len())
	}
}
