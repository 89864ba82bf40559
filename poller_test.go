package kernel

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func newTestPoller(t *testing.T) *Poller {
	t.Helper()
	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func testPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestPollerRegisterLifecycle(t *testing.T) {
	p := newTestPoller(t)
	r, _ := testPipe(t)

	if err := p.Register(r, EventRead); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := p.Register(r, EventRead); !errors.Is(err, ErrFDAlreadyRegistered) {
		t.Fatalf("double Register: %v", err)
	}
	events, ok := p.Registered(r)
	if !ok || events != EventRead {
		t.Fatalf("Registered = %v, %v", events, ok)
	}

	if err := p.Modify(r, EventRead|EventWrite); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if events, _ := p.Registered(r); events != EventRead|EventWrite {
		t.Fatalf("Registered = %v", events)
	}

	if err := p.Unregister(r); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if err := p.Unregister(r); !errors.Is(err, ErrFDNotRegistered) {
		t.Fatalf("double Unregister: %v", err)
	}
	if err := p.Modify(r, EventRead); !errors.Is(err, ErrFDNotRegistered) {
		t.Fatalf("Modify unregistered: %v", err)
	}
}

func TestPollerReadiness(t *testing.T) {
	p := newTestPoller(t)
	r, w := testPipe(t)

	if err := p.Register(r, EventRead); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Nothing to read yet.
	events, err := p.Poll(0)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("events = %v", events)
	}

	if _, err := unix.Write(w, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	events, err = p.Poll(time.Second)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(events) != 1 || events[0].FD != r || events[0].Events&EventRead == 0 {
		t.Fatalf("events = %v", events)
	}

	// Level-triggered: unread data keeps reporting.
	events, err = p.Poll(0)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(events) != 1 || events[0].FD != r {
		t.Fatalf("events = %v", events)
	}
}

func TestPollerWriteReadiness(t *testing.T) {
	p := newTestPoller(t)
	_, w := testPipe(t)

	if err := p.Register(w, EventWrite); err != nil {
		t.Fatalf("Register: %v", err)
	}
	events, err := p.Poll(time.Second)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(events) != 1 || events[0].FD != w || events[0].Events&EventWrite == 0 {
		t.Fatalf("events = %v", events)
	}
}

func TestPollerClosed(t *testing.T) {
	p := newTestPoller(t)
	r, _ := testPipe(t)

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := p.Register(r, EventRead); !errors.Is(err, ErrPollerClosed) {
		t.Fatalf("Register after close: %v", err)
	}
	if _, err := p.Poll(0); !errors.Is(err, ErrPollerClosed) {
		t.Fatalf("Poll after close: %v", err)
	}
}
