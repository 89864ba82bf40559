//go:build darwin

package kernel

import (
	"time"

	"golang.org/x/sys/unix"
)

// Poller is a thin wrapper over kqueue. It tracks the registered interest
// mask per fd so the kernel (and tests) can introspect it; it holds no task
// state of its own. Single-goroutine use only, same as the kernel that owns
// it.
type Poller struct {
	eventBuf   [128]unix.Kevent_t
	registered map[int]IOEvents
	kq         int
	closed     bool
}

// NewPoller creates a kqueue instance.
func NewPoller() (*Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &Poller{
		kq:         kq,
		registered: make(map[int]IOEvents),
	}, nil
}

// Close releases the kqueue instance. Idempotent.
func (p *Poller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.registered = nil
	return unix.Close(p.kq)
}

// Registered returns the interest mask currently registered for fd.
func (p *Poller) Registered(fd int) (IOEvents, bool) {
	events, ok := p.registered[fd]
	return events, ok
}

// Register adds fd to the interest set.
func (p *Poller) Register(fd int, events IOEvents) error {
	if p.closed {
		return ErrPollerClosed
	}
	if _, ok := p.registered[fd]; ok {
		return ErrFDAlreadyRegistered
	}
	if err := p.apply(fd, events, unix.EV_ADD|unix.EV_ENABLE); err != nil {
		return err
	}
	p.registered[fd] = events
	return nil
}

// Modify replaces the interest mask registered for fd, adding and deleting
// per-direction filters as needed.
func (p *Poller) Modify(fd int, events IOEvents) error {
	if p.closed {
		return ErrPollerClosed
	}
	old, ok := p.registered[fd]
	if !ok {
		return ErrFDNotRegistered
	}
	if removed := old &^ events; removed != 0 {
		// Deletion failures are tolerated; the fd may already be gone.
		_ = p.apply(fd, removed, unix.EV_DELETE)
	}
	if added := events &^ old; added != 0 {
		if err := p.apply(fd, added, unix.EV_ADD|unix.EV_ENABLE); err != nil {
			return err
		}
	}
	p.registered[fd] = events
	return nil
}

// Unregister removes fd from the interest set. Removal of an fd the OS has
// already forgotten (closed out from under us) is not an error.
func (p *Poller) Unregister(fd int) error {
	if p.closed {
		return ErrPollerClosed
	}
	events, ok := p.registered[fd]
	if !ok {
		return ErrFDNotRegistered
	}
	delete(p.registered, fd)
	_ = p.apply(fd, events, unix.EV_DELETE)
	return nil
}

func (p *Poller) apply(fd int, events IOEvents, flags uint16) error {
	var kevents []unix.Kevent_t
	if events&EventRead != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}
	if events&EventWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}
	if len(kevents) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, kevents, nil, nil)
	return err
}

// Poll blocks until at least one registered fd is ready or timeout elapses.
// A negative timeout blocks indefinitely; zero is a non-blocking probe.
// EINTR is treated as an empty wakeup, not an error.
func (p *Poller) Poll(timeout time.Duration) ([]PollEvent, error) {
	if p.closed {
		return nil, ErrPollerClosed
	}
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]PollEvent, 0, n)
	for i := 0; i < n; i++ {
		ev := &p.eventBuf[i]
		e := PollEvent{FD: int(ev.Ident)}
		switch ev.Filter {
		case unix.EVFILT_READ:
			e.Events |= EventRead
		case unix.EVFILT_WRITE:
			e.Events |= EventWrite
		}
		if ev.Flags&unix.EV_EOF != 0 {
			e.Events |= EventHangup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			e.Events |= EventError
		}
		out = append(out, e)
	}
	return out, nil
}
