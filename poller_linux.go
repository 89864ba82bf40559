//go:build linux

package kernel

import (
	"time"

	"golang.org/x/sys/unix"
)

// Poller is a thin wrapper over epoll. It tracks the registered interest
// mask per fd so the kernel (and tests) can introspect it; it holds no task
// state of its own. Single-goroutine use only, same as the kernel that owns
// it.
type Poller struct {
	eventBuf   [128]unix.EpollEvent
	registered map[int]IOEvents
	epfd       int
	closed     bool
}

// NewPoller creates an epoll instance.
func NewPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{
		epfd:       epfd,
		registered: make(map[int]IOEvents),
	}, nil
}

// Close releases the epoll instance. Idempotent.
func (p *Poller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.registered = nil
	return unix.Close(p.epfd)
}

// Registered returns the interest mask currently registered for fd.
func (p *Poller) Registered(fd int) (IOEvents, bool) {
	events, ok := p.registered[fd]
	return events, ok
}

// Register adds fd to the interest set. A concurrently closed fd surfaces as
// unix.EBADF, which the kernel routes to the waiting task rather than
// treating as fatal.
func (p *Poller) Register(fd int, events IOEvents) error {
	if p.closed {
		return ErrPollerClosed
	}
	if _, ok := p.registered[fd]; ok {
		return ErrFDAlreadyRegistered
	}
	ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	p.registered[fd] = events
	return nil
}

// Modify replaces the interest mask registered for fd.
func (p *Poller) Modify(fd int, events IOEvents) error {
	if p.closed {
		return ErrPollerClosed
	}
	if _, ok := p.registered[fd]; !ok {
		return ErrFDNotRegistered
	}
	ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return err
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
	if _, ok := p.registered[fd]; !ok {
		return ErrFDNotRegistered
	}
	delete(p.registered, fd)
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.EBADF && err != unix.ENOENT {
		return err
	}
	return nil
}

// Poll blocks until at least one registered fd is ready or timeout elapses.
// A negative timeout blocks indefinitely; zero is a non-blocking probe.
// EINTR is treated as an empty wakeup, not an error.
func (p *Poller) Poll(timeout time.Duration) ([]PollEvent, error) {
	if p.closed {
		return nil, ErrPollerClosed
	}
	ms := -1
	if timeout >= 0 {
		// Round up so a sub-millisecond deadline cannot busy-spin.
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]PollEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, PollEvent{
			FD:     int(p.eventBuf[i].Fd),
			Events: epollToEvents(p.eventBuf[i].Events),
		})
	}
	return out, nil
}

func eventsToEpoll(events IOEvents) uint32 {
	var epollEvents uint32
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

func epollToEvents(epollEvents uint32) IOEvents {
	var events IOEvents
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
