package kernel

import "errors"

// IOEvents is a bitmask of I/O readiness conditions. Registration accepts
// EventRead and EventWrite; Poll results may additionally carry EventError
// and EventHangup.
type IOEvents uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// PollEvent is one readiness notification returned by [Poller.Poll].
type PollEvent struct {
	FD     int
	Events IOEvents
}

// Poller errors.
var (
	ErrFDNotRegistered     = errors.New("kernel: fd not registered")
	ErrFDAlreadyRegistered = errors.New("kernel: fd already registered")
	ErrPollerClosed        = errors.New("kernel: poller closed")
)

// The Poller itself is platform specific:
//   - poller_linux.go (epoll, level-triggered)
//   - poller_darwin.go (kqueue)
//
// Interest is level-triggered on every platform: the kernel keeps each fd's
// registered mask equal to the union of directions still awaited by live
// tasks, shrinking it as waiters are released so a ready-but-unconsumed fd
// cannot spin the run loop.
