package kernel

import (
	"encoding/binary"

	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

// nudger wakes a kernel that is blocked in Poll from another thread, using
// a self-wake fd (eventfd on Linux, self-pipe elsewhere). nudge is safe to
// call from any goroutine; the rest is owned by the kernel goroutine.
type nudger struct {
	logger *logiface.Logger[logiface.Event]
	r      int
	w      int
}

func newNudger(logger *logiface.Logger[logiface.Event]) (*nudger, error) {
	r, w, err := createWakeFd()
	if err != nil {
		return nil, err
	}
	return &nudger{logger: logger, r: r, w: w}, nil
}

// readFD returns the fd the kernel registers with its poller.
func (n *nudger) readFD() int { return n.r }

// nudge wakes the poller. Multiple nudges before an ack coalesce; a full
// wake buffer (EAGAIN) means a wake-up is already pending, which is the
// outcome we want anyway. EBADF after close is tolerated because a nudge
// racing a close is benign, but it is worth a warning.
func (n *nudger) nudge() {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(n.w, buf[:])
		switch err {
		case nil, unix.EAGAIN:
			return
		case unix.EINTR:
			continue
		case unix.EBADF:
			n.logger.Warning().
				Str("reason", "nudged after close").
				Log("kernel: nudge on closed fd")
			return
		default:
			n.logger.Warning().
				Err(err).
				Log("kernel: nudge failed")
			return
		}
	}
}

// isNudged reports whether any of the polled events is the wake fd.
func (n *nudger) isNudged(events []PollEvent) bool {
	for i := range events {
		if events[i].FD == n.r {
			return true
		}
	}
	return false
}

// ack drains the wake fd so the poller can block again.
func (n *nudger) ack() {
	var buf [8]byte
	for {
		nr, err := unix.Read(n.r, buf[:])
		switch err {
		case nil:
			if nr == 0 {
				return
			}
			continue
		case unix.EINTR:
			continue
		default:
			// EAGAIN means drained. Anything else is not actionable here.
			return
		}
	}
}

func (n *nudger) close() {
	_ = unix.Close(n.r)
	if n.w != n.r {
		_ = unix.Close(n.w)
	}
}
