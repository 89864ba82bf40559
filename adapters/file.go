// Package adapters wraps raw file descriptors for use inside tasks: the fd
// is switched to non-blocking mode and every operation retries around a
// PollRead/PollWrite trap, so a task suspends instead of blocking the
// kernel's goroutine.
package adapters

import (
	"io"

	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"

	kernel "github.com/joeycumines/go-kernel"
)

// File adapts a raw fd (file, pipe end, or anything poll-able) for task
// I/O. It takes ownership of the fd; Close releases it.
type File struct {
	kernel *kernel.Kernel
	logger *logiface.Logger[logiface.Event]
	fd     int
	closed bool
}

// NewFile wraps fd, switching it to non-blocking mode.
func NewFile(k *kernel.Kernel, fd int, opts ...Option) (*File, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, err
	}
	return &File{kernel: k, logger: cfg.logger, fd: fd}, nil
}

// Pipe creates a pipe with both ends adapted, non-blocking and
// close-on-exec.
func Pipe(k *kernel.Kernel, opts ...Option) (r, w *File, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, nil, err
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	r, err = NewFile(k, fds[0], opts...)
	if err == nil {
		w, err = NewFile(k, fds[1], opts...)
	}
	if err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return nil, nil, err
	}
	return r, w, nil
}

// FD returns the underlying descriptor.
func (f *File) FD() int { return f.fd }

// Closed reports whether Close has been called.
func (f *File) Closed() bool { return f.closed }

// Read reads up to len(buf) bytes, suspending until the fd is readable.
// It returns io.EOF at end of file.
func (f *File) Read(c *kernel.Context, buf []byte) (int, error) {
	if f.closed {
		return 0, kernel.ErrClosed
	}
	for {
		n, err := unix.Read(f.fd, buf)
		switch err {
		case nil:
			if n == 0 && len(buf) > 0 {
				return 0, io.EOF
			}
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			if err := c.PollRead(f.fd); err != nil {
				return 0, err
			}
		default:
			return 0, err
		}
	}
}

// Write writes data, suspending until the fd is writable. It may write
// fewer bytes than requested; see WriteAll.
func (f *File) Write(c *kernel.Context, data []byte) (int, error) {
	if f.closed {
		return 0, kernel.ErrClosed
	}
	for {
		n, err := unix.Write(f.fd, data)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			if err := c.PollWrite(f.fd); err != nil {
				return 0, err
			}
		default:
			return 0, err
		}
	}
}

// WriteAll writes all of data, suspending as needed, and returns the total
// written. On error the count covers what made it out before the failure.
func (f *File) WriteAll(c *kernel.Context, data []byte) (int, error) {
	var total int
	for len(data) > 0 {
		n, err := f.Write(c, data)
		total += n
		if err != nil {
			return total, err
		}
		data = data[n:]
	}
	return total, nil
}

// Close deregisters the fd from the kernel, failing any task still blocked
// on it, then closes the fd. A deregistration failure is logged, not
// returned, so the fd is always released. Idempotent.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if err := f.kernel.CloseFD(f.fd); err != nil && err != kernel.ErrClosed {
		f.logger.Warning().
			Err(err).
			Int("fd", f.fd).
			Log("adapters: close with pending waiters")
	}
	return unix.Close(f.fd)
}
