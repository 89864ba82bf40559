package adapters

import (
	"fmt"

	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"

	kernel "github.com/joeycumines/go-kernel"
)

// Socket adapts a raw socket fd for task I/O. It takes ownership of the
// fd; Close releases it.
type Socket struct {
	kernel *kernel.Kernel
	logger *logiface.Logger[logiface.Event]
	fd     int
	closed bool
}

// NewSocket wraps an existing socket fd, switching it to non-blocking
// mode.
func NewSocket(k *kernel.Kernel, fd int, opts ...Option) (*Socket, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, err
	}
	return &Socket{kernel: k, logger: cfg.logger, fd: fd}, nil
}

// NewTCPSocket creates a fresh TCP socket (IPv4), non-blocking and
// close-on-exec.
func NewTCPSocket(k *kernel.Kernel, opts ...Option) (*Socket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(fd)
	s, err := NewSocket(k, fd, opts...)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return s, nil
}

// FD returns the underlying descriptor.
func (s *Socket) FD() int { return s.fd }

// Bind binds the socket to addr.
func (s *Socket) Bind(addr unix.Sockaddr) error {
	return unix.Bind(s.fd, addr)
}

// Listen marks the socket as accepting connections.
func (s *Socket) Listen(backlog int) error {
	return unix.Listen(s.fd, backlog)
}

// SetsockoptInt sets an integer socket option.
func (s *Socket) SetsockoptInt(level, opt, value int) error {
	return unix.SetsockoptInt(s.fd, level, opt, value)
}

// Sockname returns the socket's local address.
func (s *Socket) Sockname() (unix.Sockaddr, error) {
	return unix.Getsockname(s.fd)
}

// Accept suspends until a connection arrives and returns it adapted.
func (s *Socket) Accept(c *kernel.Context) (*Socket, unix.Sockaddr, error) {
	if s.closed {
		return nil, nil, kernel.ErrClosed
	}
	for {
		fd, addr, err := unix.Accept(s.fd)
		switch err {
		case nil:
			conn, err := NewSocket(s.kernel, fd, WithLogger(s.logger))
			if err != nil {
				_ = unix.Close(fd)
				return nil, nil, err
			}
			return conn, addr, nil
		case unix.EINTR, unix.ECONNABORTED:
			continue
		case unix.EAGAIN:
			if err := c.PollRead(s.fd); err != nil {
				return nil, nil, err
			}
		default:
			return nil, nil, err
		}
	}
}

// Connect initiates a connection and suspends until it is established.
// Non-blocking connect reports completion via writability; the actual
// outcome is read back with SO_ERROR.
func (s *Socket) Connect(c *kernel.Context, addr unix.Sockaddr) error {
	if s.closed {
		return kernel.ErrClosed
	}
	err := unix.Connect(s.fd, addr)
	switch err {
	case nil:
	case unix.EINPROGRESS, unix.EINTR:
		if err := c.PollWrite(s.fd); err != nil {
			return err
		}
	default:
		return err
	}
	errno, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return fmt.Errorf("adapters: connect: %w", unix.Errno(errno))
	}
	return nil
}

// Recv reads up to len(buf) bytes, suspending until data arrives. A zero
// count with a nil error means the peer closed the connection.
func (s *Socket) Recv(c *kernel.Context, buf []byte) (int, error) {
	if s.closed {
		return 0, kernel.ErrClosed
	}
	for {
		n, err := unix.Read(s.fd, buf)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			if err := c.PollRead(s.fd); err != nil {
				return 0, err
			}
		default:
			return 0, err
		}
	}
}

// Send writes data, suspending until the socket is writable. It may write
// fewer bytes than requested; see SendAll.
func (s *Socket) Send(c *kernel.Context, data []byte) (int, error) {
	if s.closed {
		return 0, kernel.ErrClosed
	}
	for {
		n, err := unix.Write(s.fd, data)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN, unix.ENOBUFS:
			if err := c.PollWrite(s.fd); err != nil {
				return 0, err
			}
		default:
			return 0, err
		}
	}
}

// SendAll writes all of data, suspending as needed.
func (s *Socket) SendAll(c *kernel.Context, data []byte) (int, error) {
	var total int
	for len(data) > 0 {
		n, err := s.Send(c, data)
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
func (s *Socket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.kernel.CloseFD(s.fd); err != nil && err != kernel.ErrClosed {
		s.logger.Warning().
			Err(err).
			Int("fd", s.fd).
			Log("adapters: close with pending waiters")
	}
	return unix.Close(s.fd)
}
