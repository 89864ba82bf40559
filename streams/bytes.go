// Package streams provides in-memory byte streams for connecting tasks.
package streams

import (
	"bytes"
	"errors"

	kernel "github.com/joeycumines/go-kernel"
	"github.com/joeycumines/go-kernel/locks"
)

// ErrStreamClosed is returned by writes to a closed stream.
var ErrStreamClosed = errors.New("streams: closed")

// BytesStream is an in-memory pipe between tasks with an unbounded buffer,
// so writers never suspend. Close only closes the write end: readers keep
// draining buffered data and then observe EOF (an empty read).
//
// Blocking methods take a Context; the *Nonblocking forms never suspend
// and report "would block" with a false ok.
type BytesStream struct {
	kernel *kernel.Kernel
	gate   *locks.Gate
	buf    bytes.Buffer
	closed bool
}

// NewBytesStream creates an open stream bound to k.
func NewBytesStream(k *kernel.Kernel) *BytesStream {
	return &BytesStream{kernel: k, gate: locks.NewGate(k)}
}

// Closed reports whether the write end has been closed.
func (s *BytesStream) Closed() bool { return s.closed }

// Close closes the write end. Buffered data remains readable. Idempotent.
func (s *BytesStream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	// Wake readers so they can drain and then observe EOF.
	s.gate.Unblock()
}

// Write appends data to the buffer and wakes readers. It never suspends.
func (s *BytesStream) Write(data []byte) (int, error) {
	return s.WriteNonblocking(data)
}

// WriteNonblocking appends data to the buffer and wakes readers.
func (s *BytesStream) WriteNonblocking(data []byte) (int, error) {
	if s.closed {
		return 0, ErrStreamClosed
	}
	s.gate.Unblock()
	return s.buf.Write(data)
}

// Read suspends until data is available or the stream is closed, then
// returns up to size bytes (all buffered data when size is negative). A
// nil, nil return is EOF: the stream is closed and drained.
func (s *BytesStream) Read(c *kernel.Context, size int) ([]byte, error) {
	for {
		data, ok := s.ReadNonblocking(size)
		if ok {
			return data, nil
		}
		if err := s.gate.Wait(c); err != nil {
			return nil, err
		}
	}
}

// ReadNonblocking returns up to size bytes without suspending. A false ok
// means no data is buffered and the stream is still open; a true ok with
// nil data is EOF.
func (s *BytesStream) ReadNonblocking(size int) ([]byte, bool) {
	if s.buf.Len() == 0 {
		if s.closed {
			return nil, true
		}
		return nil, false
	}
	if size < 0 || size > s.buf.Len() {
		size = s.buf.Len()
	}
	if size == 0 {
		return []byte{}, true
	}
	data := make([]byte, size)
	n, _ := s.buf.Read(data)
	return data[:n], true
}

// ReadLine suspends until a full line (terminated by '\n') is available,
// the stream closes (the unterminated remainder is returned), or the
// caller is disrupted. A nil, nil return is EOF.
func (s *BytesStream) ReadLine(c *kernel.Context) ([]byte, error) {
	for {
		line, ok := s.ReadLineNonblocking()
		if ok {
			return line, nil
		}
		if err := s.gate.Wait(c); err != nil {
			return nil, err
		}
	}
}

// ReadLineNonblocking returns the next line without suspending. A false ok
// means no complete line is buffered and the stream is still open.
func (s *BytesStream) ReadLineNonblocking() ([]byte, bool) {
	data := s.buf.Bytes()
	if len(data) == 0 {
		if s.closed {
			return nil, true
		}
		return nil, false
	}
	pos := bytes.IndexByte(data, '\n')
	if pos < 0 {
		if !s.closed {
			return nil, false
		}
		pos = len(data) - 1
	}
	line := make([]byte, pos+1)
	n, _ := s.buf.Read(line)
	return line[:n], true
}
