// Package signals delivers OS signals to tasks. Signals are funneled
// through a wakeup pipe: a forwarder goroutine receives them from the
// runtime and writes one byte per signal, which a task drains with Get
// through the fd adapter.
//
// The process has one signal disposition table, so the source is explicit
// process-wide state: Open claims it, Close releases it, and a second Open
// before Close fails.
package signals

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	kernel "github.com/joeycumines/go-kernel"
	"github.com/joeycumines/go-kernel/adapters"
)

// Package errors.
var (
	// ErrAlreadyOpen is returned by Open while another Source is live.
	ErrAlreadyOpen = errors.New("signals: already open")
	// ErrSourceClosed is returned by operations on a closed Source.
	ErrSourceClosed = errors.New("signals: source closed")
)

var (
	openMu sync.Mutex
	opened *Source
)

// Source receives enabled OS signals, one at a time, via Get.
type Source struct {
	kernel  *kernel.Kernel
	file    *adapters.File
	wfd     int
	ch      chan os.Signal
	done    chan struct{}
	enabled map[os.Signal]struct{}
	closed  bool
}

// Open claims the process's signal source. It must be paired with Close;
// a nested Open fails with ErrAlreadyOpen.
func Open(k *kernel.Kernel) (*Source, error) {
	openMu.Lock()
	defer openMu.Unlock()
	if opened != nil {
		return nil, ErrAlreadyOpen
	}

	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	if err := unix.SetNonblock(fds[1], true); err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return nil, err
	}
	file, err := adapters.NewFile(k, fds[0])
	if err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return nil, err
	}

	s := &Source{
		kernel:  k,
		file:    file,
		wfd:     fds[1],
		ch:      make(chan os.Signal, 64),
		done:    make(chan struct{}),
		enabled: make(map[os.Signal]struct{}),
	}
	go s.forward()
	opened = s
	return s, nil
}

// forward moves signals from the runtime's channel onto the wakeup pipe.
// A full pipe drops the signal, same as an overflowing channel would; the
// enabled set is small enough that this only happens under a signal storm.
func (s *Source) forward() {
	for {
		select {
		case sig := <-s.ch:
			num, ok := sig.(syscall.Signal)
			if !ok {
				continue
			}
			_, _ = unix.Write(s.wfd, []byte{byte(num)})
		case <-s.done:
			return
		}
	}
}

// Enable subscribes the source to sig.
func (s *Source) Enable(sig os.Signal) error {
	if s.closed {
		return ErrSourceClosed
	}
	if _, ok := s.enabled[sig]; ok {
		return nil
	}
	s.enabled[sig] = struct{}{}
	signal.Notify(s.ch, sig)
	return nil
}

// Disable unsubscribes the source from sig, restoring the default
// disposition.
func (s *Source) Disable(sig os.Signal) error {
	if s.closed {
		return ErrSourceClosed
	}
	if _, ok := s.enabled[sig]; !ok {
		return nil
	}
	delete(s.enabled, sig)
	signal.Reset(sig)
	return nil
}

// Get suspends until an enabled signal is delivered and returns it.
func (s *Source) Get(c *kernel.Context) (os.Signal, error) {
	if s.closed {
		return nil, ErrSourceClosed
	}
	var buf [1]byte
	for {
		n, err := s.file.Read(c, buf[:])
		if err != nil {
			return nil, err
		}
		if n == 1 {
			return syscall.Signal(buf[0]), nil
		}
	}
}

// Close releases the signal source: dispositions are restored, the
// forwarder stopped, and the pipe torn down. Idempotent.
func (s *Source) Close() error {
	openMu.Lock()
	defer openMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for sig := range s.enabled {
		signal.Reset(sig)
	}
	signal.Stop(s.ch)
	close(s.done)
	err := s.file.Close()
	_ = unix.Close(s.wfd)
	if opened == s {
		opened = nil
	}
	return err
}
