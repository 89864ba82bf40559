package kernel

import (
	"fmt"
	"time"
)

// TrapKind identifies the wakeup condition a suspended task requested.
// The set of kinds is closed; the kernel's trap routing matches it
// exhaustively.
type TrapKind uint8

const (
	// TrapPollRead suspends until a file descriptor is ready for reading.
	TrapPollRead TrapKind = iota + 1
	// TrapPollWrite suspends until a file descriptor is ready for writing.
	TrapPollWrite
	// TrapSleep suspends until a deadline (or forever).
	TrapSleep
	// TrapJoin suspends until another task completes.
	TrapJoin
	// TrapBlock suspends against an opaque source key until
	// [Kernel.Unblock] is called with the same key.
	TrapBlock
)

// String returns the trap kind's name.
func (k TrapKind) String() string {
	switch k {
	case TrapPollRead:
		return "poll-read"
	case TrapPollWrite:
		return "poll-write"
	case TrapSleep:
		return "sleep"
	case TrapJoin:
		return "join"
	case TrapBlock:
		return "block"
	default:
		return fmt.Sprintf("trap(%d)", uint8(k))
	}
}

// Trap describes why a task suspended. A task produces exactly one Trap per
// suspension point; the kernel consumes it on the same tick. Only the fields
// relevant to Kind are set.
type Trap struct {
	// Source is the opaque key of a TrapBlock. It must be usable as a map
	// key.
	Source any
	// Target is the task a TrapJoin waits on.
	Target *Task
	// PostBlock, if non-nil on a TrapBlock, is invoked exactly once
	// immediately after the task is registered against Source. It exists so
	// callers can atomically register-then-trigger without a lost-wakeup
	// window.
	PostBlock func()
	// Duration is the requested sleep of a TrapSleep. Non-positive values
	// make the task immediately runnable again.
	Duration time.Duration
	// FD is the file descriptor of a TrapPollRead/TrapPollWrite.
	FD int
	// Kind discriminates the union.
	Kind TrapKind
	// Forever marks a TrapSleep with no deadline; Duration is ignored.
	Forever bool
}
