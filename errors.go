package layoutsync

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded is returned when growing a container would pass
	// its configured maximum capacity.
	ErrCapacityExceeded = errors.New("layoutsync: capacity exceeded")
	// ErrIndexOutOfRange is returned by GrowableArray.Store for an index
	// that holds no published value.
	ErrIndexOutOfRange = errors.New("layoutsync: index out of range")
)

// ProtocolViolation reports an internal inconsistency of a lock-free
// protocol, such as a deleted entry whose predecessor cannot be found.
// It is raised with panic and indicates a bug, never a caller error.
type ProtocolViolation struct {
	Op     string
	Detail string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("layoutsync: protocol violation in %s: %s", e.Op, e.Detail)
}

func violation(op, detail string) {
	panic(&ProtocolViolation{Op: op, Detail: detail})
}

// RemoveResult is the outcome of a delete on a lock-free chain.
type RemoveResult int8

const (
	// NotFound means no live entry with the key was reachable.
	NotFound RemoveResult = iota
	// Removed means this call tombstoned and unlinked the entry.
	Removed
	// AlreadyRemoved means a concurrent delete tombstoned the entry first.
	AlreadyRemoved
)

func (r RemoveResult) String() string {
	switch r {
	case Removed:
		return "removed"
	case AlreadyRemoved:
		return "already-removed"
	default:
		return "not-found"
	}
}
