package layoutsync

import (
	"sync/atomic"
)

// StampedLock is a sequence lock: readers record an even stamp and
// validate it afterwards, Write and LayoutChange both make the sequence
// odd for their duration and are mutually exclusive.
type StampedLock struct {
	_         noCopy
	seq       atomic.Uint32
	accessors atomic.Int32
}

// NewStampedLock returns an unlocked StampedLock.
func NewStampedLock() *StampedLock {
	return &StampedLock{}
}

// Policy implements Lock.
func (l *StampedLock) Policy() Policy {
	return PolicyStamped
}

// Register implements Lock.
func (l *StampedLock) Register() Accessor {
	l.accessors.Add(1)
	return &stampedAccessor{lock: l}
}

// Accessors returns the number of registered accessors.
func (l *StampedLock) Accessors() int {
	return int(l.accessors.Load())
}

// readStamp waits for an even sequence and returns it.
func (l *StampedLock) readStamp() uint32 {
	spins := 0
	for {
		s := l.seq.Load()
		if s&1 == 0 {
			return s
		}
		delay(&spins)
	}
}

func (l *StampedLock) validate(stamp uint32) bool {
	return l.seq.Load() == stamp
}

func (l *StampedLock) lock() {
	spins := 0
	for {
		s := l.seq.Load()
		if s&1 == 0 && l.seq.CompareAndSwap(s, s|1) {
			return
		}
		delay(&spins)
	}
}

func (l *StampedLock) unlock() {
	l.seq.Add(1)
}

type stampedAccessor struct {
	lock  *StampedLock
	stamp uint32
}

func (a *stampedAccessor) StartRead() {
	a.stamp = a.lock.readStamp()
}

func (a *stampedAccessor) FinishRead() bool {
	return a.lock.validate(a.stamp)
}

func (a *stampedAccessor) StartWrite()         { a.lock.lock() }
func (a *stampedAccessor) FinishWrite()        { a.lock.unlock() }
func (a *stampedAccessor) StartLayoutChange()  { a.lock.lock() }
func (a *stampedAccessor) FinishLayoutChange() { a.lock.unlock() }
func (a *stampedAccessor) Unregister()         { a.lock.accessors.Add(-1) }
