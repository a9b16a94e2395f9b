package layoutsync

import (
	"sync"
	"sync/atomic"
)

// BiasedLock is a mutex biased towards the first accessor registered on
// it. While the bias holds, that accessor enters every role with two
// uncontended atomic stores. The first other accessor to need the lock
// revokes the bias for good; from then on everybody uses the mutex.
//
// Revocation is a Dekker handshake: the owner publishes inside=1 and then
// checks revoked, the revoker publishes revoked and then waits for
// inside==0. At least one side sees the other's store, so the owner
// either backs off to the mutex or is waited out.
type BiasedLock struct {
	_          noCopy
	mu         sync.Mutex
	owner      atomic.Pointer[biasedAccessor]
	revoked    atomic.Bool
	revokeDone atomic.Bool
	accessors  atomic.Int32
}

// NewBiasedLock returns an unlocked, not yet biased BiasedLock.
func NewBiasedLock() *BiasedLock {
	return &BiasedLock{}
}

// Policy implements Lock.
func (l *BiasedLock) Policy() Policy {
	return PolicyBiased
}

// Register implements Lock.
func (l *BiasedLock) Register() Accessor {
	l.accessors.Add(1)
	a := &biasedAccessor{lock: l}
	if !l.revoked.Load() {
		l.owner.CompareAndSwap(nil, a)
	}
	return a
}

// Accessors returns the number of registered accessors.
func (l *BiasedLock) Accessors() int {
	return int(l.accessors.Load())
}

// Revoked reports whether the bias has been revoked.
func (l *BiasedLock) Revoked() bool {
	return l.revokeDone.Load()
}

// revoke withdraws the bias and returns once the owner is known to be
// outside any biased critical section.
func (l *BiasedLock) revoke() {
	if l.revokeDone.Load() {
		return
	}
	spins := 0
	if l.revoked.CompareAndSwap(false, true) {
		if o := l.owner.Load(); o != nil {
			for o.inside.Load() != 0 {
				delay(&spins)
			}
		}
		l.revokeDone.Store(true)
		return
	}
	for !l.revokeDone.Load() {
		delay(&spins)
	}
}

type biasedAccessor struct {
	lock   *BiasedLock
	inside atomic.Int32
	biased bool // current acquisition took the biased path
}

func (a *biasedAccessor) acquire() {
	l := a.lock
	if l.owner.Load() == a {
		a.inside.Store(1)
		if !l.revoked.Load() {
			a.biased = true
			return
		}
		a.inside.Store(0)
	}
	l.revoke()
	l.mu.Lock()
	a.biased = false
}

func (a *biasedAccessor) release() {
	if a.biased {
		a.inside.Store(0)
		return
	}
	a.lock.mu.Unlock()
}

func (a *biasedAccessor) StartRead() { a.acquire() }

func (a *biasedAccessor) FinishRead() bool {
	a.release()
	return true
}

func (a *biasedAccessor) StartWrite()         { a.acquire() }
func (a *biasedAccessor) FinishWrite()        { a.release() }
func (a *biasedAccessor) StartLayoutChange()  { a.acquire() }
func (a *biasedAccessor) FinishLayoutChange() { a.release() }

func (a *biasedAccessor) Unregister() {
	l := a.lock
	if l.owner.Load() == a {
		l.revoke()
	}
	l.accessors.Add(-1)
}
