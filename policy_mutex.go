package layoutsync

import (
	"sync"
	"sync/atomic"
)

// MutexLock runs every role, reads included, under one mutex owned by
// the container.
type MutexLock struct {
	_         noCopy
	mu        sync.Mutex
	accessors atomic.Int32
}

// NewMutexLock returns an unlocked MutexLock.
func NewMutexLock() *MutexLock {
	return &MutexLock{}
}

// Policy implements Lock.
func (l *MutexLock) Policy() Policy {
	return PolicyMutex
}

// Register implements Lock.
func (l *MutexLock) Register() Accessor {
	l.accessors.Add(1)
	return (*mutexAccessor)(l)
}

// Accessors returns the number of registered accessors.
func (l *MutexLock) Accessors() int {
	return int(l.accessors.Load())
}

type mutexAccessor MutexLock

func (a *mutexAccessor) StartRead() { a.mu.Lock() }

func (a *mutexAccessor) FinishRead() bool {
	a.mu.Unlock()
	return true
}

func (a *mutexAccessor) StartWrite()         { a.mu.Lock() }
func (a *mutexAccessor) FinishWrite()        { a.mu.Unlock() }
func (a *mutexAccessor) StartLayoutChange()  { a.mu.Lock() }
func (a *mutexAccessor) FinishLayoutChange() { a.mu.Unlock() }
func (a *mutexAccessor) Unregister()         { a.accessors.Add(-1) }

// ReentrantLock is a mutex that the accessor holding it may acquire again;
// each acquisition must be paired with its own finish.
type ReentrantLock struct {
	_         noCopy
	mu        sync.Mutex
	owner     atomic.Pointer[reentrantAccessor]
	accessors atomic.Int32
}

// NewReentrantLock returns an unlocked ReentrantLock.
func NewReentrantLock() *ReentrantLock {
	return &ReentrantLock{}
}

// Policy implements Lock.
func (l *ReentrantLock) Policy() Policy {
	return PolicyReentrant
}

// Register implements Lock.
func (l *ReentrantLock) Register() Accessor {
	l.accessors.Add(1)
	return &reentrantAccessor{lock: l}
}

// Accessors returns the number of registered accessors.
func (l *ReentrantLock) Accessors() int {
	return int(l.accessors.Load())
}

type reentrantAccessor struct {
	lock  *ReentrantLock
	holds int
}

func (a *reentrantAccessor) acquire() {
	l := a.lock
	if l.owner.Load() == a {
		a.holds++
		return
	}
	l.mu.Lock()
	l.owner.Store(a)
	a.holds = 1
}

func (a *reentrantAccessor) release() {
	a.holds--
	if a.holds == 0 {
		a.lock.owner.Store(nil)
		a.lock.mu.Unlock()
	}
}

func (a *reentrantAccessor) StartRead() { a.acquire() }

func (a *reentrantAccessor) FinishRead() bool {
	a.release()
	return true
}

func (a *reentrantAccessor) StartWrite()         { a.acquire() }
func (a *reentrantAccessor) FinishWrite()        { a.release() }
func (a *reentrantAccessor) StartLayoutChange()  { a.acquire() }
func (a *reentrantAccessor) FinishLayoutChange() { a.release() }
func (a *reentrantAccessor) Unregister()         { a.lock.accessors.Add(-1) }
