package layoutsync

import (
	"sync"
	"sync/atomic"
)

// FastLayoutLock implements the layout-lock contract with a single state
// word per accessor and a base RW mutex that is only touched on conflict.
//
// A layout change leaves every flag at LAYOUT_CHANGE when it finishes:
// a flag that is not INACTIVE is the accessor's dirty bit. An accessor
// that finds its flag forced returns it to INACTIVE (or WRITE) under the
// base read lock and raises needToRecover, so the next layout change
// that acquires the base lock by blocking knows some flags must be
// forced again.
type FastLayoutLock struct {
	_             noCopy
	base          sync.RWMutex
	needToRecover atomic.Bool
	registry      threadRegistry
	slots         slotList
}

// NewFastLayoutLock returns an empty fast layout lock.
func NewFastLayoutLock() *FastLayoutLock {
	return &FastLayoutLock{}
}

// Policy implements Lock.
func (l *FastLayoutLock) Policy() Policy {
	return PolicyFastLayout
}

// Register implements Lock.
func (l *FastLayoutLock) Register() Accessor {
	return &fastAccessor{lock: l, slot: l.register()}
}

func (l *FastLayoutLock) register() *threadSlot {
	s := l.registry.acquire()
	l.base.Lock()
	l.slots.add(s)
	// the new slot is INACTIVE; a layout change waiting on the base lock
	// right now must not assume every flag is still forced
	l.needToRecover.Store(true)
	l.base.Unlock()
	return s
}

func (l *FastLayoutLock) unregister(s *threadSlot) {
	l.base.Lock()
	l.slots.remove(s)
	l.base.Unlock()
	l.registry.release(s)
}

// Accessors returns the number of registered accessors.
func (l *FastLayoutLock) Accessors() int {
	return len(l.slots.load())
}

func (l *FastLayoutLock) startLayoutChange() {
	if l.base.TryLock() {
		l.markLayoutChange()
		return
	}
	l.base.Lock()
	if l.needToRecover.Load() {
		l.markLayoutChange()
		l.needToRecover.Store(false)
	}
}

func (l *FastLayoutLock) finishLayoutChange() {
	l.base.Unlock()
}

// markLayoutChange forces every flag to LAYOUT_CHANGE, waiting for active
// writers to finish.
func (l *FastLayoutLock) markLayoutChange() {
	for _, s := range l.slots.load() {
		spins := 0
		for {
			st := s.state.Load()
			if st == stateLayoutChange ||
				(st == stateInactive && s.state.CompareAndSwap(stateInactive, stateLayoutChange)) {
				break
			}
			delay(&spins)
		}
	}
}

// changeState moves a forced flag to st under the base read lock, which
// waits out a layout change in progress.
func (l *FastLayoutLock) changeState(s *threadSlot, st int32) {
	l.base.RLock()
	s.state.Store(st)
	l.needToRecover.Store(true)
	l.base.RUnlock()
}

func (l *FastLayoutLock) startWrite(s *threadSlot) {
	if !s.state.CompareAndSwap(stateInactive, stateWrite) {
		l.changeState(s, stateWrite)
	}
}

func (l *FastLayoutLock) finishRead(s *threadSlot) bool {
	if s.state.Load() == stateInactive {
		return true
	}
	l.changeState(s, stateInactive)
	return false
}

type fastAccessor struct {
	lock *FastLayoutLock
	slot *threadSlot
}

func (a *fastAccessor) StartRead() {}

func (a *fastAccessor) FinishRead() bool {
	return a.lock.finishRead(a.slot)
}

func (a *fastAccessor) StartWrite() {
	a.lock.startWrite(a.slot)
}

func (a *fastAccessor) FinishWrite() {
	a.slot.state.Store(stateInactive)
}

func (a *fastAccessor) StartLayoutChange() {
	a.lock.startLayoutChange()
}

func (a *fastAccessor) FinishLayoutChange() {
	a.lock.finishLayoutChange()
}

func (a *fastAccessor) Unregister() {
	a.lock.unregister(a.slot)
	a.slot = nil
}
