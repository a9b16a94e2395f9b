package layoutsync

import (
	"sync"
)

// LayoutLock is the baseline layout lock. Every accessor owns a padded
// slot holding its state, a dirty bit and a write-intent counter.
//
// Writers CAS their own state INACTIVE->WRITE and back off while a layout
// change is pending on them. A layout change takes the exclusive mutex,
// announces itself on every slot, forces each slot INACTIVE->LAYOUT_CHANGE
// (waiting out writers), then marks every slot dirty. Readers take no
// action up front and retry when they find their dirty bit set.
type LayoutLock struct {
	_        noCopy
	mu       sync.Mutex
	registry threadRegistry
	slots    slotList
}

// NewLayoutLock returns an empty baseline layout lock.
func NewLayoutLock() *LayoutLock {
	return &LayoutLock{}
}

// Policy implements Lock.
func (l *LayoutLock) Policy() Policy {
	return PolicyLayout
}

// Register implements Lock.
func (l *LayoutLock) Register() Accessor {
	s := l.registry.acquire()
	l.mu.Lock()
	l.slots.add(s)
	l.mu.Unlock()
	return &layoutAccessor{lock: l, slot: s}
}

// Accessors returns the number of registered accessors.
func (l *LayoutLock) Accessors() int {
	return len(l.slots.load())
}

type layoutAccessor struct {
	lock *LayoutLock
	slot *threadSlot
}

func (a *layoutAccessor) StartRead() {}

func (a *layoutAccessor) FinishRead() bool {
	s := a.slot
	if !s.dirty.Load() {
		return true
	}
	spins := 0
	for s.state.Load() == stateLayoutChange {
		delay(&spins)
	}
	s.dirty.Store(false)
	// a new layout change may have forced us between the wait and the
	// reset; it stores dirty after its CAS, so re-arm if we lost that
	if s.state.Load() == stateLayoutChange {
		s.dirty.Store(true)
	}
	return false
}

func (a *layoutAccessor) StartWrite() {
	s := a.slot
	spins := 0
	for s.intended.Load() != 0 || !s.state.CompareAndSwap(stateInactive, stateWrite) {
		delay(&spins)
	}
}

func (a *layoutAccessor) FinishWrite() {
	a.slot.state.Store(stateInactive)
}

func (a *layoutAccessor) StartLayoutChange() {
	l := a.lock
	l.mu.Lock()
	slots := l.slots.load()
	for _, s := range slots {
		s.intended.Add(1)
	}
	for _, s := range slots {
		spins := 0
		for !s.state.CompareAndSwap(stateInactive, stateLayoutChange) {
			delay(&spins)
		}
	}
	for _, s := range slots {
		s.intended.Add(-1)
		s.dirty.Store(true)
	}
}

func (a *layoutAccessor) FinishLayoutChange() {
	l := a.lock
	for _, s := range l.slots.load() {
		s.state.Store(stateInactive)
	}
	l.mu.Unlock()
}

func (a *layoutAccessor) Unregister() {
	l := a.lock
	l.mu.Lock()
	l.slots.remove(a.slot)
	l.mu.Unlock()
	l.registry.release(a.slot)
	a.slot = nil
}
