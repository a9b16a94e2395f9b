package layoutsync

import (
	"sync/atomic"
)

// defaultAdaptiveThreshold is the number of concurrent writers that
// switches an AdaptiveLock to layout mode.
const defaultAdaptiveThreshold = 4

// AdaptiveLock starts out as a stamped lock: reads validate a sequence
// that only layout changes advance, writers share the base read lock and
// layout changes take it exclusively. When more than threshold writers
// hold the base lock at once it switches, permanently, to FastLayoutLock
// mode so that writers stop contending on the base lock's reader count.
type AdaptiveLock struct {
	fast       FastLayoutLock
	seq        atomic.Uint32
	layoutMode atomic.Bool
	writers    atomic.Int32
	threshold  int32
}

// NewAdaptiveLock returns an AdaptiveLock in stamped mode. A threshold
// below one is treated as one.
func NewAdaptiveLock(threshold int) *AdaptiveLock {
	return &AdaptiveLock{threshold: int32(max(threshold, 1))}
}

// Policy implements Lock.
func (l *AdaptiveLock) Policy() Policy {
	return PolicyAdaptive
}

// Register implements Lock.
func (l *AdaptiveLock) Register() Accessor {
	return &adaptiveAccessor{lock: l, slot: l.fast.register()}
}

// Accessors returns the number of registered accessors.
func (l *AdaptiveLock) Accessors() int {
	return l.fast.Accessors()
}

// LayoutMode reports whether the lock has switched to layout mode.
func (l *AdaptiveLock) LayoutMode() bool {
	return l.layoutMode.Load()
}

func (l *AdaptiveLock) switchToLayoutMode() {
	l.fast.base.Lock()
	if !l.layoutMode.Load() {
		// flags have not been maintained while stamped
		l.fast.needToRecover.Store(true)
		// invalidate stamped reads that straddle the switch
		l.seq.Add(2)
		l.layoutMode.Store(true)
	}
	l.fast.base.Unlock()
}

type adaptiveAccessor struct {
	lock         *AdaptiveLock
	slot         *threadSlot
	stamp        uint32
	stampedRead  bool
	stampedWrite bool
	wantSwitch   bool
}

func (a *adaptiveAccessor) StartRead() {
	l := a.lock
	if l.layoutMode.Load() {
		a.stampedRead = false
		return
	}
	a.stampedRead = true
	spins := 0
	for {
		s := l.seq.Load()
		if s&1 == 0 {
			a.stamp = s
			return
		}
		delay(&spins)
	}
}

func (a *adaptiveAccessor) FinishRead() bool {
	if a.stampedRead {
		return a.lock.seq.Load() == a.stamp
	}
	return a.lock.fast.finishRead(a.slot)
}

func (a *adaptiveAccessor) StartWrite() {
	l := a.lock
	if !l.layoutMode.Load() {
		l.fast.base.RLock()
		// the switch happens under the exclusive base lock
		if !l.layoutMode.Load() {
			a.stampedWrite = true
			a.wantSwitch = l.writers.Add(1) > l.threshold
			return
		}
		l.fast.base.RUnlock()
	}
	a.stampedWrite = false
	l.fast.startWrite(a.slot)
}

func (a *adaptiveAccessor) FinishWrite() {
	l := a.lock
	if !a.stampedWrite {
		a.slot.state.Store(stateInactive)
		return
	}
	l.writers.Add(-1)
	l.fast.base.RUnlock()
	if a.wantSwitch {
		a.wantSwitch = false
		l.switchToLayoutMode()
	}
}

func (a *adaptiveAccessor) StartLayoutChange() {
	a.lock.fast.startLayoutChange()
	a.lock.seq.Add(1)
}

func (a *adaptiveAccessor) FinishLayoutChange() {
	a.lock.seq.Add(1)
	a.lock.fast.finishLayoutChange()
}

func (a *adaptiveAccessor) Unregister() {
	a.lock.fast.unregister(a.slot)
	a.slot = nil
}
