package layoutsync

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// slotsPerBlock is the number of thread slots allocated together.
const slotsPerBlock = 64

// Accessor states stored in threadSlot.state.
const (
	stateInactive int32 = iota
	stateWrite
	stateLayoutChange
)

// threadSlot is the per-accessor state word of a layout lock. Each slot
// fills whole cache lines so that accessors spinning on their own state
// never invalidate a neighbour's line.
type threadSlot struct {
	//lint:ignore U1000 prevents false sharing
	pad [(CacheLineSize - unsafe.Sizeof(struct {
		state    atomic.Int32
		intended atomic.Int32
		dirty    atomic.Bool
	}{})%CacheLineSize) % CacheLineSize]byte

	state atomic.Int32
	// number of layout changes waiting to force this slot; a non-zero
	// value is the LAYOUT_CHANGE_PENDING state of the baseline lock
	intended atomic.Int32
	dirty    atomic.Bool
}

func (s *threadSlot) reset() {
	s.state.Store(stateInactive)
	s.intended.Store(0)
	s.dirty.Store(false)
}

// threadRegistry hands out padded thread slots from blocks of
// slotsPerBlock and recycles released ones. Slots never move, so pointers
// to them stay valid for the registry's lifetime.
type threadRegistry struct {
	mu     sync.Mutex
	blocks [][]threadSlot
	used   int // slots handed out from the last block
	free   []*threadSlot
}

func (r *threadRegistry) acquire() *threadSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.free); n > 0 {
		s := r.free[n-1]
		r.free = r.free[:n-1]
		s.reset()
		return s
	}
	if len(r.blocks) == 0 || r.used == slotsPerBlock {
		r.blocks = append(r.blocks, make([]threadSlot, slotsPerBlock))
		r.used = 0
	}
	s := &r.blocks[len(r.blocks)-1][r.used]
	r.used++
	return s
}

func (r *threadRegistry) release(s *threadSlot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.free = append(r.free, s)
}

// slotList is a copy-on-write set of registered slots. Layout changes
// iterate a snapshot without holding the registry mutex.
type slotList struct {
	p atomic.Pointer[[]*threadSlot]
}

func (l *slotList) load() []*threadSlot {
	if p := l.p.Load(); p != nil {
		return *p
	}
	return nil
}

// add and remove must be serialized by the owning lock's exclusive role.
func (l *slotList) add(s *threadSlot) {
	old := l.load()
	next := make([]*threadSlot, len(old), len(old)+1)
	copy(next, old)
	next = append(next, s)
	l.p.Store(&next)
}

func (l *slotList) remove(s *threadSlot) {
	old := l.load()
	next := make([]*threadSlot, 0, len(old))
	for _, o := range old {
		if o != s {
			next = append(next, o)
		}
	}
	l.p.Store(&next)
}
