package layoutsync

import (
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
)

// defaultArrayCapacity is the initial number of slots of a GrowableArray.
const defaultArrayCapacity = 16

// arrayStore is one generation of backing storage. values and tags are
// always replaced together.
type arrayStore[T any] struct {
	values []atomic.Pointer[T]
	// tags[i] != 0 once values[i] holds a published value
	tags []uint32
}

func newArrayStore[T any](capacity int) *arrayStore[T] {
	return &arrayStore[T]{
		values: make([]atomic.Pointer[T], capacity),
		tags:   make([]uint32, capacity),
	}
}

// GrowableArray is a concurrent append-mostly array. Reads are optimistic
// under the Read role, appends and in-place stores use the Write role,
// and growing the backing storage or popping the last element is a
// layout change.
//
// Each slot has a presence tag written after its value, so a reader
// never sees a reserved but not yet written index as present.
//
// A GrowableArray must not be copied after first use.
type GrowableArray[T any] struct {
	_           noCopy
	lock        Lock
	accessors   accessorPool
	store       atomic.Pointer[arrayStore[T]]
	size        atomic.Int64
	maxCapacity int
	growths     atomic.Uint32
}

// NewGrowableArray creates an empty GrowableArray.
//
// Options:
//   - WithPresize: initial capacity (default 16)
//   - WithPolicy: lock policy (default PolicyFastLayout)
//   - WithMaxCapacity: upper bound on the number of elements
func NewGrowableArray[T any](options ...func(*Config)) *GrowableArray[T] {
	c := newConfig(options)
	capacity := defaultArrayCapacity
	if c.sizeHint > 0 {
		capacity = c.sizeHint
	}
	capacity = min(capacity, c.maxCapacity)
	a := &GrowableArray[T]{
		lock:        NewLock(c.policy),
		maxCapacity: c.maxCapacity,
	}
	a.accessors.lock = a.lock
	a.store.Store(newArrayStore[T](capacity))
	return a
}

// Lock returns the lock guarding the array.
func (a *GrowableArray[T]) Lock() Lock {
	return a.lock
}

// Handle returns a handle bound to a freshly registered accessor.
// Handles avoid the accessor pool on hot paths; close them when done.
func (a *GrowableArray[T]) Handle() *ArrayHandle[T] {
	return &ArrayHandle[T]{a: a, acc: a.lock.Register()}
}

// Append adds v at the end of the array and returns its index.
func (a *GrowableArray[T]) Append(v T) (int, error) {
	acc := a.accessors.get()
	defer a.accessors.put(acc)
	return a.append(acc, v)
}

// Load returns the element at index i. ok is false if i is out of range
// or the element is reserved but not yet published.
func (a *GrowableArray[T]) Load(i int) (v T, ok bool) {
	acc := a.accessors.get()
	defer a.accessors.put(acc)
	return a.load(acc, i)
}

// Store replaces the published element at index i.
func (a *GrowableArray[T]) Store(i int, v T) error {
	acc := a.accessors.get()
	defer a.accessors.put(acc)
	return a.set(acc, i, v)
}

// Pop removes and returns the last element.
func (a *GrowableArray[T]) Pop() (v T, ok bool) {
	acc := a.accessors.get()
	defer a.accessors.put(acc)
	return a.pop(acc)
}

// Snapshot returns a copy of every published element in index order.
func (a *GrowableArray[T]) Snapshot() []T {
	acc := a.accessors.get()
	defer a.accessors.put(acc)
	return a.snapshot(acc)
}

// Len returns the number of reserved indexes, including appends that
// have not published their value yet.
func (a *GrowableArray[T]) Len() int {
	return int(a.size.Load())
}

// Cap returns the capacity of the current backing storage.
func (a *GrowableArray[T]) Cap() int {
	return len(a.store.Load().tags)
}

// All yields index/element pairs in index order, skipping unpublished
// slots. Each element is read separately; the sequence is not a
// snapshot.
func (a *GrowableArray[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		acc := a.accessors.get()
		defer a.accessors.put(acc)
		for i := 0; i < a.Len(); i++ {
			if v, ok := a.load(acc, i); ok && !yield(i, v) {
				return
			}
		}
	}
}

// reserve claims the next index, refusing to pass maxCapacity.
func (a *GrowableArray[T]) reserve() (int, bool) {
	for {
		s := a.size.Load()
		if s >= int64(a.maxCapacity) {
			return 0, false
		}
		if a.size.CompareAndSwap(s, s+1) {
			return int(s), true
		}
		injectDelay()
	}
}

func (a *GrowableArray[T]) append(acc Accessor, v T) (int, error) {
	p := &v
	acc.StartWrite()
	i, ok := a.reserve()
	if !ok {
		acc.FinishWrite()
		return -1, ErrCapacityExceeded
	}
	st := a.store.Load()
	if i < len(st.tags) {
		st.values[i].Store(p)
		storeTag(&st.tags[i], 1)
		acc.FinishWrite()
		return i, nil
	}
	acc.FinishWrite()
	injectDelay()

	acc.StartLayoutChange()
	// another appender may have grown the storage already
	st = a.store.Load()
	if i >= len(st.tags) {
		st = a.grow(st, i+1)
	}
	st.values[i].Store(p)
	storeTag(&st.tags[i], 1)
	acc.FinishLayoutChange()
	return i, nil
}

// grow publishes a copy of st with room for at least need slots. The
// caller holds the layout change.
func (a *GrowableArray[T]) grow(st *arrayStore[T], need int) *arrayStore[T] {
	capacity := min(max(len(st.tags)*2, need, defaultArrayCapacity), a.maxCapacity)
	ns := newArrayStore[T](capacity)
	for i := range st.tags {
		if t := loadTagFast(&st.tags[i]); t != 0 {
			ns.values[i].Store(st.values[i].Load())
			storeTagFast(&ns.tags[i], t)
		}
	}
	a.store.Store(ns)
	a.growths.Add(1)
	return ns
}

func (a *GrowableArray[T]) load(acc Accessor, i int) (v T, ok bool) {
	for {
		acc.StartRead()
		var p *T
		if i >= 0 && int64(i) < a.size.Load() {
			st := a.store.Load()
			if i < len(st.tags) && loadTag(&st.tags[i]) != 0 {
				p = st.values[i].Load()
			}
		}
		if acc.FinishRead() {
			if p == nil {
				return v, false
			}
			return *p, true
		}
	}
}

func (a *GrowableArray[T]) set(acc Accessor, i int, v T) error {
	acc.StartWrite()
	defer acc.FinishWrite()
	st := a.store.Load()
	if i < 0 || int64(i) >= a.size.Load() || i >= len(st.tags) || loadTag(&st.tags[i]) == 0 {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	st.values[i].Store(&v)
	return nil
}

func (a *GrowableArray[T]) pop(acc Accessor) (v T, ok bool) {
	spins := 0
	for {
		acc.StartLayoutChange()
		n := a.size.Load()
		if n == 0 {
			acc.FinishLayoutChange()
			return v, false
		}
		i := int(n - 1)
		st := a.store.Load()
		if i < len(st.tags) && loadTagFast(&st.tags[i]) != 0 {
			p := st.values[i].Swap(nil)
			storeTag(&st.tags[i], 0)
			a.size.Store(int64(i))
			acc.FinishLayoutChange()
			return *p, true
		}
		acc.FinishLayoutChange()
		// the last index belongs to an append waiting for its own layout
		// change; let it publish first
		delay(&spins)
	}
}

func (a *GrowableArray[T]) snapshot(acc Accessor) []T {
	for {
		acc.StartRead()
		n := int(a.size.Load())
		st := a.store.Load()
		out := make([]T, 0, min(n, len(st.tags)))
		for i := 0; i < n && i < len(st.tags); i++ {
			if loadTag(&st.tags[i]) == 0 {
				continue
			}
			if p := st.values[i].Load(); p != nil {
				out = append(out, *p)
			}
		}
		if acc.FinishRead() {
			return out
		}
	}
}

// ArrayHandle is a GrowableArray bound to one registered accessor. It is
// not safe for concurrent use.
type ArrayHandle[T any] struct {
	a   *GrowableArray[T]
	acc Accessor
}

// Append is GrowableArray.Append through the handle's accessor.
func (h *ArrayHandle[T]) Append(v T) (int, error) { return h.a.append(h.acc, v) }

// Load is GrowableArray.Load through the handle's accessor.
func (h *ArrayHandle[T]) Load(i int) (v T, ok bool) { return h.a.load(h.acc, i) }

// Store is GrowableArray.Store through the handle's accessor.
func (h *ArrayHandle[T]) Store(i int, v T) error { return h.a.set(h.acc, i, v) }

// Pop is GrowableArray.Pop through the handle's accessor.
func (h *ArrayHandle[T]) Pop() (v T, ok bool) { return h.a.pop(h.acc) }

// Snapshot is GrowableArray.Snapshot through the handle's accessor.
func (h *ArrayHandle[T]) Snapshot() []T { return h.a.snapshot(h.acc) }

// Close unregisters the handle's accessor.
func (h *ArrayHandle[T]) Close() {
	h.acc.Unregister()
	h.acc = nil
}

// Stats returns diagnostics for the array. It is O(N).
func (a *GrowableArray[T]) Stats() *ArrayStats {
	st := a.store.Load()
	stats := &ArrayStats{
		Policy:   a.lock.Policy().String(),
		Len:      a.Len(),
		Capacity: len(st.tags),
		Growths:  a.growths.Load(),
	}
	for i := range st.tags {
		if loadTag(&st.tags[i]) != 0 {
			stats.Published++
		}
	}
	return stats
}

// ArrayStats is GrowableArray statistics.
//
// Warning: statistics are intended for diagnostics, not for production
// code; fields may change between minor releases.
type ArrayStats struct {
	// Policy is the name of the lock policy.
	Policy string `yaml:"policy"`
	// Len is the number of reserved indexes.
	Len int `yaml:"len"`
	// Capacity is the size of the current backing storage.
	Capacity int `yaml:"capacity"`
	// Published is the number of slots with their presence tag set.
	Published int `yaml:"published"`
	// Growths is the number of times the storage was replaced.
	Growths uint32 `yaml:"growths"`
}

// ToString returns string representation of array stats.
func (s *ArrayStats) ToString() string {
	var sb strings.Builder
	sb.WriteString("ArrayStats{\n")
	sb.WriteString(fmt.Sprintf("Policy:    %s\n", s.Policy))
	sb.WriteString(fmt.Sprintf("Len:       %d\n", s.Len))
	sb.WriteString(fmt.Sprintf("Capacity:  %d\n", s.Capacity))
	sb.WriteString(fmt.Sprintf("Published: %d\n", s.Published))
	sb.WriteString(fmt.Sprintf("Growths:   %d\n", s.Growths))
	sb.WriteString("}\n")
	return sb.String()
}
