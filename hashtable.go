package layoutsync

import (
	"fmt"
	"iter"
	"math"
	"runtime"
	"strings"
	"sync/atomic"
	"unsafe"
)

const (
	// defaultMinBuckets is the initial and minimum bucket count.
	defaultMinBuckets = 16
	// a table grows once entries*loadFactorDen > buckets*loadFactorNum
	loadFactorNum = 3
	loadFactorDen = 4
	// maxBuckets bounds the bucket array regardless of WithMaxCapacity;
	// it fits in an int on 32-bit platforms.
	maxBuckets = 1 << 30
	// maxSizeStripes bounds the number of size counter stripes.
	maxSizeStripes = 64
)

type entryKind uint8

const (
	kindEntry entryKind = iota
	kindSentinel
	// sequence marker: a removed neighbour link
	kindRemoved
	// sequence marker: a predecessor link held by a removal
	kindLock
)

// valueBox holds an entry's value. Boxes are immutable; updates swap the
// pointer. A box with removed set is stored once the entry is deleted.
type valueBox[V any] struct {
	v       V
	removed bool
}

// hashEntry is a table entry. It is linked into one bucket chain through
// the embedded listNode and into the insertion-order sequence through
// seqPrev/seqNext. Sequence markers and sentinels are hashEntry values
// with a non-entry kind and are never part of a bucket chain.
type hashEntry[K comparable, V any] struct {
	// must be the first field; bucket chains are walked as listNodes
	listNode[K]
	hash      uintptr
	value     atomic.Pointer[valueBox[V]]
	seqPrev   atomic.Pointer[hashEntry[K, V]]
	seqNext   atomic.Pointer[hashEntry[K, V]]
	published atomic.Bool
	kind      entryKind
}

func (e *hashEntry[K, V]) marker() bool {
	return e.kind >= kindRemoved
}

// entryOf converts a non-tombstone bucket chain node back to its entry.
func entryOf[K comparable, V any](n *listNode[K]) *hashEntry[K, V] {
	return (*hashEntry[K, V])(unsafe.Pointer(n))
}

type bucketArray[K any] struct {
	slots []atomic.Pointer[listNode[K]]
	mask  uintptr
}

func newBucketArray[K any](n int) *bucketArray[K] {
	return &bucketArray[K]{
		slots: make([]atomic.Pointer[listNode[K]], n),
		mask:  uintptr(n - 1),
	}
}

// HashTable is a concurrent hash table with insertion-ordered iteration.
//
// Buckets are lock-free singly linked chains: inserts CAS the bucket
// head, removals tombstone and unlink like List. Every entry is also
// linked into a doubly linked insertion-order sequence. Lookups run
// optimistically under the Read role, inserts and removals under the
// Write role, and a resize is a layout change that walks the sequence
// once and re-threads every entry into a bucket array of twice the size.
//
// A HashTable must not be copied after first use.
type HashTable[K comparable, V any] struct {
	_         noCopy
	lock      Lock
	accessors accessorPool
	buckets   atomic.Pointer[bucketArray[K]]
	// striped counter for number of entries
	size       []counterStripe
	head, tail *hashEntry[K, V]
	keyHash    func(K) uintptr
	keyEqual   func(a, b K) bool
	intKey     bool
	removedBox *valueBox[V]
	minBuckets int
	maxBuckets int
	growths    atomic.Uint32
}

// NewHashTable creates an empty HashTable using Go's built-in hashing,
// or the identity hash for integer keys.
//
// Options:
//   - WithPresize: room for the given number of entries before growing
//   - WithPolicy: lock policy (default PolicyFastLayout)
//   - WithMaxCapacity: upper bound on the bucket count
func NewHashTable[K comparable, V any](options ...func(*Config)) *HashTable[K, V] {
	keyHash, keyEqual, intKey := defaultHasher[K]()
	t := newHashTable[K, V](keyHash, keyEqual, newConfig(options))
	t.intKey = intKey
	return t
}

// NewHashTableWithHasher creates an empty HashTable with custom hashing
// and key equality. A nil keyEqual compares keys with ==.
func NewHashTableWithHasher[K comparable, V any](
	keyHash func(K) uintptr,
	keyEqual func(a, b K) bool,
	options ...func(*Config),
) *HashTable[K, V] {
	if keyEqual == nil {
		keyEqual = func(a, b K) bool { return a == b }
	}
	return newHashTable[K, V](keyHash, keyEqual, newConfig(options))
}

// NewHashTableFrom creates a HashTable holding the pairs of seq in order.
// A later pair replaces the value of an earlier one with the same key
// without moving it.
func NewHashTableFrom[K comparable, V any](seq iter.Seq2[K, V], options ...func(*Config)) *HashTable[K, V] {
	t := NewHashTable[K, V](options...)
	for k, v := range seq {
		t.build(k, v)
	}
	return t
}

func newHashTable[K comparable, V any](keyHash func(K) uintptr, keyEqual func(a, b K) bool, c *Config) *HashTable[K, V] {
	t := &HashTable[K, V]{
		lock:       NewLock(c.policy),
		size:       make([]counterStripe, nextPowOf2(min(runtime.GOMAXPROCS(0), maxSizeStripes))),
		head:       &hashEntry[K, V]{kind: kindSentinel},
		tail:       &hashEntry[K, V]{kind: kindSentinel},
		keyHash:    keyHash,
		keyEqual:   keyEqual,
		removedBox: &valueBox[V]{removed: true},
		maxBuckets: prevPowOf2(min(c.maxCapacity, maxBuckets)),
	}
	t.accessors.lock = t.lock
	t.minBuckets = min(calcBucketLen(c.sizeHint), t.maxBuckets)
	t.head.seqNext.Store(t.tail)
	t.tail.seqPrev.Store(t.head)
	t.head.published.Store(true)
	t.tail.published.Store(true)
	t.buckets.Store(newBucketArray[K](t.minBuckets))
	return t
}

// calcBucketLen returns the bucket count for sizeHint entries; always a
// power of 2 and at most maxBuckets.
func calcBucketLen(sizeHint int) int {
	if sizeHint >= maxBuckets/loadFactorDen*loadFactorNum {
		return maxBuckets
	}
	// sizeHint*4/3 rounded up, without overflowing a 32-bit int
	need := sizeHint + (sizeHint+loadFactorNum-1)/loadFactorNum
	return max(nextPowOf2(need), defaultMinBuckets)
}

func (t *HashTable[K, V]) hashOf(key K) uintptr {
	h := t.keyHash(key)
	if !t.intKey {
		h = spread(h)
	}
	return h
}

// Lock returns the lock guarding the table.
func (t *HashTable[K, V]) Lock() Lock {
	return t.lock
}

// Handle returns a handle bound to a freshly registered accessor.
// Handles avoid the accessor pool on hot paths; close them when done.
func (t *HashTable[K, V]) Handle() *TableHandle[K, V] {
	return &TableHandle[K, V]{t: t, acc: t.lock.Register()}
}

// Get returns the value stored for key.
func (t *HashTable[K, V]) Get(key K) (value V, ok bool) {
	acc := t.accessors.get()
	defer t.accessors.put(acc)
	return t.get(acc, key)
}

// Put stores value for key and returns the previous value, if any.
func (t *HashTable[K, V]) Put(key K, value V) (previous V, loaded bool) {
	acc := t.accessors.get()
	defer t.accessors.put(acc)
	return t.put(acc, key, value, false)
}

// PutIfAbsent stores value unless key is present. It returns the value
// now stored and whether it was already there.
func (t *HashTable[K, V]) PutIfAbsent(key K, value V) (actual V, loaded bool) {
	acc := t.accessors.get()
	defer t.accessors.put(acc)
	actual, loaded = t.put(acc, key, value, true)
	if !loaded {
		actual = value
	}
	return actual, loaded
}

// Remove deletes key. It reports Removed with the deleted value, or
// AlreadyRemoved when a concurrent Remove of the same entry won, or
// NotFound.
func (t *HashTable[K, V]) Remove(key K) (value V, result RemoveResult) {
	acc := t.accessors.get()
	defer t.accessors.put(acc)
	return t.remove(acc, key)
}

// Shift removes and returns the oldest entry in insertion order.
func (t *HashTable[K, V]) Shift() (key K, value V, ok bool) {
	acc := t.accessors.get()
	defer t.accessors.put(acc)
	return t.shift(acc)
}

// Clear removes every entry and shrinks the bucket array back to its
// initial size.
func (t *HashTable[K, V]) Clear() {
	acc := t.accessors.get()
	defer t.accessors.put(acc)
	t.clear(acc)
}

// Len returns the number of entries according to the striped counter.
// Under concurrent modification it is an estimate.
func (t *HashTable[K, V]) Len() int {
	return t.sumSize()
}

// All yields the entries in insertion order. Iteration needs no lock;
// it sees every entry present for its whole duration and may or may not
// see entries added or removed meanwhile.
func (t *HashTable[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for e := t.firstEntry(); e != t.tail; e = t.nextEntry(e) {
			box := e.value.Load()
			if box.removed {
				continue
			}
			if !yield(e.key, box.v) {
				return
			}
		}
	}
}

// Keys yields the keys in insertion order.
func (t *HashTable[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		for k := range t.All() {
			if !yield(k) {
				return
			}
		}
	}
}

// Values yields the values in insertion order.
func (t *HashTable[K, V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		for _, v := range t.All() {
			if !yield(v) {
				return
			}
		}
	}
}

// ToMap copies the entries into a new map.
func (t *HashTable[K, V]) ToMap() map[K]V {
	m := make(map[K]V, t.Len())
	for k, v := range t.All() {
		m[k] = v
	}
	return m
}

// Clone returns a new table with the same entries in the same order,
// the same hashing and a lock of the same policy.
func (t *HashTable[K, V]) Clone() *HashTable[K, V] {
	c := newHashTable[K, V](t.keyHash, t.keyEqual, &Config{
		sizeHint:    t.Len(),
		policy:      t.lock.Policy(),
		maxCapacity: t.maxBuckets,
	})
	c.intKey = t.intKey
	for k, v := range t.All() {
		c.build(k, v)
	}
	return c
}

// find returns the first live entry for key in the chain starting at
// first. If there is none, deleted reports whether a deleted entry for
// key was passed.
func (t *HashTable[K, V]) find(first *listNode[K], hash uintptr, key K) (e *hashEntry[K, V], deleted bool) {
	for n := first; n != nil; n = n.next.Load() {
		if n.tombstone {
			continue
		}
		he := entryOf[K, V](n)
		if he.hash != hash || !t.keyEqual(he.key, key) {
			continue
		}
		if n.deleted() || he.value.Load().removed {
			deleted = true
			continue
		}
		return he, false
	}
	return nil, deleted
}

func (t *HashTable[K, V]) get(acc Accessor, key K) (value V, ok bool) {
	hash := t.hashOf(key)
	for {
		acc.StartRead()
		b := t.buckets.Load()
		e, _ := t.find(b.slots[hash&b.mask].Load(), hash, key)
		var box *valueBox[V]
		if e != nil {
			box = e.value.Load()
		}
		if acc.FinishRead() {
			if box == nil || box.removed {
				return value, false
			}
			return box.v, true
		}
	}
}

func (t *HashTable[K, V]) put(acc Accessor, key K, value V, onlyIfAbsent bool) (previous V, loaded bool) {
	hash := t.hashOf(key)
	box := &valueBox[V]{v: value}
	for {
		var (
			b     *bucketArray[K]
			first *listNode[K]
			e     *hashEntry[K, V]
		)
		for {
			acc.StartRead()
			b = t.buckets.Load()
			first = b.slots[hash&b.mask].Load()
			e, _ = t.find(first, hash, key)
			if acc.FinishRead() {
				break
			}
		}

		if e != nil {
			if old, ok := t.update(e, box, onlyIfAbsent); ok {
				return old, true
			}
			// removed after the lookup; insert a fresh entry
			injectDelay()
			continue
		}

		n := &hashEntry[K, V]{hash: hash}
		n.key = key
		n.value.Store(box)
		n.next.Store(first)
		n.seqNext.Store(t.tail)
		idx := hash & b.mask
		acc.StartWrite()
		if t.buckets.Load() != b || !b.slots[idx].CompareAndSwap(first, &n.listNode) {
			// resized, or another insert or removal changed the bucket head
			acc.FinishWrite()
			injectDelay()
			continue
		}
		injectDelay()
		t.appendInSequence(n)
		t.addSize(idx, 1)
		acc.FinishWrite()
		t.maybeGrow(acc, b)
		return previous, false
	}
}

// update swaps box into the live entry e. It fails if e was removed.
func (t *HashTable[K, V]) update(e *hashEntry[K, V], box *valueBox[V], onlyIfAbsent bool) (previous V, ok bool) {
	for {
		old := e.value.Load()
		if old.removed {
			return previous, false
		}
		if onlyIfAbsent {
			return old.v, true
		}
		if e.value.CompareAndSwap(old, box) {
			return old.v, true
		}
		injectDelay()
	}
}

func (t *HashTable[K, V]) remove(acc Accessor, key K) (value V, result RemoveResult) {
	hash := t.hashOf(key)
	acc.StartWrite()
	defer acc.FinishWrite()
	b := t.buckets.Load()
	idx := hash & b.mask
	e, deleted := t.find(b.slots[idx].Load(), hash, key)
	if e == nil {
		if deleted {
			return value, AlreadyRemoved
		}
		return value, NotFound
	}
	return t.removeEntry(b, idx, e)
}

// removeEntry deletes e from its bucket chain and the sequence. The
// caller holds the Write role.
func (t *HashTable[K, V]) removeEntry(b *bucketArray[K], idx uintptr, e *hashEntry[K, V]) (value V, result RemoveResult) {
	succ, ok := chainTombstone(&e.listNode)
	if !ok {
		return value, AlreadyRemoved
	}
	old := e.value.Swap(t.removedBox)
	injectDelay()
	chainUnlink(&b.slots[idx], &e.listNode, succ, "HashTable.Remove")
	injectDelay()
	if !t.removeFromSequence(e) {
		violation("HashTable.Remove", "entry removed from sequence twice")
	}
	t.addSize(idx, -1)
	return old.v, Removed
}

func (t *HashTable[K, V]) shift(acc Accessor) (key K, value V, ok bool) {
	acc.StartWrite()
	defer acc.FinishWrite()
	b := t.buckets.Load()
	for e := t.firstEntry(); e != t.tail; e = t.nextEntry(e) {
		if e.deleted() {
			continue
		}
		idx := e.hash & b.mask
		if v, res := t.removeEntry(b, idx, e); res == Removed {
			return e.key, v, true
		}
	}
	return key, value, false
}

func (t *HashTable[K, V]) maybeGrow(acc Accessor, b *bucketArray[K]) {
	if len(b.slots) < t.maxBuckets && t.overloaded(len(b.slots)) {
		t.grow(acc)
	}
}

func (t *HashTable[K, V]) overloaded(buckets int) bool {
	return t.sumSize()*loadFactorDen > buckets*loadFactorNum
}

func (t *HashTable[K, V]) grow(acc Accessor) {
	acc.StartLayoutChange()
	// another goroutine may have grown the table while we waited
	if b := t.buckets.Load(); len(b.slots) < t.maxBuckets && t.overloaded(len(b.slots)) {
		t.rehash(len(b.slots) << 1)
	}
	acc.FinishLayoutChange()
}

// rehash re-threads every entry into a new bucket array of n buckets and
// publishes it. The caller holds the layout change, so no entry is
// mid-insert or mid-removal.
func (t *HashTable[K, V]) rehash(n int) {
	nb := newBucketArray[K](n)
	for e := t.firstEntry(); e != t.tail; e = t.nextEntry(e) {
		slot := &nb.slots[e.hash&nb.mask]
		e.next.Store(slot.Load())
		slot.Store(&e.listNode)
	}
	t.buckets.Store(nb)
	t.growths.Add(1)
}

func (t *HashTable[K, V]) clear(acc Accessor) {
	acc.StartLayoutChange()
	// stale entries may still be reachable from a concurrent Put that
	// looked them up before the change; make its update fail
	for e := t.firstEntry(); e != t.tail; e = t.nextEntry(e) {
		e.value.Store(t.removedBox)
	}
	t.head.seqNext.Store(t.tail)
	t.tail.seqPrev.Store(t.head)
	for i := range t.size {
		atomic.StoreUintptr(&t.size[i].c, 0)
	}
	t.buckets.Store(newBucketArray[K](t.minBuckets))
	acc.FinishLayoutChange()
}

// build inserts or updates key on a table not yet shared with other
// goroutines.
func (t *HashTable[K, V]) build(key K, value V) {
	hash := t.hashOf(key)
	b := t.buckets.Load()
	slot := &b.slots[hash&b.mask]
	box := &valueBox[V]{v: value}
	if e, _ := t.find(slot.Load(), hash, key); e != nil {
		e.value.Store(box)
		return
	}
	n := &hashEntry[K, V]{hash: hash}
	n.key = key
	n.value.Store(box)
	n.next.Store(slot.Load())
	slot.Store(&n.listNode)
	t.linkLast(n)
	t.addSize(hash&b.mask, 1)
	if len(b.slots) < t.maxBuckets && t.overloaded(len(b.slots)) {
		t.rehash(len(b.slots) << 1)
	}
}

// addSize atomically adds delta to the size counter stripe for the given
// bucket index.
func (t *HashTable[K, V]) addSize(bucketIdx uintptr, delta int) {
	cidx := uintptr(len(t.size)-1) & bucketIdx
	atomic.AddUintptr(&t.size[cidx].c, uintptr(delta))
}

// sumSize calculates the total number of entries by summing all counter
// stripes.
func (t *HashTable[K, V]) sumSize() int {
	var sum uintptr
	for i := range t.size {
		sum += atomic.LoadUintptr(&t.size[i].c)
	}
	return int(sum)
}

// TableHandle is a HashTable bound to one registered accessor. It is not
// safe for concurrent use.
type TableHandle[K comparable, V any] struct {
	t   *HashTable[K, V]
	acc Accessor
}

// Get is HashTable.Get through the handle's accessor.
func (h *TableHandle[K, V]) Get(key K) (value V, ok bool) {
	return h.t.get(h.acc, key)
}

// Put is HashTable.Put through the handle's accessor.
func (h *TableHandle[K, V]) Put(key K, value V) (previous V, loaded bool) {
	return h.t.put(h.acc, key, value, false)
}

// PutIfAbsent is HashTable.PutIfAbsent through the handle's accessor.
func (h *TableHandle[K, V]) PutIfAbsent(key K, value V) (actual V, loaded bool) {
	actual, loaded = h.t.put(h.acc, key, value, true)
	if !loaded {
		actual = value
	}
	return actual, loaded
}

// Remove is HashTable.Remove through the handle's accessor.
func (h *TableHandle[K, V]) Remove(key K) (value V, result RemoveResult) {
	return h.t.remove(h.acc, key)
}

// Shift is HashTable.Shift through the handle's accessor.
func (h *TableHandle[K, V]) Shift() (key K, value V, ok bool) {
	return h.t.shift(h.acc)
}

// Close unregisters the handle's accessor.
func (h *TableHandle[K, V]) Close() {
	h.acc.Unregister()
	h.acc = nil
}

// Stats returns statistics for the table. It is an O(N) operation that
// retries while layout changes run, so use it for diagnostics only.
func (t *HashTable[K, V]) Stats() *TableStats {
	acc := t.accessors.get()
	defer t.accessors.put(acc)
	for {
		acc.StartRead()
		stats := t.stats()
		if acc.FinishRead() {
			return stats
		}
	}
}

func (t *HashTable[K, V]) stats() *TableStats {
	b := t.buckets.Load()
	stats := &TableStats{
		Policy:     t.lock.Policy().String(),
		Buckets:    len(b.slots),
		Counter:    t.sumSize(),
		CounterLen: len(t.size),
		MinChain:   math.MaxInt,
		Growths:    t.growths.Load(),
	}
	for i := range b.slots {
		chain := 0
		for n := b.slots[i].Load(); n != nil; n = n.next.Load() {
			if n.tombstone {
				stats.Tombstones++
				continue
			}
			if !n.deleted() {
				chain++
			}
		}
		stats.Size += chain
		if chain == 0 {
			stats.EmptyBuckets++
		}
		stats.MinChain = min(stats.MinChain, chain)
		stats.MaxChain = max(stats.MaxChain, chain)
	}
	for e := t.firstEntry(); e != t.tail; e = t.nextEntry(e) {
		if !e.value.Load().removed {
			stats.SequenceLen++
		}
	}
	return stats
}

// TableStats is HashTable statistics.
//
// Warning: statistics are intended for diagnostics, not for production
// code; fields may change between minor releases.
type TableStats struct {
	// Policy is the name of the lock policy.
	Policy string `yaml:"policy"`
	// Buckets is the length of the bucket array.
	Buckets int `yaml:"buckets"`
	// EmptyBuckets is the number of buckets without a live entry.
	EmptyBuckets int `yaml:"empty_buckets"`
	// Size is the number of live entries reachable from the buckets.
	Size int `yaml:"size"`
	// SequenceLen is the number of live entries in insertion order.
	SequenceLen int `yaml:"sequence_len"`
	// Counter is the number of entries according to the striped counter.
	// In case of concurrent modifications it may differ from Size.
	Counter int `yaml:"counter"`
	// CounterLen is the number of counter stripes.
	CounterLen int `yaml:"counter_len"`
	// MinChain is the length of the shortest bucket chain.
	MinChain int `yaml:"min_chain"`
	// MaxChain is the length of the longest bucket chain.
	MaxChain int `yaml:"max_chain"`
	// Tombstones is the number of tombstones still linked in a chain.
	Tombstones int `yaml:"tombstones"`
	// Growths is the number of times the bucket array doubled.
	Growths uint32 `yaml:"growths"`
}

// ToString returns string representation of table stats.
func (s *TableStats) ToString() string {
	var sb strings.Builder
	sb.WriteString("TableStats{\n")
	sb.WriteString(fmt.Sprintf("Policy:       %s\n", s.Policy))
	sb.WriteString(fmt.Sprintf("Buckets:      %d\n", s.Buckets))
	sb.WriteString(fmt.Sprintf("EmptyBuckets: %d\n", s.EmptyBuckets))
	sb.WriteString(fmt.Sprintf("Size:         %d\n", s.Size))
	sb.WriteString(fmt.Sprintf("SequenceLen:  %d\n", s.SequenceLen))
	sb.WriteString(fmt.Sprintf("Counter:      %d\n", s.Counter))
	sb.WriteString(fmt.Sprintf("CounterLen:   %d\n", s.CounterLen))
	sb.WriteString(fmt.Sprintf("MinChain:     %d\n", s.MinChain))
	sb.WriteString(fmt.Sprintf("MaxChain:     %d\n", s.MaxChain))
	sb.WriteString(fmt.Sprintf("Tombstones:   %d\n", s.Tombstones))
	sb.WriteString(fmt.Sprintf("Growths:      %d\n", s.Growths))
	sb.WriteString("}\n")
	return sb.String()
}
