package layoutsync

// The insertion-order sequence is a doubly linked list bounded by the
// head and tail sentinels. Removal first blocks both neighbour links
// with marker nodes so that no append or neighbouring removal can slip
// in, then splices the entry out:
//
//	prev <-> prevRemoved <-> entry -> nextRemoved -> next
//
// A removed marker in next position points at the true successor; a
// lock marker in a predecessor's next points at the entry being removed.
// Readers step over either with one extra hop.

// nextEntry returns the sequence successor of e, stepping over a marker.
func (t *HashTable[K, V]) nextEntry(e *hashEntry[K, V]) *hashEntry[K, V] {
	n := e.seqNext.Load()
	if n.marker() {
		n = n.seqNext.Load()
	}
	return n
}

// firstEntry returns the first entry in insertion order, or tail.
func (t *HashTable[K, V]) firstEntry() *hashEntry[K, V] {
	return t.nextEntry(t.head)
}

// appendInSequence links e before tail and then publishes it. e.seqNext
// must already be tail.
func (t *HashTable[K, V]) appendInSequence(e *hashEntry[K, V]) {
	spins := 0
	var last *hashEntry[K, V]
	for {
		last = t.tail.seqPrev.Load()
		e.seqPrev.Store(last)
		if !last.marker() && last.seqNext.CompareAndSwap(t.tail, e) {
			break
		}
		// last is being removed, or another append is between its two
		// CASes
		delay(&spins)
	}
	// tail.seqPrev only changes through appends, which are blocked until
	// this one moves it, and through the removal of last, which now
	// updates e instead
	if !t.tail.seqPrev.CompareAndSwap(last, e) {
		violation("HashTable.appendInSequence", "tail moved during append")
	}
	e.published.Store(true)
}

// removeFromSequence splices e out of the sequence. It returns false if a
// concurrent removal of e got there first.
func (t *HashTable[K, V]) removeFromSequence(e *hashEntry[K, V]) bool {
	spins := 0
	for !e.published.Load() {
		delay(&spins)
	}

	// block entry -> nextRemoved -> next
	var next *hashEntry[K, V]
	for {
		next = e.seqNext.Load()
		if next.kind == kindLock {
			// next is being removed and holds our next link
			for e.seqNext.Load().kind == kindLock {
				delay(&spins)
			}
			continue
		}
		if next.kind == kindRemoved {
			return false
		}
		m := &hashEntry[K, V]{kind: kindRemoved}
		m.seqNext.Store(next)
		if e.seqNext.CompareAndSwap(next, m) {
			break
		}
		injectDelay()
	}
	injectDelay()

	// block prev -> lock -> entry
	lock := &hashEntry[K, V]{kind: kindLock}
	lock.seqNext.Store(e)
	var prev *hashEntry[K, V]
	for {
		prev = e.seqPrev.Load()
		if prev.seqNext.Load().marker() {
			// prev is being removed; it will repoint our prev link
			for e.seqPrev.Load() == prev {
				delay(&spins)
			}
			continue
		}
		if prev.seqNext.CompareAndSwap(e, lock) {
			break
		}
		injectDelay()
	}
	injectDelay()

	// block prev <- prevRemoved <- entry
	pm := &hashEntry[K, V]{kind: kindRemoved}
	pm.seqPrev.Store(prev)
	if !e.seqPrev.CompareAndSwap(prev, pm) {
		violation("HashTable.removeFromSequence", "previous link moved while locked")
	}
	if !prev.seqNext.CompareAndSwap(lock, next) {
		violation("HashTable.removeFromSequence", "lock marker replaced")
	}
	if !next.seqPrev.CompareAndSwap(e, prev) {
		violation("HashTable.removeFromSequence", "successor's previous link moved")
	}
	return true
}

// linkLast appends e to the sequence of a table not yet shared with
// other goroutines, or while holding the layout change.
func (t *HashTable[K, V]) linkLast(e *hashEntry[K, V]) {
	last := t.tail.seqPrev.Load()
	e.seqPrev.Store(last)
	e.seqNext.Store(t.tail)
	last.seqNext.Store(e)
	t.tail.seqPrev.Store(e)
	e.published.Store(true)
}
