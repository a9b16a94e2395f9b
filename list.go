package layoutsync

import (
	"iter"
	"sync/atomic"
)

// listNode is a node of a lock-free singly linked chain. A node is
// deleted by swapping its next pointer for a tombstone node whose own
// next is the deleted node's successor; the chain stays traversable
// while the predecessor is being unlinked.
type listNode[K any] struct {
	next      atomic.Pointer[listNode[K]]
	key       K
	tombstone bool
}

// deleted reports whether n has been tombstoned.
func (n *listNode[K]) deleted() bool {
	nx := n.next.Load()
	return nx != nil && nx.tombstone
}

// chainPush installs n as the new head of the chain.
func chainPush[K any](head *atomic.Pointer[listNode[K]], n *listNode[K]) {
	for {
		h := head.Load()
		n.next.Store(h)
		if head.CompareAndSwap(h, n) {
			return
		}
		injectDelay()
	}
}

// chainTombstone marks n deleted and returns its successor at that
// moment. It returns false if n was already tombstoned.
func chainTombstone[K any](n *listNode[K]) (*listNode[K], bool) {
	for {
		nx := n.next.Load()
		if nx != nil && nx.tombstone {
			return nil, false
		}
		t := &listNode[K]{tombstone: true}
		t.next.Store(nx)
		if n.next.CompareAndSwap(nx, t) {
			return nx, true
		}
		injectDelay()
	}
}

// chainPredecessor returns the node whose next is n, or nil if n is the
// head. found is false if n is not reachable at all.
func chainPredecessor[K any](head *atomic.Pointer[listNode[K]], n *listNode[K]) (prev *listNode[K], found bool) {
	for c := head.Load(); c != nil; c = c.next.Load() {
		if c == n {
			return prev, true
		}
		prev = c
	}
	return nil, false
}

// chainUnlink physically removes the tombstoned node n. Only the
// goroutine that tombstoned n may call it. When the predecessor is
// itself a tombstone its owner is mid-deletion; wait for that unlink to
// land and retry against the new predecessor.
func chainUnlink[K any](head *atomic.Pointer[listNode[K]], n, succ *listNode[K], op string) {
	spins := 0
	for {
		prev, found := chainPredecessor(head, n)
		switch {
		case !found:
			violation(op, "deleted node is not reachable from the chain head")
		case prev == nil:
			if head.CompareAndSwap(n, succ) {
				return
			}
		case prev.tombstone:
			delay(&spins)
			continue
		default:
			if prev.next.CompareAndSwap(n, succ) {
				return
			}
		}
		injectDelay()
	}
}

// List is a lock-free singly linked list of keys. Append pushes at the
// head; Delete tombstones the node and then unlinks it, so concurrent
// appends and deletes of neighbouring nodes never lose each other.
//
// A List must not be copied after first use.
type List[K any] struct {
	_     noCopy
	head  atomic.Pointer[listNode[K]]
	equal func(a, b K) bool
}

// NewList creates a List comparing keys with ==.
func NewList[K comparable]() *List[K] {
	return NewListWithEqual(func(a, b K) bool { return a == b })
}

// NewListWithEqual creates a List comparing keys with equal.
func NewListWithEqual[K any](equal func(a, b K) bool) *List[K] {
	return &List[K]{equal: equal}
}

// Append adds key at the head of the list. Duplicates are allowed.
func (l *List[K]) Append(key K) {
	chainPush(&l.head, &listNode[K]{key: key})
}

// find returns the first live node holding key. If there is none,
// deleted reports whether a tombstoned node holding key was passed.
func (l *List[K]) find(key K) (n *listNode[K], deleted bool) {
	for c := l.head.Load(); c != nil; c = c.next.Load() {
		if c.tombstone || !l.equal(c.key, key) {
			continue
		}
		if !c.deleted() {
			return c, false
		}
		deleted = true
	}
	return nil, deleted
}

// Contains reports whether a live node holds key.
func (l *List[K]) Contains(key K) bool {
	n, _ := l.find(key)
	return n != nil
}

// Delete removes the first live node holding key.
func (l *List[K]) Delete(key K) RemoveResult {
	n, deleted := l.find(key)
	if n == nil {
		if deleted {
			return AlreadyRemoved
		}
		return NotFound
	}
	return l.deleteNode(n)
}

func (l *List[K]) deleteNode(n *listNode[K]) RemoveResult {
	succ, ok := chainTombstone(n)
	if !ok {
		return AlreadyRemoved
	}
	injectDelay()
	chainUnlink(&l.head, n, succ, "List.Delete")
	return Removed
}

// All yields the live keys, most recently appended first.
func (l *List[K]) All() iter.Seq[K] {
	return func(yield func(K) bool) {
		for c := l.head.Load(); c != nil; c = c.next.Load() {
			if c.tombstone || c.deleted() {
				continue
			}
			if !yield(c.key) {
				return
			}
		}
	}
}

// Len counts the live nodes. It is O(N).
func (l *List[K]) Len() int {
	n := 0
	for range l.All() {
		n++
	}
	return n
}
