package layoutsync

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
)

func TestList_Basic(t *testing.T) {
	l := NewList[int]()
	if l.Contains(1) {
		t.Fatal("empty list contains 1")
	}
	if r := l.Delete(1); r != NotFound {
		t.Fatalf("Delete on empty list = %s", r)
	}
	for i := range 5 {
		l.Append(i)
	}
	if got := slices.Collect(l.All()); !slices.Equal(got, []int{4, 3, 2, 1, 0}) {
		t.Fatalf("All() = %v", got)
	}

	// head, middle and tail
	for _, k := range []int{4, 2, 0} {
		if r := l.Delete(k); r != Removed {
			t.Fatalf("Delete(%d) = %s", k, r)
		}
		if l.Contains(k) {
			t.Fatalf("%d still present after Delete", k)
		}
	}
	if got := slices.Collect(l.All()); !slices.Equal(got, []int{3, 1}) {
		t.Fatalf("All() = %v", got)
	}
	if l.Len() != 2 {
		t.Fatalf("Len() = %d", l.Len())
	}
	if r := l.Delete(4); r != NotFound {
		t.Fatalf("second Delete(4) = %s", r)
	}
}

func TestList_Duplicates(t *testing.T) {
	l := NewList[string]()
	l.Append("a")
	l.Append("b")
	l.Append("a")
	if r := l.Delete("a"); r != Removed {
		t.Fatal(r)
	}
	if !l.Contains("a") {
		t.Fatal("second copy of a disappeared")
	}
	if r := l.Delete("a"); r != Removed {
		t.Fatal(r)
	}
	if l.Contains("a") {
		t.Fatal("a still present")
	}
	if got := slices.Collect(l.All()); !slices.Equal(got, []string{"b"}) {
		t.Fatalf("All() = %v", got)
	}
}

func TestList_CustomEqual(t *testing.T) {
	type pair struct{ id, rev int }
	l := NewListWithEqual(func(a, b pair) bool { return a.id == b.id })
	l.Append(pair{1, 1})
	if !l.Contains(pair{1, 7}) {
		t.Fatal("custom equality not used")
	}
}

func TestList_DeleteNodeTwice(t *testing.T) {
	l := NewList[int]()
	l.Append(1)
	l.Append(2)
	n, _ := l.find(1)
	if r := l.deleteNode(n); r != Removed {
		t.Fatalf("first delete = %s", r)
	}
	if r := l.deleteNode(n); r != AlreadyRemoved {
		t.Fatalf("second delete = %s", r)
	}
}

func TestList_TombstoneKeepsChainTraversable(t *testing.T) {
	l := NewList[int]()
	for i := range 3 {
		l.Append(i)
	}
	// 2 -> 1 -> 0; tombstone 1 without unlinking it
	n, _ := l.find(1)
	succ, ok := chainTombstone(n)
	if !ok || succ.key != 0 {
		t.Fatal("tombstone failed")
	}
	if l.Contains(1) {
		t.Fatal("tombstoned key still reported live")
	}
	if !l.Contains(0) {
		t.Fatal("successor of a tombstoned node unreachable")
	}
	if r := l.Delete(1); r != AlreadyRemoved {
		t.Fatalf("Delete of a tombstoned key = %s", r)
	}
	chainUnlink(&l.head, n, succ, "test")
	if got := slices.Collect(l.All()); !slices.Equal(got, []int{2, 0}) {
		t.Fatalf("All() = %v", got)
	}
}

func TestList_UnreachableNodeViolation(t *testing.T) {
	l := NewList[int]()
	l.Append(1)
	stray := &listNode[int]{key: 9}
	succ, _ := chainTombstone(stray)
	defer func() {
		r := recover()
		err, ok := r.(error)
		var pv *ProtocolViolation
		if !ok || !errors.As(err, &pv) {
			t.Fatalf("expected a ProtocolViolation panic, got %v", r)
		}
		if pv.Op != "List.Delete" {
			t.Fatalf("Op = %q", pv.Op)
		}
	}()
	chainUnlink(&l.head, stray, succ, "List.Delete")
}

func TestList_ConcurrentDeleteSameKey(t *testing.T) {
	withRandomYield(t)
	for range 100 {
		l := NewList[int]()
		for i := range 10 {
			l.Append(i)
		}
		n := testParallelism()
		var removed atomic.Int32
		var wg sync.WaitGroup
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				switch r := l.Delete(5); r {
				case Removed:
					removed.Add(1)
				case AlreadyRemoved, NotFound:
				default:
					t.Errorf("unexpected result %s", r)
				}
			}()
		}
		wg.Wait()
		if removed.Load() != 1 {
			t.Fatalf("%d deletes won, want 1", removed.Load())
		}
		if l.Contains(5) || l.Len() != 9 {
			t.Fatalf("list after delete: %v", slices.Collect(l.All()))
		}
	}
}

func TestList_ConcurrentAdjacentDeletes(t *testing.T) {
	withRandomYield(t)
	const keys = 64
	for range 50 {
		l := NewList[int]()
		for i := range keys {
			l.Append(i)
		}
		var wg sync.WaitGroup
		// neighbours are deleted by different goroutines
		for g := range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for k := g; k < keys; k += 4 {
					if k%8 < 6 {
						if r := l.Delete(k); r != Removed {
							t.Errorf("Delete(%d) = %s", k, r)
						}
					}
				}
			}()
		}
		// appends race with deletes at the head
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := keys; k < keys+16; k++ {
				l.Append(k)
			}
		}()
		wg.Wait()
		for k := range keys + 16 {
			want := k >= keys || k%8 >= 6
			if l.Contains(k) != want {
				t.Fatalf("Contains(%d) = %v, want %v", k, !want, want)
			}
		}
		for c := l.head.Load(); c != nil; c = c.next.Load() {
			if c.tombstone {
				t.Fatal("tombstone left in the chain")
			}
		}
	}
}
