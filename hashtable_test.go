package layoutsync

import (
	"maps"
	"math"
	"math/bits"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
)

func TestHashTable_Basic(t *testing.T) {
	m := NewHashTable[string, int]()
	if _, ok := m.Get("a"); ok {
		t.Fatal("empty table has a")
	}
	if _, loaded := m.Put("a", 1); loaded {
		t.Fatal("Put into empty table reported loaded")
	}
	if prev, loaded := m.Put("a", 2); !loaded || prev != 1 {
		t.Fatalf("Put = %d, %v", prev, loaded)
	}
	if v, ok := m.Get("a"); !ok || v != 2 {
		t.Fatalf("Get = %d, %v", v, ok)
	}
	if actual, loaded := m.PutIfAbsent("a", 3); !loaded || actual != 2 {
		t.Fatalf("PutIfAbsent existing = %d, %v", actual, loaded)
	}
	if actual, loaded := m.PutIfAbsent("b", 3); loaded || actual != 3 {
		t.Fatalf("PutIfAbsent new = %d, %v", actual, loaded)
	}
	if m.Len() != 2 {
		t.Fatalf("Len() = %d", m.Len())
	}
	if v, r := m.Remove("a"); r != Removed || v != 2 {
		t.Fatalf("Remove = %d, %s", v, r)
	}
	if _, r := m.Remove("a"); r != NotFound {
		t.Fatalf("second Remove = %s", r)
	}
	if _, ok := m.Get("a"); ok {
		t.Fatal("removed key still present")
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d", m.Len())
	}
}

func TestHashTable_InsertionOrder(t *testing.T) {
	m := NewHashTable[string, int]()
	keys := []string{"x", "b", "q", "a", "m"}
	for i, k := range keys {
		m.Put(k, i)
	}
	m.Put("b", 10) // update keeps position
	m.Remove("q")
	m.Put("q", 20) // reinsert moves to the end
	want := []string{"x", "b", "a", "m", "q"}
	if got := slices.Collect(m.Keys()); !slices.Equal(got, want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	if got := slices.Collect(m.Values()); !slices.Equal(got, []int{0, 10, 3, 4, 20}) {
		t.Fatalf("Values() = %v", got)
	}
	for k := range m.Keys() {
		if k == "b" {
			break
		}
	}

	for i, k := range want {
		key, _, ok := m.Shift()
		if !ok || key != k {
			t.Fatalf("Shift %d = %q, %v; want %q", i, key, ok, k)
		}
	}
	if _, _, ok := m.Shift(); ok {
		t.Fatal("Shift on empty table succeeded")
	}
	if m.Len() != 0 {
		t.Fatalf("Len() = %d", m.Len())
	}
}

func TestHashTable_ResizeRetainsLatestValues(t *testing.T) {
	for _, p := range Policies() {
		t.Run(p.String(), func(t *testing.T) {
			m := NewHashTable[int, int](WithPolicy(p))
			const n = 5000
			for i := range n {
				m.Put(i, i)
			}
			for i := 0; i < n; i += 3 {
				m.Put(i, -i)
			}
			stats := m.Stats()
			if stats.Growths == 0 || stats.Buckets*loadFactorNum < n*loadFactorDen/2 {
				t.Fatalf("table did not grow:\n%s", stats.ToString())
			}
			if stats.Size != n || stats.SequenceLen != n || stats.Counter != n {
				t.Fatalf("unexpected stats:\n%s", stats.ToString())
			}
			for i := range n {
				want := i
				if i%3 == 0 {
					want = -i
				}
				if v, ok := m.Get(i); !ok || v != want {
					t.Fatalf("Get(%d) = %d, %v; want %d", i, v, ok, want)
				}
			}
			if got := slices.Collect(m.Keys()); len(got) != n || !slices.IsSorted(got) {
				t.Fatal("insertion order lost across resize")
			}
		})
	}
}

func TestHashTable_ConcurrentDeleteEvens(t *testing.T) {
	withRandomYield(t)
	for _, p := range Policies() {
		t.Run(p.String(), func(t *testing.T) {
			m := NewHashTable[int, int](WithPolicy(p))
			const n = 1000
			for i := range n {
				m.Put(i, i)
			}
			var wg sync.WaitGroup
			for g := range 4 {
				wg.Add(2)
				go func() {
					defer wg.Done()
					for k := 2 * g; k < n; k += 8 {
						if _, r := m.Remove(k); r != Removed {
							t.Errorf("Remove(%d) = %s", k, r)
						}
					}
				}()
				go func() {
					defer wg.Done()
					for k := 1; k < n; k += 2 {
						if v, ok := m.Get(k); !ok || v != k {
							t.Errorf("Get(%d) = %d, %v", k, v, ok)
						}
					}
				}()
			}
			wg.Wait()
			if m.Len() != n/2 {
				t.Fatalf("Len() = %d, want %d", m.Len(), n/2)
			}
			for k := range m.Keys() {
				if k%2 == 0 {
					t.Fatalf("even key %d survived", k)
				}
			}
			stats := m.Stats()
			if stats.Size != n/2 || stats.SequenceLen != n/2 || stats.Tombstones != 0 {
				t.Fatalf("unexpected stats:\n%s", stats.ToString())
			}
		})
	}
}

func TestHashTable_ConcurrentRemoveSameKey(t *testing.T) {
	withRandomYield(t)
	for range 50 {
		m := NewHashTable[int, string]()
		for i := range 32 {
			m.Put(i, strconv.Itoa(i))
		}
		var removed atomic.Int32
		var wg sync.WaitGroup
		for range testParallelism() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, r := m.Remove(7)
				switch r {
				case Removed:
					if v != "7" {
						t.Errorf("removed value %q", v)
					}
					removed.Add(1)
				case AlreadyRemoved, NotFound:
				}
			}()
		}
		wg.Wait()
		if removed.Load() != 1 {
			t.Fatalf("%d removes won, want 1", removed.Load())
		}
		if m.Len() != 31 {
			t.Fatalf("Len() = %d", m.Len())
		}
	}
}

// collidingHash puts every key in one bucket chain.
func collidingHash(int) uintptr { return 0 }

func TestHashTable_CollidingChain(t *testing.T) {
	withRandomYield(t)
	m := NewHashTableWithHasher[int, int](collidingHash, nil)
	const n = 200
	for i := range n {
		m.Put(i, i)
	}
	var wg sync.WaitGroup
	for g := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := g; k < n; k += 4 {
				if k%3 != 0 {
					m.Remove(k)
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for k := n; k < n+50; k++ {
			m.Put(k, k)
		}
	}()
	wg.Wait()
	for k := range n + 50 {
		_, ok := m.Get(k)
		if want := k >= n || k%3 == 0; ok != want {
			t.Fatalf("Get(%d) present = %v, want %v", k, ok, want)
		}
	}
	if m.Stats().MaxChain != m.Len() {
		t.Fatal("colliding keys spread over several buckets")
	}
}

// TestHashTable_DisjointKeys checks that every goroutine sees a
// sequential history for its own keys while other goroutines resize the
// table and churn theirs.
func TestHashTable_DisjointKeys(t *testing.T) {
	withRandomYield(t)
	for _, p := range Policies() {
		t.Run(p.String(), func(t *testing.T) {
			m := NewHashTable[int, int](WithPolicy(p))
			const (
				goroutines = 8
				keysPerG   = 64
				ops        = 2000
			)
			var wg sync.WaitGroup
			for g := range goroutines {
				wg.Add(1)
				go func() {
					defer wg.Done()
					h := m.Handle()
					defer h.Close()
					r := rand.New(rand.NewPCG(uint64(g), 42))
					model := make(map[int]int)
					for i := range ops {
						k := g*keysPerG + r.IntN(keysPerG)
						want, present := model[k]
						switch r.IntN(4) {
						case 0, 1:
							prev, loaded := h.Put(k, i)
							if loaded != present || (loaded && prev != want) {
								t.Errorf("Put(%d) = %d, %v; want %d, %v", k, prev, loaded, want, present)
								return
							}
							model[k] = i
						case 2:
							v, res := h.Remove(k)
							if (res == Removed) != present || (present && v != want) {
								t.Errorf("Remove(%d) = %d, %s; want %d, %v", k, v, res, want, present)
								return
							}
							delete(model, k)
						default:
							v, ok := h.Get(k)
							if ok != present || (ok && v != want) {
								t.Errorf("Get(%d) = %d, %v; want %d, %v", k, v, ok, want, present)
								return
							}
						}
					}
					for k, want := range model {
						if v, ok := h.Get(k); !ok || v != want {
							t.Errorf("final Get(%d) = %d, %v; want %d", k, v, ok, want)
						}
					}
				}()
			}
			wg.Wait()
			if stats := m.Stats(); stats.Size != m.Len() || stats.SequenceLen != m.Len() {
				t.Fatalf("inconsistent table:\n%s", stats.ToString())
			}
		})
	}
}

func TestHashTable_ShiftConcurrent(t *testing.T) {
	withRandomYield(t)
	m := NewHashTable[int, int]()
	const n = 1000
	for i := range n {
		m.Put(i, i)
	}
	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var mine []int
			for {
				k, v, ok := m.Shift()
				if !ok {
					break
				}
				if k != v {
					t.Errorf("Shift returned %d=%d", k, v)
				}
				if len(mine) > 0 && k < mine[len(mine)-1] {
					t.Errorf("Shift went backwards: %d after %d", k, mine[len(mine)-1])
				}
				mine = append(mine, k)
			}
			mu.Lock()
			got = append(got, mine...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	slices.Sort(got)
	if len(got) != n {
		t.Fatalf("shifted %d keys, want %d", len(got), n)
	}
	for i, k := range got {
		if k != i {
			t.Fatalf("key %d shifted twice or never", i)
		}
	}
}

func TestHashTable_Clear(t *testing.T) {
	m := NewHashTable[int, int]()
	for i := range 1000 {
		m.Put(i, i)
	}
	m.Clear()
	if m.Len() != 0 {
		t.Fatalf("Len() = %d after Clear", m.Len())
	}
	if _, ok := m.Get(5); ok {
		t.Fatal("key survived Clear")
	}
	if got := slices.Collect(m.Keys()); len(got) != 0 {
		t.Fatalf("Keys() = %v after Clear", got)
	}
	if b := m.Stats().Buckets; b != defaultMinBuckets {
		t.Fatalf("Buckets = %d after Clear", b)
	}
	m.Put(1, 1)
	if v, ok := m.Get(1); !ok || v != 1 {
		t.Fatal("table unusable after Clear")
	}
}

func TestHashTable_FromCloneToMap(t *testing.T) {
	src := map[string]int{"a": 1, "b": 2, "c": 3}
	m := NewHashTableFrom(maps.All(src), WithPolicy(PolicyStamped))
	if !maps.Equal(m.ToMap(), src) {
		t.Fatalf("ToMap() = %v", m.ToMap())
	}
	c := m.Clone()
	if c.Lock().Policy() != PolicyStamped {
		t.Fatalf("clone policy = %s", c.Lock().Policy())
	}
	if !slices.Equal(slices.Collect(c.Keys()), slices.Collect(m.Keys())) {
		t.Fatal("clone changed the order")
	}
	c.Put("d", 4)
	if _, ok := m.Get("d"); ok {
		t.Fatal("clone shares storage with the original")
	}

	dup := func(yield func(int, int) bool) {
		for _, kv := range [][2]int{{1, 1}, {2, 2}, {1, 3}} {
			if !yield(kv[0], kv[1]) {
				return
			}
		}
	}
	d := NewHashTableFrom(dup)
	if got := slices.Collect(d.Values()); !slices.Equal(got, []int{3, 2}) {
		t.Fatalf("Values() = %v", got)
	}
}

func TestHashTable_Presize(t *testing.T) {
	m := NewHashTable[int, int](WithPresize(1000))
	if b := m.Stats().Buckets; b < 1000*loadFactorDen/loadFactorNum {
		t.Fatalf("Buckets = %d", b)
	}
	capped := NewHashTable[int, int](WithMaxCapacity(64))
	for i := range 1000 {
		capped.Put(i, i)
	}
	if b := capped.Stats().Buckets; b != 64 {
		t.Fatalf("Buckets = %d, want 64", b)
	}
	if capped.Len() != 1000 {
		t.Fatalf("Len() = %d", capped.Len())
	}
}

func TestHashTable_CapacityBounds(t *testing.T) {
	for _, capacity := range []int{math.MaxInt32, math.MaxInt} {
		m := NewHashTable[int, int](WithMaxCapacity(capacity))
		if m.maxBuckets != maxBuckets || m.maxBuckets <= 0 {
			t.Fatalf("WithMaxCapacity(%d): maxBuckets = %d", capacity, m.maxBuckets)
		}
		m.Put(1, 1)
		if v, ok := m.Get(1); !ok || v != 1 {
			t.Fatalf("WithMaxCapacity(%d): Get(1) = %d, %v", capacity, v, ok)
		}
		c := m.Clone()
		if v, ok := c.Get(1); !ok || v != 1 {
			t.Fatal("clone lost its entry")
		}
	}

	huge := NewHashTable[int, int](WithPresize(math.MaxInt), WithMaxCapacity(1024))
	if b := huge.Stats().Buckets; b != 1024 {
		t.Fatalf("Buckets = %d, want 1024", b)
	}

	odd := NewHashTable[int, int](WithMaxCapacity(100))
	for i := range 1000 {
		odd.Put(i, i)
	}
	if b := odd.Stats().Buckets; b != 64 {
		t.Fatalf("Buckets = %d with WithMaxCapacity(100), want 64", b)
	}
}

func TestCalcBucketLen(t *testing.T) {
	for _, tc := range []struct{ hint, want int }{
		{-1, defaultMinBuckets},
		{0, defaultMinBuckets},
		{12, 16},
		{13, 32},
		{1000, 2048},
		{maxBuckets/loadFactorDen*loadFactorNum - 1, maxBuckets},
		{math.MaxInt32, maxBuckets},
		{math.MaxInt, maxBuckets},
	} {
		got := calcBucketLen(tc.hint)
		if got != tc.want {
			t.Errorf("calcBucketLen(%d) = %d, want %d", tc.hint, got, tc.want)
		}
		if bits.OnesCount(uint(got)) != 1 {
			t.Errorf("calcBucketLen(%d) = %d is not a power of 2", tc.hint, got)
		}
	}
}

func TestPrevPowOf2(t *testing.T) {
	for _, tc := range []struct{ n, want int }{
		{-5, 1}, {0, 1}, {1, 1}, {2, 2}, {3, 2}, {100, 64}, {128, 128},
		{math.MaxInt32, 1 << 30},
	} {
		if got := prevPowOf2(tc.n); got != tc.want {
			t.Errorf("prevPowOf2(%d) = %d, want %d", tc.n, got, tc.want)
		}
	}
}
