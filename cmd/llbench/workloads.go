package main

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/llxisdsh/layoutsync"
)

// Result is the outcome of one workload under one policy.
type Result struct {
	Workload   string                 `yaml:"workload"`
	Kind       string                 `yaml:"kind"`
	Policy     string                 `yaml:"policy"`
	Goroutines int                    `yaml:"goroutines"`
	Ops        int                    `yaml:"ops"`
	Elapsed    time.Duration          `yaml:"elapsed"`
	CPU        time.Duration          `yaml:"cpu"`
	OpsPerSec  float64                `yaml:"ops_per_sec"`
	Array      *layoutsync.ArrayStats `yaml:"array,omitempty"`
	Table      *layoutsync.TableStats `yaml:"table,omitempty"`
	Err        string                 `yaml:"error,omitempty"`
}

// run executes w under p and verifies the container afterwards.
func run(w Workload, p layoutsync.Policy) Result {
	res := Result{
		Workload:   w.Name,
		Kind:       w.Kind,
		Policy:     p.String(),
		Goroutines: w.Goroutines,
		Ops:        w.Goroutines * w.Ops,
	}
	var body func(g int, r *rand.Rand)
	var verify func() error

	switch w.Kind {
	case kindAppend:
		a := layoutsync.NewGrowableArray[int](layoutsync.WithPolicy(p))
		body = func(g int, _ *rand.Rand) {
			h := a.Handle()
			defer h.Close()
			for i := range w.Ops {
				h.Append(g*w.Ops + i)
			}
		}
		verify = func() error {
			res.Array = a.Stats()
			return verifyAppend(a, w.Goroutines*w.Ops)
		}

	case kindRead, kindWrite, kindWriteRead:
		a := layoutsync.NewGrowableArray[int](layoutsync.WithPolicy(p), layoutsync.WithPresize(w.Size))
		for i := range w.Size {
			a.Append(i)
		}
		writePercent := w.WritePercent
		switch w.Kind {
		case kindRead:
			writePercent = 0
		case kindWrite:
			writePercent = 100
		}
		var bad atomic.Int64
		body = func(g int, r *rand.Rand) {
			h := a.Handle()
			defer h.Close()
			for range w.Ops {
				i := r.IntN(w.Size)
				if r.IntN(100) < writePercent {
					// the stored value stays a function of the index
					if err := h.Store(i, i); err != nil {
						bad.Add(1)
					}
				} else if v, ok := h.Load(i); !ok || v != i {
					bad.Add(1)
				}
			}
		}
		verify = func() error {
			res.Array = a.Stats()
			if n := bad.Load(); n != 0 {
				return fmt.Errorf("%d operations saw a wrong element", n)
			}
			for i, v := range a.All() {
				if v != i {
					return fmt.Errorf("element %d = %d", i, v)
				}
			}
			return nil
		}

	case kindHashPut:
		m := layoutsync.NewHashTable[int, int](layoutsync.WithPolicy(p))
		body = func(g int, _ *rand.Rand) {
			h := m.Handle()
			defer h.Close()
			for i := range w.Ops {
				h.Put(g*w.Ops+i, i)
			}
		}
		verify = func() error {
			res.Table = m.Stats()
			if n := m.Len(); n != w.Goroutines*w.Ops {
				return fmt.Errorf("table has %d entries, want %d", n, w.Goroutines*w.Ops)
			}
			for g := range w.Goroutines {
				for i := range w.Ops {
					if v, ok := m.Get(g*w.Ops + i); !ok || v != i {
						return fmt.Errorf("key %d = %d, %v", g*w.Ops+i, v, ok)
					}
				}
			}
			return nil
		}

	case kindHashDeleteGet:
		m := layoutsync.NewHashTable[int, int](layoutsync.WithPolicy(p))
		for i := range w.Size {
			m.Put(i, i)
		}
		var bad atomic.Int64
		body = func(g int, r *rand.Rand) {
			h := m.Handle()
			defer h.Close()
			if g%2 == 0 {
				// deleters split the even keys between them
				deleters := (w.Goroutines + 1) / 2
				for k := g; k < w.Size; k += 2 * deleters {
					if _, rr := h.Remove(k); rr != layoutsync.Removed {
						bad.Add(1)
					}
				}
				return
			}
			for range w.Ops {
				k := r.IntN(w.Size) | 1
				if k >= w.Size {
					continue
				}
				if v, ok := h.Get(k); !ok || v != k {
					bad.Add(1)
				}
			}
		}
		verify = func() error {
			res.Table = m.Stats()
			if n := bad.Load(); n != 0 {
				return fmt.Errorf("%d operations failed", n)
			}
			// every even key is gone
			want := w.Size / 2
			if n := m.Len(); n != want {
				return fmt.Errorf("table has %d entries, want %d", n, want)
			}
			return nil
		}

	case kindHistogram:
		m := layoutsync.NewHashTable[int, *atomic.Int64](layoutsync.WithPolicy(p))
		body = func(g int, r *rand.Rand) {
			h := m.Handle()
			defer h.Close()
			for range w.Ops {
				c, _ := h.PutIfAbsent(r.IntN(w.Size), new(atomic.Int64))
				c.Add(1)
			}
		}
		verify = func() error {
			res.Table = m.Stats()
			var total int64
			for _, c := range m.All() {
				total += c.Load()
			}
			if total != int64(w.Goroutines*w.Ops) {
				return fmt.Errorf("histogram counts %d, want %d", total, w.Goroutines*w.Ops)
			}
			return nil
		}

	default:
		res.Err = fmt.Sprintf("unknown kind %q", w.Kind)
		return res
	}

	cpu0 := cpuTime()
	start := time.Now()
	var wg sync.WaitGroup
	for g := range w.Goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body(g, rand.New(rand.NewPCG(uint64(g), uint64(start.UnixNano()))))
		}()
	}
	wg.Wait()
	res.Elapsed = time.Since(start)
	res.CPU = cpuTime() - cpu0
	if s := res.Elapsed.Seconds(); s > 0 {
		res.OpsPerSec = float64(res.Ops) / s
	}
	if err := verify(); err != nil {
		res.Err = err.Error()
	}
	return res
}

func verifyAppend(a *layoutsync.GrowableArray[int], n int) error {
	if a.Len() != n {
		return fmt.Errorf("array has %d elements, want %d", a.Len(), n)
	}
	seen := make([]bool, n)
	for i := range n {
		v, ok := a.Load(i)
		if !ok {
			return fmt.Errorf("index %d not published", i)
		}
		if v < 0 || v >= n || seen[v] {
			return fmt.Errorf("value %d at index %d duplicated or out of range", v, i)
		}
		seen[v] = true
	}
	return nil
}
