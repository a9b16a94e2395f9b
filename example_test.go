package layoutsync_test

import (
	"fmt"

	"github.com/llxisdsh/layoutsync"
)

func ExampleHashTable() {
	m := layoutsync.NewHashTable[string, int]()
	m.Put("one", 1)
	m.Put("two", 2)
	m.Put("three", 3)
	m.Put("one", 11)
	m.Remove("two")

	for k, v := range m.All() {
		fmt.Println(k, v)
	}
	k, v, _ := m.Shift()
	fmt.Println("shifted", k, v, "left", m.Len())
	// Output:
	// one 11
	// three 3
	// shifted one 11 left 1
}

func ExampleGrowableArray() {
	a := layoutsync.NewGrowableArray[string](layoutsync.WithPresize(2))
	for _, s := range []string{"a", "b", "c"} {
		a.Append(s)
	}
	h := a.Handle()
	defer h.Close()
	_ = h.Store(1, "B")
	fmt.Println(h.Snapshot(), a.Len())
	// Output:
	// [a B c] 3
}

func ExampleLock() {
	var (
		lock  = layoutsync.NewFastLayoutLock()
		table = []int{1, 2, 3}
	)
	acc := lock.Register()
	defer acc.Unregister()

	var sum int
	for {
		acc.StartRead()
		sum = 0
		for _, v := range table {
			sum += v
		}
		if acc.FinishRead() {
			break
		}
	}

	acc.StartLayoutChange()
	table = append(table, 4)
	acc.FinishLayoutChange()

	fmt.Println(sum, len(table))
	// Output:
	// 6 4
}

func ExampleParsePolicy() {
	p, err := layoutsync.ParsePolicy("stamped")
	if err != nil {
		panic(err)
	}
	m := layoutsync.NewHashTable[int, string](layoutsync.WithPolicy(p))
	fmt.Println(m.Lock().Policy())
	// Output:
	// stamped
}
