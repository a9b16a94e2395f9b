//go:build race

package layoutsync

import (
	"sync/atomic"
	"unsafe"
)

// Under race detector, disable TSO optimizations and use conservative
// atomic loads/stores
const isTSO = false

// Conservative: atomic load to satisfy race detector
//
//go:nosplit
func loadTag[T ~uint32](addr *T) T {
	return T(atomic.LoadUint32((*uint32)(unsafe.Pointer(addr))))
}

//go:nosplit
func storeTag[T ~uint32](addr *T, val T) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(addr)), uint32(val))
}

// Under race, fast load delegates to atomic load for consistency
//
//go:nosplit
func loadTagFast[T ~uint32](addr *T) T {
	return loadTag(addr)
}

// Under race, fast store delegates to atomic store for consistency
//
//go:nosplit
func storeTagFast[T ~uint32](addr *T, val T) {
	storeTag(addr, val)
}
