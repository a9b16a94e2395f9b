//go:build !race

package layoutsync

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

// Detect TSO architectures; on TSO, plain aligned 32-bit loads already
// have acquire semantics.
const isTSO = runtime.GOARCH == "amd64" ||
	runtime.GOARCH == "386" ||
	runtime.GOARCH == "s390x"

// loadTag reads a presence tag published by another goroutine.
// TSO: plain load; non-TSO: atomic load.
//
//go:nosplit
func loadTag[T ~uint32](addr *T) T {
	//goland:noinspection ALL
	if isTSO {
		return *addr
	}
	return T(atomic.LoadUint32((*uint32)(unsafe.Pointer(addr))))
}

// storeTag publishes a presence tag; always a release store.
//
//go:nosplit
func storeTag[T ~uint32](addr *T, val T) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(addr)), uint32(val))
}

// Lock-held read path; the layout-change holder excludes every writer.
//
//go:nosplit
func loadTagFast[T ~uint32](addr *T) T {
	return *addr
}

// Write to unpublished memory; atomic store not needed before the buffer
// is published.
//
//go:nosplit
func storeTagFast[T ~uint32](addr *T, val T) {
	*addr = val
}
