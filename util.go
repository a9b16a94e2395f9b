package layoutsync

import (
	"math/bits"
	"time"
	_ "unsafe"
)

// enableSpin controls whether waits inside the lock protocols first spin
// with the CPU's PAUSE instruction before falling back to sleeping.
const enableSpin = true

// delay backs off inside a CAS-retry or wait loop.
func delay(spins *int) {
	const yieldSleep = 500 * time.Microsecond
	if //goland:noinspection ALL
	enableSpin && runtime_canSpin(*spins) {
		runtime_doSpin()
		*spins++
	} else {
		// time.Sleep with non-zero duration works effectively as backoff
		// under high concurrency.
		time.Sleep(yieldSleep)
		*spins = 0
	}
}

// nolint:all
//
//go:linkname runtime_canSpin sync.runtime_canSpin
//go:nosplit
func runtime_canSpin(i int) bool

// nolint:all
//
//go:linkname runtime_doSpin sync.runtime_doSpin
//go:nosplit
func runtime_doSpin()

// testHookYield is called between the steps of the lock-free protocols.
// Tests install a randomized yield here to widen race windows; it must
// only be set while no container is in use.
var testHookYield func()

func injectDelay() {
	if h := testHookYield; h != nil {
		h()
	}
}

// nextPowOf2 calculates the smallest power of 2 that is greater than or equal to n.
// Compatible with both 32-bit and 64-bit systems.
func nextPowOf2(n int) int {
	if n <= 0 {
		return 1
	}

	if bits.UintSize == 32 {
		v := uint32(n)
		v--
		v |= v >> 1
		v |= v >> 2
		v |= v >> 4
		v |= v >> 8
		v |= v >> 16
		v++
		return int(v)
	}

	v := uint64(n)
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return int(v)
}

// prevPowOf2 returns the largest power of 2 that is less than or equal to
// n, or 1 if n < 1.
func prevPowOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << (bits.Len(uint(n)) - 1)
}

// noCopy may be added to structs which must not be copied
// after the first use. See sync.noCopy and `go vet -copylocks`.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
