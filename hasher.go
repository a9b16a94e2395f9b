package layoutsync

import (
	"hash/maphash"
	"math/bits"
	"unsafe"
)

// defaultHasher returns the hash and equality functions used when a
// HashTable is created without explicit ones. Integer keys hash to
// themselves, which spreads sequential keys evenly over a power-of-two
// bucket array; intKey reports that case.
func defaultHasher[K comparable]() (keyHash func(K) uintptr, keyEqual func(a, b K) bool, intKey bool) {
	keyEqual = func(a, b K) bool { return a == b }

	switch any(*new(K)).(type) {
	case uint, int, uintptr:
		return func(k K) uintptr {
			return *(*uintptr)(unsafe.Pointer(&k))
		}, keyEqual, true

	case uint64, int64:
		if bits.UintSize == 32 {
			return func(k K) uintptr {
				v := *(*uint64)(unsafe.Pointer(&k))
				return uintptr(v) ^ uintptr(v>>32)
			}, keyEqual, true
		}
		return func(k K) uintptr {
			return uintptr(*(*uint64)(unsafe.Pointer(&k)))
		}, keyEqual, true

	case uint32, int32:
		return func(k K) uintptr {
			return uintptr(*(*uint32)(unsafe.Pointer(&k)))
		}, keyEqual, true

	case uint16, int16:
		return func(k K) uintptr {
			return uintptr(*(*uint16)(unsafe.Pointer(&k)))
		}, keyEqual, true

	case uint8, int8:
		return func(k K) uintptr {
			return uintptr(*(*uint8)(unsafe.Pointer(&k)))
		}, keyEqual, true

	default:
		seed := maphash.MakeSeed()
		return func(k K) uintptr {
			return uintptr(maphash.Comparable(seed, k))
		}, keyEqual, false
	}
}

// spread improves hash distribution by XORing the original hash with its
// high bits; applied to caller-supplied hash functions, whose low bits
// may be weak.
func spread(h uintptr) uintptr {
	return h ^ (h >> 16)
}
