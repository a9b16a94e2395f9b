//go:build layoutsync_enablepadding

package layoutsync

import "unsafe"

// enablePadding pads each striped size counter of a HashTable to a full
// cache line. Off by default; costs CacheLineSize bytes per stripe.
const enablePadding = true

// counterStripe is one stripe of a striped counter.
type counterStripe struct {
	//lint:ignore U1000 prevents false sharing
	pad [(CacheLineSize - unsafe.Sizeof(struct {
		c uintptr
	}{})%CacheLineSize) % CacheLineSize]byte
	c uintptr // accessed atomically
}
