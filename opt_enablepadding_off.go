//go:build !layoutsync_enablepadding

package layoutsync

// enablePadding pads each striped size counter of a HashTable to a full
// cache line. Off by default; costs CacheLineSize bytes per stripe.
const enablePadding = false

type counterStripe struct {
	c uintptr
}
