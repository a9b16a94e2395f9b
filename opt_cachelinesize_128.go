//go:build layoutsync_opt_cachelinesize_128

package layoutsync

// CacheLineSize is fixed at build time by the layoutsync_opt_cachelinesize_128 tag.
const CacheLineSize = 128
