//go:build layoutsync_opt_cachelinesize_32

package layoutsync

// CacheLineSize is fixed at build time by the layoutsync_opt_cachelinesize_32 tag.
const CacheLineSize = 32
