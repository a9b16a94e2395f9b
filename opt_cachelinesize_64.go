//go:build layoutsync_opt_cachelinesize_64

package layoutsync

// CacheLineSize is fixed at build time by the layoutsync_opt_cachelinesize_64 tag.
const CacheLineSize = 64
