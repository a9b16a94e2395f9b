//go:build layoutsync_opt_cachelinesize_256

package layoutsync

// CacheLineSize is fixed at build time by the layoutsync_opt_cachelinesize_256 tag.
const CacheLineSize = 256
