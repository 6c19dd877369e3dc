// Package cache provides a byte-oriented block cache used by the caching
// blob store to avoid re-reading snapshot blocks from remote storage.
package cache

// Key identifies one block of a named blob.
type Key struct {
	// Name is the blob name within its store.
	Name string
	// Block is the block index within the blob.
	Block uint64
}

// BlockCache caches immutable blocks. Returned slices must be treated as
// read-only.
type BlockCache interface {
	// Get returns a cached block. ok is false if missing.
	Get(key Key) (b []byte, ok bool)
	// Set caches a block. The caller must not mutate b afterwards.
	Set(key Key, b []byte)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key Key) bool)
	// Stats returns hit and miss counts.
	Stats() (hits, misses int64)
	// Close releases cached memory.
	Close() error
}
