// Package sketchgo provides memory-bounded probabilistic data structures
// for streaming aggregations: a count-min sketch for per-key frequency
// estimation, a hyperloglog sketch for distinct counting, and a persistent
// (copy-on-write) hash map for shared immutable state.
//
// # Quick Start
//
//	alloc := bigarray.NewAllocator(nil)
//
//	cm, _ := sketch.NewCountMin(alloc, 3, 16, 8)
//	defer cm.Close()
//	cm.Collect(0, hashing.SumString64("user-42"))
//	counts, _ := cm.Cardinalities(0, 1, 10, 100)
//
//	hll, _ := sketch.NewHyperLogLog(alloc, sketch.DefaultPrecision)
//	defer hll.Close()
//	hll.Collect(0, hashing.SumString64("user-42"))
//	distinct := hll.Cardinality(0)
//
// # Memory Budgeting
//
// All sketch counters live in page-oriented arrays obtained from a
// bigarray.Allocator. Pass a resource.Controller to the allocator to cap the
// total memory the sketches may reserve:
//
//	ctrl := resource.NewController(resource.Config{MemoryLimitBytes: 64 << 20})
//	alloc := bigarray.NewAllocator(ctrl)
//
// # Snapshots
//
// SnapshotManager parks sketch buckets in a blobstore.Store as compressed,
// checksummed container blobs and restores them later:
//
//	mgr := sketchgo.NewSnapshotManager(store, sketchgo.WithCodec(persistence.CodecZstd))
//	_ = mgr.SaveCountMin(ctx, "daily/cm", cm, 0)
//	cm2, _ := mgr.LoadCountMin(ctx, "daily/cm", alloc)
//
// Stores are provided for the local filesystem, Amazon S3 (with an optional
// DynamoDB commit log for atomic pointer updates), MinIO, and memory.
package sketchgo
