// Package blobstore provides storage abstraction for serialized sketches and
// snapshot manifests.
//
// Store is the interface for reading and writing data blobs. Implementations
// must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: Local filesystem with mmap reads and atomic-rename writes
//   - MemoryStore: In-memory store for tests
//   - s3.Store: Amazon S3 with range reads and parallel multipart uploads
//   - minio.Store: MinIO and other S3-compatible object stores
//
// # Custom Implementations
//
// Implement the Store interface to support custom storage backends. For
// cloud backends, implement ReadRange for efficient partial reads.
package blobstore
