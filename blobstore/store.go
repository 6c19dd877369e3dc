package blobstore

import (
	"bytes"
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for reading and writing immutable data blobs
// (snapshots, manifests). Implementations must be safe for concurrent use.
type Store interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)

	// Create creates a new blob for streaming writes. The blob becomes
	// visible when the returned WritableBlob is closed.
	Create(ctx context.Context, name string) (WritableBlob, error)

	// Put writes a blob atomically.
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns all blob names with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a data blob.
type Blob interface {
	io.Closer

	// ReadAt reads len(p) bytes starting at offset off.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)

	// ReadRange returns a reader over length bytes starting at off. Cloud
	// backends serve this as a single range request.
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)

	// Size returns the size of the blob in bytes.
	Size() int64
}

// WritableBlob is a write-once handle to a new blob. Data is committed on
// Close; a blob that is never closed is never visible.
type WritableBlob interface {
	io.Writer
	io.Closer

	// Sync flushes written data to durable storage where the backend
	// supports it. Streaming cloud uploads treat this as a no-op.
	Sync() error
}

// Mappable is an optional interface for Blobs backed by memory-mapped files.
type Mappable interface {
	// Bytes returns the underlying byte slice, valid until the Blob is
	// closed. This is a zero-copy operation.
	Bytes() ([]byte, error)
}

// ReadAll reads the entire content of a blob.
func ReadAll(ctx context.Context, store Store, name string) ([]byte, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	data := make([]byte, blob.Size())
	if _, err := blob.ReadAt(ctx, data, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return data, nil
}

// NopReadCloser wraps a bytes.Reader into an io.ReadCloser.
func NopReadCloser(r *bytes.Reader) io.ReadCloser {
	return io.NopCloser(r)
}
