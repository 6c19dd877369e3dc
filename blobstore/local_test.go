package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	blobName := "data-001.bin"
	data := []byte("hello world, this is a test blob for sketchgo")

	w, err := store.Create(ctx, blobName)
	require.NoError(t, err)

	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, w.Close())

	// Open and ReadAt
	blob, err := store.Open(ctx, blobName)
	require.NoError(t, err)
	defer blob.Close()

	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err = blob.ReadAt(ctx, buf, 6) // "world"
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "world", string(buf))

	// ReadRange
	rangeReader, err := blob.ReadRange(ctx, 13, 4)
	require.NoError(t, err)
	defer rangeReader.Close()
	rangeContent, err := io.ReadAll(rangeReader)
	require.NoError(t, err)
	require.Equal(t, "this", string(rangeContent))

	// Local blobs expose the mapping directly.
	mappable, ok := blob.(Mappable)
	require.True(t, ok)
	raw, err := mappable.Bytes()
	require.NoError(t, err)
	require.Equal(t, data, raw)

	// List
	require.NoError(t, store.Put(ctx, "data-002.bin", []byte("x")))
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{blobName, "data-002.bin"}, names)

	// Delete; deleting twice stays quiet
	require.NoError(t, store.Delete(ctx, blobName))
	require.NoError(t, store.Delete(ctx, blobName))
	_, err = store.Open(ctx, blobName)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_CreateIsAtomic(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)

	w, err := store.Create(ctx, "snap.bin")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)

	// Before Close only the temp file exists.
	_, err = os.Stat(filepath.Join(dir, "snap.bin"))
	assert.True(t, os.IsNotExist(err))
	_, err = store.Open(ctx, "snap.bin")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, w.Close())
	_, err = os.Stat(filepath.Join(dir, "snap.bin"))
	assert.NoError(t, err)

	// No temp litter remains.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "leftover temp file %s", e.Name())
	}
}

func TestLocalStore_NestedNames(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "a/b/c.bin", []byte("nested")))

	data, err := ReadAll(ctx, store, "a/b/c.bin")
	require.NoError(t, err)
	assert.Equal(t, "nested", string(data))

	names, err := store.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b/c.bin"}, names)
}

func TestLocalStore_EmptyBlob(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "empty", nil))

	blob, err := store.Open(ctx, "empty")
	require.NoError(t, err)
	defer blob.Close()
	assert.Zero(t, blob.Size())

	data, err := ReadAll(ctx, store, "empty")
	require.NoError(t, err)
	assert.Empty(t, data)
}
