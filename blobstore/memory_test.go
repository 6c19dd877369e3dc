package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Open(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "snap/a", []byte("alpha")))
	require.NoError(t, store.Put(ctx, "snap/b", []byte("beta")))
	require.NoError(t, store.Put(ctx, "other", []byte("x")))

	blob, err := store.Open(ctx, "snap/a")
	require.NoError(t, err)
	defer blob.Close()
	assert.Equal(t, int64(5), blob.Size())

	buf := make([]byte, 5)
	n, err := blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(buf[:n]))

	r, err := blob.ReadRange(ctx, 1, 3)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "lph", string(got))

	names, err := store.List(ctx, "snap/")
	require.NoError(t, err)
	assert.Equal(t, []string{"snap/a", "snap/b"}, names)

	require.NoError(t, store.Delete(ctx, "snap/a"))
	_, err = store.Open(ctx, "snap/a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CreateCommitsOnClose(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	w, err := store.Create(ctx, "pending")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = w.Write([]byte("world"))
	require.NoError(t, err)

	// Not visible until Close.
	_, err = store.Open(ctx, "pending")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	data, err := ReadAll(ctx, store, "pending")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestMemoryStore_OpenSnapshotsContent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, "k", []byte("v1")))

	blob, err := store.Open(ctx, "k")
	require.NoError(t, err)
	defer blob.Close()

	// Overwriting after Open must not change the open handle.
	require.NoError(t, store.Put(ctx, "k", []byte("v2")))

	buf := make([]byte, 2)
	_, err = blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(buf))
}
