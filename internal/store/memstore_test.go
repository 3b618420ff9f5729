package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Put(ctx, "key", []byte("value")))
	v, ok, err := s.Get(ctx, "key")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("value"), v)

	require.NoError(t, s.Delete(ctx, "key"))
	_, ok, err = s.Get(ctx, "key")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreSecretsAreSeparateFromValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.PutSecret(ctx, "k", []byte("shh")))
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	v, ok, err := s.GetSecret(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("shh"), v)
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fs1, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, fs1.Put(ctx, "key", []byte("value")))
	require.NoError(t, fs1.PutSecret(ctx, "secret", []byte("shh")))

	fs2, err := NewFileStore(dir)
	require.NoError(t, err)
	v, ok, err := fs2.Get(ctx, "key")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("value"), v)

	sv, ok, err := fs2.GetSecret(ctx, "secret")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("shh"), sv)
}

func TestFileStoreMissingFileIsNotError(t *testing.T) {
	dir := t.TempDir()
	_, err := NewFileStore(filepath.Join(dir, "nested"))
	require.NoError(t, err)
}

func TestFileStoreDeleteRemovesKey(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fs.Put(ctx, "k", []byte("v")))
	require.NoError(t, fs.Delete(ctx, "k"))

	_, ok, err := fs.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}
