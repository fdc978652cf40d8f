package blob_test

import (
	"context"
	"strings"
	"testing"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanrel/capshare/internal/storage"
	"github.com/evanrel/capshare/internal/storage/blob"
)

func newStore(t *testing.T) *blob.Store {
	t.Helper()
	s, err := blob.NewStore(dssync.MutexWrap(datastore.NewMapDatastore()), "http://localhost:8080", nil)
	require.NoError(t, err)
	return s
}

func TestComputeCID_Deterministic(t *testing.T) {
	id1, err := blob.ComputeCID([]byte("hello"))
	require.NoError(t, err)
	id2, err := blob.ComputeCID([]byte("hello"))
	require.NoError(t, err)
	id3, err := blob.ComputeCID([]byte("world"))
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
	assert.True(t, strings.HasPrefix(id1, "baf"), "CIDv1 base32 string")
}

func TestStore_StoreRetrieve(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	data := []byte("some photo bytes")
	stored, err := s.Store(ctx, data, "photo.jpg")
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)
	assert.False(t, stored.StoredAt.IsZero())

	got, contentType, err := s.Retrieve(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, stored.ContentType, contentType)

	// Second retrieve comes from the LRU cache
	got, _, err = s.Retrieve(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestStore_Store_SameBytesSameID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a, err := s.Store(ctx, []byte("identical"), "a.txt")
	require.NoError(t, err)
	b, err := s.Store(ctx, []byte("identical"), "b.txt")
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
}

func TestStore_Retrieve_NotFound(t *testing.T) {
	s := newStore(t)

	_, _, err := s.Retrieve(context.Background(), "bafkreimissing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_Locate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	stored, err := s.Store(ctx, []byte("bytes"), "f.bin")
	require.NoError(t, err)

	url := s.Locate(stored.ID)
	assert.Equal(t, "http://localhost:8080/blobs/"+stored.ID, url)
}
