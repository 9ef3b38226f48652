package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "buckets/index/a.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://buckets/index/a.json", uri)

	payload[0] = 'C'
	stored, ok := store.Object("buckets/index/a.json")
	require.True(t, ok)
	assert.Equal(t, "content", string(stored))

	stored[0] = 'X'
	again, _ := store.Object("buckets/index/a.json")
	assert.Equal(t, "content", string(again))
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, p := range []string{"b/2", "a/1", "b/1"} {
		_, err := store.PutObject(context.Background(), p, "", bytes.NewReader(nil))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a/1", "b/1", "b/2"}, store.Paths())

	_, ok := store.Object("missing")
	assert.False(t, ok)
}

func TestBlobStoreFailWith(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	boom := errors.New("quota")
	store.FailWith(boom)
	_, err := store.PutObject(context.Background(), "a", "", bytes.NewReader([]byte("x")))
	require.ErrorIs(t, err, boom)
	assert.Empty(t, store.Paths())
}
