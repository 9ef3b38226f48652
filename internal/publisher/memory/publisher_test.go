package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsInOrder(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	id1, err := pub.Publish(ctx, "bucket-saved", map[string]any{"bucket": "a"})
	require.NoError(t, err)
	id2, err := pub.Publish(ctx, "other", map[string]any{"bucket": "b"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Payload.(map[string]any)["bucket"])
	require.Len(t, pub.Topic("bucket-saved"), 1)
	assert.Equal(t, id1, pub.Topic("bucket-saved")[0].ID)

	msgs[0].Topic = "modified"
	assert.Equal(t, "bucket-saved", pub.Messages()[0].Topic, "Messages must return a copy")
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("bus down")
	pub.FailWith(boom)
	_, err := pub.Publish(context.Background(), "bucket-saved", nil)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, pub.Messages())

	pub.FailWith(nil)
	id, err := pub.Publish(context.Background(), "bucket-saved", nil)
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id)
}
