package cancellation

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRedisRequestStore_Integration requires a running Redis and skips
// otherwise.
func TestRedisRequestStore_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	store := NewRedisRequestStore(client)
	store.prefix = "cancellation-test:"
	now := time.Now().UTC().Truncate(time.Second)
	req := Request{
		ID:                "req-1",
		AssignmentID:      "asg-redis",
		Reason:            "customer request",
		CodeHash:          hashCode("req-1", "123456"),
		CodeIssuedAt:      now,
		CodeExpiresAt:     now.Add(5 * time.Minute),
		AttemptsRemaining: 2,
	}
	require.NoError(t, store.Put(ctx, req))
	defer client.Del(ctx, store.key(req.AssignmentID))

	got, err := store.Get(ctx, req.AssignmentID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, req.Reason, got.Reason)
	assert.Equal(t, req.AttemptsRemaining, got.AttemptsRemaining)
	assert.True(t, req.CodeExpiresAt.Equal(got.CodeExpiresAt))
	assert.True(t, got.matches("123456"))

	left, err := store.RecordMismatch(ctx, req.AssignmentID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, left)

	_, err = store.RecordMismatch(ctx, req.AssignmentID, "someone-else")
	assert.ErrorIs(t, err, ErrNoRequest)

	removed, err := store.Remove(ctx, req.AssignmentID, "someone-else")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = store.Remove(ctx, req.AssignmentID, req.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = store.Get(ctx, req.AssignmentID)
	assert.ErrorIs(t, err, ErrNoRequest)
}
