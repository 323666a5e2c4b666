package store

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vexgate/internal/types"
)

func TestMemoryStoreSetGet(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	err := s.Set(ctx, "key1", "value1", 0)
	require.NoError(t, err)

	val, err := s.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, "value1", val)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrKeyNotFound)
}

func TestMemoryStoreExpiry(t *testing.T) {
	clk := clock.NewMock()
	s := NewMemoryWithClock(clk)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key1", "value1", 10*time.Second))

	val, err := s.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, "value1", val)

	clk.Add(11 * time.Second)

	_, err = s.Get(ctx, "key1")
	assert.ErrorIs(t, err, types.ErrKeyNotFound)
}

func TestMemoryStoreIncr(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := s.Incr(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
}

func TestMemoryStoreIncrAfterExpiry(t *testing.T) {
	clk := clock.NewMock()
	s := NewMemoryWithClock(clk)
	ctx := context.Background()

	n, err := s.Incr(ctx, "counter")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.NoError(t, s.Expire(ctx, "counter", 5*time.Second))

	clk.Add(6 * time.Second)

	n, err = s.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "expired counter should restart")
}

func TestMemoryStoreTTL(t *testing.T) {
	clk := clock.NewMock()
	s := NewMemoryWithClock(clk)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key1", "v", 30*time.Second))

	ttl, err := s.TTL(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, ttl)

	clk.Add(10 * time.Second)
	ttl, err = s.TTL(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, ttl)

	// Keys without expiry report a negative TTL
	require.NoError(t, s.Set(ctx, "key2", "v", 0))
	ttl, err = s.TTL(ctx, "key2")
	require.NoError(t, err)
	assert.Negative(t, ttl)

	_, err = s.TTL(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrKeyNotFound)
}

func TestMemoryStoreDelete(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key1", "v", 0))
	require.NoError(t, s.Delete(ctx, "key1"))

	_, err := s.Get(ctx, "key1")
	assert.ErrorIs(t, err, types.ErrKeyNotFound)

	// Deleting a missing key is not an error
	assert.NoError(t, s.Delete(ctx, "key1"))
}
