package qr

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/virtual-queue/internal/model"
)

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	s := NewRedisStore(rdb, time.Hour, "test-qr")
	ctx := context.Background()

	tok, err := s.Issue(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), tok.QueueID)
	assert.True(t, mr.Exists("test-qr:"+tok.Value))
	assert.Equal(t, time.Hour, mr.TTL("test-qr:"+tok.Value))

	id, err := s.Resolve(ctx, tok.Value)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)

	mr.FastForward(2 * time.Hour)
	_, err = s.Resolve(ctx, tok.Value)
	assert.True(t, errors.Is(err, model.ErrInvalidToken), "expired: %v", err)
}

func TestRedisStoreRejectsBadTokens(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	s := NewRedisStore(rdb, 0, "")
	ctx := context.Background()

	_, err := s.Resolve(ctx, "not-a-uuid")
	assert.True(t, errors.Is(err, model.ErrInvalidToken), "malformed: %v", err)

	_, err = s.Resolve(ctx, "7c9e6679-7425-40de-944b-e07fc1f90ae7")
	assert.True(t, errors.Is(err, model.ErrInvalidToken), "unknown: %v", err)

	require.NoError(t, mr.Set("qr:7c9e6679-7425-40de-944b-e07fc1f90ae7", "abc"))
	_, err = s.Resolve(ctx, "7c9e6679-7425-40de-944b-e07fc1f90ae7")
	assert.True(t, errors.Is(err, model.ErrInvalidToken), "corrupt: %v", err)
}

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore(time.Minute)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	a, err := s.Issue(ctx, 1)
	require.NoError(t, err)
	b, err := s.Issue(ctx, 2)
	require.NoError(t, err)
	assert.NotEqual(t, a.Value, b.Value)

	id, err := s.Resolve(ctx, b.Value)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)

	now = now.Add(time.Minute)
	_, err = s.Resolve(ctx, a.Value)
	assert.True(t, errors.Is(err, model.ErrInvalidToken))
	assert.Equal(t, 1, s.Purge(), "b expired too; a was dropped on resolve")
}
