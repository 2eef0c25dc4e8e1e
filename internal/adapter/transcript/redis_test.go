package transcript

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportmesh/internal/domain"
)

func setupTestRedis(t *testing.T, maxTurns int) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, time.Minute, maxTurns)
	t.Cleanup(func() {
		store.Close()
		mr.Close()
	})
	return mr, store
}

func TestRedisStoreAppendAndRecent(t *testing.T) {
	_, s := setupTestRedis(t, 0)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	for i := 0; i < 12; i++ {
		require.NoError(t, s.Append(ctx, "customer_1", turn(i)))
	}

	got, err := s.Recent(ctx, "customer_1", 10)
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, "msg-2", got[0].Content)
	assert.Equal(t, "msg-11", got[9].Content)
	assert.Equal(t, domain.LabelUser, got[0].Source)
	assert.True(t, got[0].Timestamp.Equal(time.Unix(2, 0)))
}

func TestRedisStoreTrimsAndExpires(t *testing.T) {
	mr, s := setupTestRedis(t, 4)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.NoError(t, s.Append(ctx, "c", turn(i)))
	}

	key := transcriptKeyPrefix + "c"
	items, err := mr.List(key)
	require.NoError(t, err)
	assert.Len(t, items, 4)
	assert.Equal(t, time.Minute, mr.TTL(key))

	mr.FastForward(2 * time.Minute)
	got, err := s.Recent(ctx, "c", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStoreDelete(t *testing.T) {
	mr, s := setupTestRedis(t, 0)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "c", turn(1)))
	require.NoError(t, s.Delete(ctx, "c"))
	assert.False(t, mr.Exists(transcriptKeyPrefix+"c"))
}

func TestRedisStoreRecentUnknownCustomer(t *testing.T) {
	_, s := setupTestRedis(t, 0)
	got, err := s.Recent(context.Background(), "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStoreReportsBackendErrors(t *testing.T) {
	mr, s := setupTestRedis(t, 0)
	mr.Close()
	err := s.Append(context.Background(), "c", turn(1))
	require.Error(t, err)
}

func TestDialRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s, err := DialRedis("redis://"+mr.Addr()+"/0", 0, 0)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(context.Background()))

	_, err = DialRedis("://bad", 0, 0)
	assert.Error(t, err)
}
