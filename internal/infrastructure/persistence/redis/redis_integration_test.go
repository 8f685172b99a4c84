package redis_test

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/internal/domain/shared"
	"github.com/gravityseries/ranking-hub/internal/infrastructure/persistence/redis"
	"github.com/gravityseries/ranking-hub/pkg/logger"
	"github.com/gravityseries/ranking-hub/pkg/timeutil"
)

func startRedis(t *testing.T) *redis.Cache {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test: requires docker")
	}
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	endpoint, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	return redis.NewCacheFromClient(client, "test:")
}

func TestRankingCache_Integration(t *testing.T) {
	cache := startRedis(t)
	pages := redis.NewRankingCache(cache, time.Minute)
	ctx := context.Background()

	got, err := pages.GetPage(ctx, ranking.KindRider, ranking.DisciplineEnduro, 1, 50)
	require.NoError(t, err)
	assert.Nil(t, got, "miss returns nil page")

	prev := ranking.Rank(3)
	change := ranking.RankChange(2)
	page := &ranking.CachedPage{
		SnapshotDate: timeutil.Date(2024, 6, 1),
		Total:        1,
		Entries: []ranking.SnapshotEntry{
			{EntityID: 7, TotalPoints: 42.5, EventsCount: 1, Rank: 1, PreviousRank: &prev, RankChange: &change},
		},
	}
	require.NoError(t, pages.SetPage(ctx, ranking.KindRider, ranking.DisciplineEnduro, 1, 50, page))
	require.NoError(t, pages.SetPage(ctx, ranking.KindClub, ranking.DisciplineDH, 1, 50, page))

	got, err = pages.GetPage(ctx, ranking.KindRider, ranking.DisciplineEnduro, 1, 50)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, page.Total, got.Total)
	assert.True(t, page.SnapshotDate.Equal(got.SnapshotDate))
	require.Len(t, got.Entries, 1)
	assert.Equal(t, ranking.Rank(3), *got.Entries[0].PreviousRank)

	require.NoError(t, pages.Invalidate(ctx, ranking.DisciplineEnduro))

	got, err = pages.GetPage(ctx, ranking.KindRider, ranking.DisciplineEnduro, 1, 50)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = pages.GetPage(ctx, ranking.KindClub, ranking.DisciplineDH, 1, 50)
	require.NoError(t, err)
	assert.NotNil(t, got, "other disciplines survive invalidation")
}

func TestLocker_Integration(t *testing.T) {
	cache := startRedis(t)
	locker := redis.NewLocker(cache, time.Minute, logger.Discard())
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, ranking.DisciplineEnduro)
	require.NoError(t, err)

	_, err = locker.Lock(ctx, ranking.DisciplineEnduro)
	assert.True(t, shared.IsLocked(err))

	unlockDH, err := locker.Lock(ctx, ranking.DisciplineDH)
	require.NoError(t, err, "disciplines lock independently")
	unlockDH()

	unlock()
	unlock()

	unlock, err = locker.Lock(ctx, ranking.DisciplineEnduro)
	require.NoError(t, err)
	unlock()
}

func TestLocker_ExtendsWhileHeld(t *testing.T) {
	cache := startRedis(t)
	locker := redis.NewLocker(cache, 300*time.Millisecond, logger.Discard())
	ctx := context.Background()
	key := cache.Key(redis.PrefixLock, "recalculate:", ranking.DisciplineGravity.String())

	unlock, err := locker.Lock(ctx, ranking.DisciplineGravity)
	require.NoError(t, err)

	// well past the ttl: the lock is still held
	time.Sleep(time.Second)
	ttl, err := cache.Client().PTTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	_, err = locker.Lock(ctx, ranking.DisciplineGravity)
	assert.True(t, shared.IsLocked(err))

	unlock()
	exists, err := cache.Client().Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	// a released lock is no longer extended and expires normally
	unlock, err = locker.Lock(ctx, ranking.DisciplineGravity)
	require.NoError(t, err)
	unlock()
}
