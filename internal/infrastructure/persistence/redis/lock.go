package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/internal/domain/shared"
	"github.com/gravityseries/ranking-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISTRIBUTED RECALCULATION LOCK
// ══════════════════════════════════════════════════════════════════════════════

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the expiry only while the lock still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker implements ranking.Locker with SET NX PX.
// Lock never waits: a held discipline returns shared.ErrRecalculationLocked.
// While held, the lock is extended every ttl/3, so ttl only bounds how long
// a crashed holder blocks the discipline, not how long a run may take.
type Locker struct {
	cache   *Cache
	ttl     time.Duration
	refresh time.Duration
	log     *slog.Logger
}

// NewLocker creates a distributed locker. A non-positive ttl falls back to TTLRecalculationLock.
func NewLocker(cache *Cache, ttl time.Duration, log *slog.Logger) *Locker {
	if ttl <= 0 {
		ttl = TTLRecalculationLock
	}
	return &Locker{
		cache:   cache,
		ttl:     ttl,
		refresh: ttl / 3,
		log:     logger.OrDefault(log).With(logger.Component("redis_locker")),
	}
}

func (l *Locker) key(d ranking.Discipline) string {
	return l.cache.Key(PrefixLock, "recalculate:", d.String())
}

// Lock acquires the discipline lock and returns its release function.
func (l *Locker) Lock(ctx context.Context, d ranking.Discipline) (func(), error) {
	key := l.key(d)
	token := uuid.NewString()

	ok, err := l.cache.Client().SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, shared.ErrRecalculationLocked
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, token, d, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			// The caller's context may already be cancelled; release on a fresh one.
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.cache.Client(), []string{key}, token).Err(); err != nil {
				l.log.Warn("failed to release recalculation lock",
					logger.Discipline(d.String()), logger.Err(err))
			}
		})
	}, nil
}

// keepAlive extends the lock until stop is closed or the token is gone.
// A failed extension is retried on the next tick while the key may still live.
func (l *Locker) keepAlive(key, token string, d ranking.Discipline, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.refresh)
			n, err := extendScript.Run(ctx, l.cache.Client(), []string{key}, token, l.ttl.Milliseconds()).Int64()
			cancel()
			switch {
			case err != nil:
				l.log.Warn("failed to extend recalculation lock",
					logger.Discipline(d.String()), logger.Err(err))
			case n == 0:
				l.log.Error("recalculation lock lost before release",
					logger.Discipline(d.String()))
				return
			}
		}
	}
}
