package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANKING PAGE CACHE
// Key layout: <prefix>page:<DISCIPLINE>:<kind>:<page>:<pageSize>
// ══════════════════════════════════════════════════════════════════════════════

// RankingCache implements ranking.PageCache on Redis.
type RankingCache struct {
	cache   *Cache
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
}

// RankingCacheOption configures a RankingCache.
type RankingCacheOption func(*RankingCache)

// WithBreaker guards page reads and writes. While the circuit is open reads
// report a miss and writes are dropped. Invalidation always reaches Redis.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) RankingCacheOption {
	return func(c *RankingCache) { c.breaker = cb }
}

// NewRankingCache creates a page cache. A non-positive ttl falls back to TTLRankingPage.
func NewRankingCache(cache *Cache, ttl time.Duration, opts ...RankingCacheOption) *RankingCache {
	if ttl <= 0 {
		ttl = TTLRankingPage
	}
	c := &RankingCache{cache: cache, ttl: ttl}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RankingCache) guard(ctx context.Context, fn func(context.Context) error) error {
	if c.breaker == nil {
		return fn(ctx)
	}
	err := c.breaker.Execute(ctx, fn)
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return errBypassed
	}
	return err
}

var errBypassed = errors.New("page cache bypassed")

func (c *RankingCache) pageKey(kind ranking.EntityKind, d ranking.Discipline, page, pageSize int) string {
	return c.cache.Key(PrefixPage, fmt.Sprintf("%s:%s:%d:%d", d, kind, page, pageSize))
}

func (c *RankingCache) disciplinePattern(d ranking.Discipline) string {
	return c.cache.Key(PrefixPage, d.String(), ":*")
}

// GetPage returns nil, nil on a cache miss.
func (c *RankingCache) GetPage(ctx context.Context, kind ranking.EntityKind, d ranking.Discipline, page, pageSize int) (*ranking.CachedPage, error) {
	var p ranking.CachedPage
	hit := true
	err := c.guard(ctx, func(ctx context.Context) error {
		err := c.cache.Get(ctx, c.pageKey(kind, d, page, pageSize), &p)
		if errors.Is(err, ErrCacheMiss) {
			hit = false
			return nil
		}
		return err
	})
	if errors.Is(err, errBypassed) || (err == nil && !hit) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ranking cache get: %w", err)
	}
	return &p, nil
}

// SetPage stores a page with the configured TTL.
func (c *RankingCache) SetPage(ctx context.Context, kind ranking.EntityKind, d ranking.Discipline, page, pageSize int, p *ranking.CachedPage) error {
	if p == nil {
		return nil
	}
	err := c.guard(ctx, func(ctx context.Context) error {
		return c.cache.Set(ctx, c.pageKey(kind, d, page, pageSize), p, c.ttl)
	})
	if err != nil && !errors.Is(err, errBypassed) {
		return fmt.Errorf("ranking cache set: %w", err)
	}
	return nil
}

// Invalidate drops every cached page of the discipline, both kinds.
func (c *RankingCache) Invalidate(ctx context.Context, d ranking.Discipline) error {
	if err := c.cache.DeleteByPattern(ctx, c.disciplinePattern(d)); err != nil {
		return fmt.Errorf("ranking cache invalidate %s: %w", d, err)
	}
	return nil
}
