package service

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
)

const defaultNameCacheSize = 4096

type nameKey struct {
	kind ranking.EntityKind
	id   int64
}

// CachedNameDirectory puts an LRU cache in front of a NameDirectory.
// Rider and club names change rarely and are only used in the read path.
type CachedNameDirectory struct {
	source ranking.NameDirectory
	cache  *lru.Cache
}

// NewCachedNameDirectory creates a directory with the given cache size (0 = default).
func NewCachedNameDirectory(source ranking.NameDirectory, size int) (*CachedNameDirectory, error) {
	if size <= 0 {
		size = defaultNameCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("name directory: %w", err)
	}
	return &CachedNameDirectory{source: source, cache: cache}, nil
}

// Names returns display names for ids, fetching only the misses from the source.
func (d *CachedNameDirectory) Names(ctx context.Context, kind ranking.EntityKind, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	var missing []int64
	for _, id := range ids {
		if v, ok := d.cache.Get(nameKey{kind, id}); ok {
			out[id] = v.(string)
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := d.source.Names(ctx, kind, missing)
	if err != nil {
		return out, err
	}
	for id, name := range fetched {
		d.cache.Add(nameKey{kind, id}, name)
		out[id] = name
	}
	return out, nil
}

// Purge drops all cached names.
func (d *CachedNameDirectory) Purge() {
	d.cache.Purge()
}
