// Package seen is the cross-run pre-check for already ingested actions. It
// is an optimization only; the action table decides what is new.
package seen

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"politikcred/internal/domain"
)

// Cache remembers action IDs that were persisted by an earlier run.
type Cache interface {
	Seen(ctx context.Context, id domain.ActionID) (bool, error)
	Mark(ctx context.Context, ids ...domain.ActionID) error
}

// MemoryCache keeps seen IDs in process with a TTL.
type MemoryCache struct {
	cache *gocache.Cache
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	cleanup := ttl / 2
	if cleanup <= 0 {
		cleanup = time.Hour
	}
	return &MemoryCache{cache: gocache.New(ttl, cleanup)}
}

func (c *MemoryCache) Seen(_ context.Context, id domain.ActionID) (bool, error) {
	_, found := c.cache.Get(string(id))
	return found, nil
}

func (c *MemoryCache) Mark(_ context.Context, ids ...domain.ActionID) error {
	for _, id := range ids {
		c.cache.SetDefault(string(id), struct{}{})
	}
	return nil
}
