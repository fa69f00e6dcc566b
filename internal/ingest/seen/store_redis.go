package seen

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"politikcred/internal/domain"
)

var seenLookupDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "politikcred_seen_lookup_duration_ms",
	Help:    "Latency of seen-action cache lookups in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

const seenKeyPrefix = "politikcred:seen:"

// RedisCache shares seen IDs across instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Seen(ctx context.Context, id domain.ActionID) (bool, error) {
	start := time.Now()
	defer func() {
		seenLookupDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	n, err := c.client.Exists(ctx, seenKeyPrefix+string(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark sets all keys in one pipeline round trip.
func (c *RedisCache) Mark(ctx context.Context, ids ...domain.ActionID) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, id := range ids {
		pipe.Set(ctx, seenKeyPrefix+string(id), "1", c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
