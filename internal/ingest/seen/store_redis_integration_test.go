//go:build integration

package seen

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"politikcred/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *RedisCache
}

func TestRedisCacheSuite(t *testing.T) {
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.Require().NoError(s.redis.Client.Health(context.Background()))
	s.cache = NewRedisCache(s.redis.Client.Client, time.Minute)
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCacheSuite) TestMarkThenSeen() {
	ctx := context.Background()
	seen, err := s.cache.Seen(ctx, "an:42")
	s.Require().NoError(err)
	s.False(seen)

	s.Require().NoError(s.cache.Mark(ctx, "an:42", "senat:7"))

	seen, err = s.cache.Seen(ctx, "an:42")
	s.Require().NoError(err)
	s.True(seen)

	ttl, err := s.redis.Client.TTL(ctx, seenKeyPrefix+"senat:7").Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
}
