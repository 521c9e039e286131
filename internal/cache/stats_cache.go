// Package cache keeps the staff dashboard counters in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/support-service/internal/domain"
)

// StatsKey is the Redis key holding the serialized dashboard counters.
const StatsKey = "support:tickets:stats"

// StatsCache stores aggregated ticket statistics.
type StatsCache interface {
	// Get returns (nil, false, nil) on a miss.
	Get(ctx context.Context) (*domain.TicketStats, bool, error)
	Set(ctx context.Context, stats *domain.TicketStats) error
	Invalidate(ctx context.Context) error
}

type redisStatsCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisStatsCache returns a cache backed by client. A nil client or a
// non-positive ttl yields a cache that never hits.
func NewRedisStatsCache(client redis.Cmdable, ttl time.Duration) StatsCache {
	if client == nil || ttl <= 0 {
		return NoopStatsCache{}
	}
	return &redisStatsCache{client: client, ttl: ttl}
}

func (c *redisStatsCache) Get(ctx context.Context) (*domain.TicketStats, bool, error) {
	raw, err := c.client.Get(ctx, StatsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var stats domain.TicketStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, false, err
	}
	return &stats, true, nil
}

func (c *redisStatsCache) Set(ctx context.Context, stats *domain.TicketStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, StatsKey, raw, c.ttl).Err()
}

func (c *redisStatsCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, StatsKey).Err()
}

// NoopStatsCache is used when Redis is not configured.
type NoopStatsCache struct{}

func (NoopStatsCache) Get(context.Context) (*domain.TicketStats, bool, error) { return nil, false, nil }
func (NoopStatsCache) Set(context.Context, *domain.TicketStats) error         { return nil }
func (NoopStatsCache) Invalidate(context.Context) error                       { return nil }
