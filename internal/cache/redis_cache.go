package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"sellerledger/backend/internal/domain"
)

type RedisSummaryCache struct {
	client *redis.Client
}

func NewRedisSummaryCache(addr string, password string, db int) *RedisSummaryCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSummaryCache{client: client}
}

func (c *RedisSummaryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSummaryCache) Close() error {
	return c.client.Close()
}

func (c *RedisSummaryCache) Generation(ctx context.Context, sellerID string) (int64, error) {
	gen, err := c.client.Get(ctx, GenerationKey(sellerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisSummaryCache) Get(ctx context.Context, sellerID string, gen int64) (*domain.BalanceSummary, bool, error) {
	val, err := c.client.Get(ctx, SummaryKey(sellerID, gen)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var summary domain.BalanceSummary
	if err := json.Unmarshal([]byte(val), &summary); err != nil {
		return nil, false, err
	}
	return &summary, true, nil
}

func (c *RedisSummaryCache) Set(ctx context.Context, value *domain.BalanceSummary, gen int64, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, SummaryKey(value.SellerID, gen), payload, ttl).Err()
}

// Invalidate bumps the seller's generation. Superseded entries age out on
// their TTL.
func (c *RedisSummaryCache) Invalidate(ctx context.Context, sellerID string) error {
	return c.client.Incr(ctx, GenerationKey(sellerID)).Err()
}
