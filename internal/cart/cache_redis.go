package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCacheTTL = 10 * time.Minute

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, customerID int64) (Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(customerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Cart{}, ErrCacheMiss
	}
	if err != nil {
		return Cart{}, fmt.Errorf("redis get failed: %w", err)
	}
	var c Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return Cart{}, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return c, nil
}

func (r *RedisCache) Set(ctx context.Context, c Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	if err := r.client.Set(ctx, cacheKey(c.CustomerID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, customerID int64) error {
	if err := r.client.Del(ctx, cacheKey(customerID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(customerID int64) string {
	return fmt.Sprintf("cart:%d", customerID)
}
