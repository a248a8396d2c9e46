package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"apotek/backend/internal/domain"
)

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

type RedisAlertCache struct {
	client redis.UniversalClient
}

func NewRedisAlertCache(client redis.UniversalClient) *RedisAlertCache {
	return &RedisAlertCache{client: client}
}

func (c *RedisAlertCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisAlertCache) Get(ctx context.Context, key string) (*domain.InventoryAlerts, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var alerts domain.InventoryAlerts
	if err := json.Unmarshal(val, &alerts); err != nil {
		return nil, false, err
	}
	return &alerts, true, nil
}

func (c *RedisAlertCache) Set(ctx context.Context, key string, value *domain.InventoryAlerts, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisAlertCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
