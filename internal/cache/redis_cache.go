package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const lastDeliveryKey = "task:last"

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) StoreResult(ctx context.Context, rec DeliveryRecord) error {
	rec.SentAt = rec.SentAt.UTC()

	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("task:%s", rec.TaskID)
	if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
		return err
	}
	return c.rdb.Set(ctx, lastDeliveryKey, b, c.ttl).Err()
}

func (c *RedisCache) LastDelivery(ctx context.Context) (*DeliveryRecord, error) {
	raw, err := c.rdb.Get(ctx, lastDeliveryKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec DeliveryRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
