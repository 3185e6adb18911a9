package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"multikasir/backend/internal/domain"
)

// RedisCache backs the category tree cache, the token denylist and the sale
// sequencer with one client. Every key starts with prefix.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(addr string, password string, db int, prefix string) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisCacheWithClient(client, prefix)
}

func NewRedisCacheWithClient(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) treeKey(tenantID string, includeInactive bool) string {
	scope := "active"
	if includeInactive {
		scope = "all"
	}
	return c.prefix + "cattree:" + tenantID + ":" + scope
}

func (c *RedisCache) GetTree(ctx context.Context, tenantID string, includeInactive bool) ([]*domain.CategoryNode, bool, error) {
	val, err := c.client.Get(ctx, c.treeKey(tenantID, includeInactive)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var tree []*domain.CategoryNode
	if err := json.Unmarshal(val, &tree); err != nil {
		return nil, false, err
	}
	return tree, true, nil
}

func (c *RedisCache) SetTree(ctx context.Context, tenantID string, includeInactive bool, tree []*domain.CategoryNode, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if tree == nil {
		tree = []*domain.CategoryNode{}
	}
	payload, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.treeKey(tenantID, includeInactive), payload, ttl).Err()
}

func (c *RedisCache) InvalidateTree(ctx context.Context, tenantID string) error {
	return c.client.Del(ctx, c.treeKey(tenantID, true), c.treeKey(tenantID, false)).Err()
}

// Revoke claims the token id with SETNX. An already expired token has
// nothing left to guard and counts as revoked by this call.
func (c *RedisCache) Revoke(ctx context.Context, tokenID string, until time.Time) (bool, error) {
	ttl := time.Until(until)
	if ttl <= 0 {
		return true, nil
	}
	return c.client.SetNX(ctx, c.prefix+"revoked:"+tokenID, "1", ttl).Result()
}

func (c *RedisCache) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := c.client.Exists(ctx, c.prefix+"revoked:"+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaleCounter reports how many sales a tenant already has.
type SaleCounter interface {
	CountSales(ctx context.Context, tenantID string) (int64, error)
}

// RedisSaleSequencer issues sale ordinals with INCR. A tenant's first call
// seeds the counter from the stored sale count with SETNX, so concurrent
// first calls agree on the starting point.
type RedisSaleSequencer struct {
	cache   *RedisCache
	counter SaleCounter
}

func (c *RedisCache) SaleSequencer(counter SaleCounter) *RedisSaleSequencer {
	return &RedisSaleSequencer{cache: c, counter: counter}
}

func (s *RedisSaleSequencer) NextSaleSequence(ctx context.Context, tenantID string) (int64, error) {
	key := s.cache.prefix + "saleseq:" + tenantID
	client := s.cache.client

	exists, err := client.Exists(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		count, err := s.counter.CountSales(ctx, tenantID)
		if err != nil {
			return 0, err
		}
		if err := client.SetNX(ctx, key, count, 0).Err(); err != nil {
			return 0, err
		}
	}
	return client.Incr(ctx, key).Result()
}
