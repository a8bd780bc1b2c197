package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// DiscoveryCache holds events discovery snapshots keyed by scope and
// window. Entries are immutable once written; when two requests race on
// the same key either value is fine, they describe the same window.
type DiscoveryCache interface {
	Get(ctx context.Context, key string) (map[string]any, bool)
	Set(ctx context.Context, key string, value map[string]any)
}

// DiscoveryKey builds the cache key for a scope and since window. An empty
// scope is the platform-wide view.
func DiscoveryKey(scope, since string) string {
	if scope == "" {
		scope = "*"
	}
	if since == "" {
		since = "-"
	}
	return "discover:" + scope + ":" + since
}

const discoveryCacheSize = 512

// LRUCache is the in-process DiscoveryCache, used when no Redis is
// configured.
type LRUCache struct {
	lru *expirable.LRU[string, map[string]any]
}

func NewLRUCache(ttl time.Duration) *LRUCache {
	return &LRUCache{
		lru: expirable.NewLRU[string, map[string]any](discoveryCacheSize, nil, ttl),
	}
}

func (c *LRUCache) Get(ctx context.Context, key string) (map[string]any, bool) {
	return c.lru.Get(key)
}

func (c *LRUCache) Set(ctx context.Context, key string, value map[string]any) {
	c.lru.Add(key, value)
}

// RedisCache is the shared DiscoveryCache for multi-instance deployments.
// Values are stored as JSON with the TTL enforced server side.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts), ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (map[string]any, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var value map[string]any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false
	}
	return value, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value map[string]any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.client.Set(ctx, key, data, c.ttl)
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
