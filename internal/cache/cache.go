// Package cache is an optional Redis read-through cache for formatted
// entity documents. With no Redis URL configured every operation is a
// cheap no-op, so callers never branch on availability.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/openaleph/openaleph-search/internal/config"
	"github.com/openaleph/openaleph-search/internal/logger"
)

var log = logger.New("cache")

// Cache stores entity documents keyed by index and id.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New builds a cache from the configured Redis URL. An empty URL yields a
// disabled cache; a malformed URL is an error.
func New(settings *config.CacheSettings) (*Cache, error) {
	if settings == nil || settings.RedisURL == "" {
		return &Cache{}, nil
	}
	opts, err := redis.ParseURL(settings.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &Cache{
		client: redis.NewClient(opts),
		prefix: settings.Prefix,
		ttl:    settings.TTL,
	}, nil
}

// Enabled reports whether a Redis backend is attached.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}

func (c *Cache) key(index, id string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, index, id)
}

// GetMany fetches cached documents for the ids, returning found documents
// by id. Cache failures degrade to a miss.
func (c *Cache) GetMany(ctx context.Context, index string, ids []string) map[string]map[string]interface{} {
	out := map[string]map[string]interface{}{}
	if !c.Enabled() || len(ids) == 0 {
		return out
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(index, id)
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		log.Warn("Cache read failed", logger.String("error", err.Error()))
		return out
	}
	for i, value := range values {
		raw, ok := value.(string)
		if !ok || raw == "" {
			continue
		}
		doc := map[string]interface{}{}
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			log.Warn("Dropping undecodable cache entry",
				logger.String("key", keys[i]),
				logger.String("error", err.Error()))
			continue
		}
		out[ids[i]] = doc
	}
	return out
}

// SetMany stores documents by id. Failures are logged, not returned: the
// cache is an optimization, never a dependency.
func (c *Cache) SetMany(ctx context.Context, index string, docs map[string]map[string]interface{}) {
	if !c.Enabled() || len(docs) == 0 {
		return
	}
	pipe := c.client.Pipeline()
	for id, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			continue
		}
		pipe.Set(ctx, c.key(index, id), data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn("Cache write failed", logger.String("error", err.Error()))
	}
}

// Invalidate drops cached documents after a write or delete.
func (c *Cache) Invalidate(ctx context.Context, index string, ids ...string) {
	if !c.Enabled() || len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(index, id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Warn("Cache invalidation failed", logger.String("error", err.Error()))
	}
}
