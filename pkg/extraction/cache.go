package extraction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/logger"
	"github.com/synaptica-ai/privacy-gateway/pkg/common/models"
)

// ErrCacheMiss is returned by Cache.Get when nothing is stored for a key.
var ErrCacheMiss = errors.New("extraction cache miss")

// Cache stores entity sets by text digest.
type Cache interface {
	Get(ctx context.Context, key string) (models.EntitySet, error)
	Set(ctx context.Context, key string, entities models.EntitySet, ttl time.Duration) error
}

const keyPrefix = "privacy-gateway:entities:"

// Key is the cache key for text. The text itself is never stored.
func Key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return keyPrefix + hex.EncodeToString(sum[:])
}

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (models.EntitySet, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var entities models.EntitySet
	if err := json.Unmarshal(raw, &entities); err != nil {
		return nil, fmt.Errorf("decode cached entities: %w", err)
	}
	return entities, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, entities models.EntitySet, ttl time.Duration) error {
	raw, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("encode entities: %w", err)
	}
	return c.client.Set(ctx, key, raw, ttl).Err()
}

// Cached wraps an Extractor with a cache. Cache errors are logged and
// treated as misses; only successful extractions are stored.
type Cached struct {
	next  Extractor
	cache Cache
	ttl   time.Duration
}

func NewCached(next Extractor, cache Cache, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache, ttl: ttl}
}

func (c *Cached) TryExtract(ctx context.Context, text string) (models.EntitySet, bool) {
	key := Key(text)
	entities, err := c.cache.Get(ctx, key)
	if err == nil {
		return entities, true
	}
	if !errors.Is(err, ErrCacheMiss) {
		logger.Log.WithError(err).Warn("Extraction cache read failed")
	}

	entities, ok := c.next.TryExtract(ctx, text)
	if !ok {
		return nil, false
	}
	if err := c.cache.Set(ctx, key, entities, c.ttl); err != nil {
		logger.Log.WithError(err).Warn("Extraction cache write failed")
	}
	return entities, true
}
