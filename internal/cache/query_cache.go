package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"weather-pipeline/pkg/logging"
)

const (
	keyPrefix     = "wx:query"
	generationKey = keyPrefix + ":generation"
)

// QueryCache is a Redis read-through cache for query pages. Every key embeds
// a generation counter; Invalidate bumps it so all earlier entries become
// unreachable and age out through their TTL.
type QueryCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *logging.StructuredLogger
}

// Dial connects to addr and verifies the connection
func Dial(ctx context.Context, addr string, ttl time.Duration, logger *logging.StructuredLogger) (*QueryCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info(ctx, "[CACHE_INIT] Query cache connected", logging.Fields{
		"addr": addr,
		"ttl":  ttl.String(),
	})
	return New(client, ttl, logger), nil
}

// New wraps an existing client
func New(client redis.UniversalClient, ttl time.Duration, logger *logging.StructuredLogger) *QueryCache {
	return &QueryCache{client: client, ttl: ttl, logger: logger}
}

// Get loads the value cached for (dataset, key) under generation gen into dest
func (c *QueryCache) Get(ctx context.Context, gen int64, dataset, key string, dest interface{}) (bool, error) {
	raw, err := c.client.Get(ctx, c.key(gen, dataset, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get: %w", err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("cache decode: %w", err)
	}
	return true, nil
}

// Set stores value under generation gen. Callers pass the generation they
// read before querying the store, so a page built across an Invalidate
// lands in the orphaned generation.
func (c *QueryCache) Set(ctx context.Context, gen int64, dataset, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}

	if err := c.client.Set(ctx, c.key(gen, dataset, key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Generation returns the current cache generation; 0 before the first bump
func (c *QueryCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache generation: %w", err)
	}
	return gen, nil
}

// Invalidate advances the generation, orphaning every cached page
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	gen, err := c.client.Incr(ctx, generationKey).Result()
	if err != nil {
		return 0, fmt.Errorf("cache invalidate: %w", err)
	}

	c.logger.Info(ctx, "[CACHE_INVALIDATE] Query cache generation advanced", logging.Fields{
		"generation": gen,
	})
	return gen, nil
}

// Close closes the underlying client
func (c *QueryCache) Close() error {
	return c.client.Close()
}

func (c *QueryCache) key(gen int64, dataset, key string) string {
	return fmt.Sprintf("%s:%d:%s:%s", keyPrefix, gen, dataset, key)
}
