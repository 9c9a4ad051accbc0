package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the Redis connection used for a shared plan cache.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// RedisCache shares cached plans between several mcpdesk processes. Strings
// and byte slices are stored as they are; other values are stored as JSON and
// read back as strings.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg RedisConfig, ttl time.Duration) (*RedisCache, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return newRedisCache(client, cfg.Prefix, ttl), nil
}

func newRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "mcpdesk:cache:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Get retrieves an item from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) (interface{}, error) {
	if err := contextDone(ctx); err != nil {
		return nil, err
	}
	value, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item not found", nil))
	}
	if err != nil {
		return nil, errbuilder.GenericErr("redis get failed", err)
	}
	return value, nil
}

// Set stores an item with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}) error {
	if err := contextDone(ctx); err != nil {
		return err
	}
	payload, err := encodeValue(value)
	if err != nil {
		return err
	}
	ttl := c.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, c.prefix+key, payload, ttl).Err(); err != nil {
		return errbuilder.GenericErr("redis set failed", err)
	}
	return nil
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func encodeValue(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", errbuilder.GenericErr("failed to encode cache value", err)
	}
	return string(data), nil
}
