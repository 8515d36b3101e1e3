package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces cache keys.
const DefaultRedisPrefix = "sessions:identity:"

// Redis is a cache tier shared by workers. Failures degrade to misses.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis connects to the Redis server at url (redis://host:port/db).
func NewRedis(ctx context.Context, url string, ttl time.Duration, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisFromClient(client, ttl, logger), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, prefix: DefaultRedisPrefix, ttl: ttl, logger: logger}
}

func (c *Redis) Get(ctx context.Context, key string) (string, bool) {
	id, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("identity cache get failed", "key", key, "err", err)
		}
		return "", false
	}
	return id, true
}

func (c *Redis) Put(ctx context.Context, key, sessionID string) {
	if err := c.client.Set(ctx, c.prefix+key, sessionID, c.ttl).Err(); err != nil {
		c.logger.Warn("identity cache put failed", "key", key, "err", err)
	}
}

// Close closes the underlying client.
func (c *Redis) Close() error {
	return c.client.Close()
}
