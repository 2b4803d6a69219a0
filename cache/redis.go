package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/gatekeeper/observe"
)

// DefaultKeyPrefix namespaces gatekeeper's keys in a shared Redis.
const DefaultKeyPrefix = "gatekeeper:"

// RedisCache is a Cache backed by Redis, letting a fleet of instances share
// one copy of a fetched document.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	policy Policy
	logger observe.Logger
}

// RedisOption configures a RedisCache.
type RedisOption func(*RedisCache)

// WithKeyPrefix replaces DefaultKeyPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *RedisCache) {
		c.prefix = prefix
	}
}

// WithLogger reports backend errors, which Get otherwise hides as misses.
func WithLogger(l observe.Logger) RedisOption {
	return func(c *RedisCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewRedisCache wraps an existing client. The caller owns the client.
func NewRedisCache(client redis.UniversalClient, policy Policy, opts ...RedisOption) (*RedisCache, error) {
	if client == nil {
		return nil, ErrNilCache
	}
	c := &RedisCache{
		client: client,
		prefix: DefaultKeyPrefix,
		policy: policy,
		logger: observe.NoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// DialRedis parses a redis:// or rediss:// URL, connects and pings.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	return client, nil
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

// Get returns the stored value. Backend errors are logged and reported as a miss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn(ctx, "redis cache get failed", observe.F("key", key), observe.F("error", err))
		}
		return nil, false
	}
	return b, true
}

// Set stores value with the policy's effective TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	ttl = c.policy.EffectiveTTL(ttl)
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// Delete removes key. Idempotent.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("cache: redis del: %w", err)
	}
	return nil
}

var _ Cache = (*RedisCache)(nil)
