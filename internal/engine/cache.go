package engine

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionKey = "authz:resolve:version"
	bumpChannel     = "authz.bump"
)

// Cache is a Redis-backed resolution cache with a global version
// counter. Keys embed the current version, so any write to roles,
// permissions, groups, resources, or principals invalidates every
// cached result with a single version bump; the bump is also
// published so other processes learn about it. All methods are
// nil-safe: a nil cache disables caching without branching at call
// sites.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising it when
// missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	version, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Key composes a cache key with the current version appended.
func (c *Cache) Key(ctx context.Context, parts ...string) (string, error) {
	joined := "authz:resolve:" + strings.Join(parts, ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	version, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return joined + ":" + strconv.FormatInt(version, 10), nil
}

// Get loads a cached value into dest, reporting whether the key was
// present.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	if c == nil || c.client == nil {
		return false, nil
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores a value under key with the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	if c == nil || c.client == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, c.ttl).Err()
}

// Bump invalidates every cached resolution by incrementing the global
// version and publishing the new version on the bump channel.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	version, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(version, 10)).Err()
}

// Subscribe blocks on the bump channel, invoking fn with each
// published version until the context is cancelled.
func (c *Cache) Subscribe(ctx context.Context, fn func(version int64)) error {
	if c == nil || c.client == nil {
		return nil
	}
	sub := c.client.Subscribe(ctx, bumpChannel)
	defer func() { _ = sub.Close() }()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			version, err := strconv.ParseInt(msg.Payload, 10, 64)
			if err != nil {
				continue
			}
			if fn != nil {
				fn(version)
			}
		}
	}
}
