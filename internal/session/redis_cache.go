package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache keeps identities in Redis so they survive a portal restart while
// still expiring 24 hours after they were cached.
type RedisCache struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client), nil
}

func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: "identity:",
		now:    time.Now,
	}
}

func (c *RedisCache) key(sid string) string {
	return c.prefix + sid
}

func (c *RedisCache) Save(ctx context.Context, key string, id Identity) error {
	data, err := json.Marshal(entry{Identity: id, CachedAt: c.now()})
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, TTL).Err(); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

func (c *RedisCache) Lookup(ctx context.Context, key string) (*Identity, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup identity: %w", err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("unmarshal identity: %w", err)
	}
	if e.expired(c.now()) {
		if err := c.Clear(ctx, key); err != nil {
			return nil, err
		}
		return nil, nil
	}
	id := e.Identity
	return &id, nil
}

func (c *RedisCache) Clear(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("clear identity: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
