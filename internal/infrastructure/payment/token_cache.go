package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// TokenCache keeps provider access tokens until shortly before they expire.
type TokenCache interface {
	Get(ctx context.Context, key string) (Token, bool, error)
	Set(ctx context.Context, key string, token Token) error
}

type MemoryTokenCache struct {
	mu      sync.Mutex
	entries map[string]Token
	Now     func() time.Time
}

func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{
		entries: map[string]Token{},
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

func (c *MemoryTokenCache) Get(_ context.Context, key string) (Token, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	token, ok := c.entries[key]
	if !ok {
		return Token{}, false, nil
	}
	if token.Expired(c.Now()) {
		delete(c.entries, key)
		return Token{}, false, nil
	}
	return token, true, nil
}

func (c *MemoryTokenCache) Set(_ context.Context, key string, token Token) error {
	if token.ExpiresAt.IsZero() || token.Expired(c.Now()) {
		return nil
	}
	c.mu.Lock()
	c.entries[key] = token
	c.mu.Unlock()
	return nil
}

// RedisTokenCache shares tokens between replicas.
type RedisTokenCache struct {
	client *redis.Client
	prefix string
	Now    func() time.Time
}

func NewRedisTokenCache(ctx context.Context, redisURL string) (*RedisTokenCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("payment: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("payment: ping redis: %w", err)
	}
	return NewRedisTokenCacheFromClient(client), nil
}

func NewRedisTokenCacheFromClient(client *redis.Client) *RedisTokenCache {
	return &RedisTokenCache{
		client: client,
		prefix: "payments:token:",
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

func (c *RedisTokenCache) Get(ctx context.Context, key string) (Token, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, err
	}
	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return Token{}, false, err
	}
	if token.Expired(c.Now()) {
		return Token{}, false, nil
	}
	return token, true, nil
}

func (c *RedisTokenCache) Set(ctx context.Context, key string, token Token) error {
	if token.ExpiresAt.IsZero() {
		return nil
	}
	ttl := token.ExpiresAt.Sub(c.Now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, data, ttl).Err()
}

func (c *RedisTokenCache) Close() error {
	return c.client.Close()
}
