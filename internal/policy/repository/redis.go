package repository

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces policy documents in a shared Redis.
const redisKeyPrefix = "policy:"

// RedisSource reads policy documents stored as JSON strings under policy:<key>.
type RedisSource struct {
	client *redis.Client
}

// NewRedisSource parses a redis:// URL and returns a Source. Call Close when shutting down.
func NewRedisSource(url string) (*RedisSource, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisSource{client: redis.NewClient(opts)}, nil
}

// NewRedisSourceWithClient wraps an existing client.
func NewRedisSourceWithClient(client *redis.Client) *RedisSource {
	return &RedisSource{client: client}
}

// Get returns the document for key, or nil if it is not set.
func (s *RedisSource) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return raw, nil
}

// PutIfAbsent stores the document with SET NX.
func (s *RedisSource) PutIfAbsent(ctx context.Context, key string, doc []byte) (bool, error) {
	return s.client.SetNX(ctx, redisKeyPrefix+key, doc, 0).Result()
}

// HealthCheck pings Redis.
func (s *RedisSource) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisSource) Close() error {
	return s.client.Close()
}
