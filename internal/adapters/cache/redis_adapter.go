package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	redisclient "github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/clients/redis"
)

var (
	expireIfValueScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[2]) > 0 then
	redis.call("EXPIRE", KEYS[1], ARGV[2])
else
	redis.call("PERSIST", KEYS[1])
end
return 1
`)

	deleteIfValueScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
return redis.call("DEL", KEYS[1])
`)
)

// RedisAdapter implements the CacheProvider interface using Redis
type RedisAdapter struct {
	client *redisclient.Client
}

// NewRedisAdapter creates a new Redis cache adapter
func NewRedisAdapter(client *redisclient.Client) providers.CacheProvider {
	return &RedisAdapter{
		client: client,
	}
}

// Get retrieves a value from cache
func (a *RedisAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := a.client.Client().Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", providers.ErrCacheMiss, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}
	return result, nil
}

// Set stores a value in cache with expiration
func (a *RedisAdapter) Set(ctx context.Context, key string, value []byte, expirationSeconds int) error {
	if err := a.client.Client().Set(ctx, key, value, seconds(expirationSeconds)).Err(); err != nil {
		return fmt.Errorf("failed to set in cache: %w", err)
	}
	return nil
}

// SetNX stores a value only if the key is absent
func (a *RedisAdapter) SetNX(ctx context.Context, key string, value []byte, expirationSeconds int) (bool, error) {
	ok, err := a.client.Client().SetNX(ctx, key, value, seconds(expirationSeconds)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim cache key: %w", err)
	}
	return ok, nil
}

// Expire sets a new expiration on a key; zero removes the expiration
func (a *RedisAdapter) Expire(ctx context.Context, key string, expirationSeconds int) error {
	var err error
	if expirationSeconds <= 0 {
		err = a.client.Client().Persist(ctx, key).Err()
	} else {
		err = a.client.Client().Expire(ctx, key, seconds(expirationSeconds)).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to update cache expiration: %w", err)
	}
	return nil
}

// ExpireIfValue renews the expiration of a key that still holds value
func (a *RedisAdapter) ExpireIfValue(ctx context.Context, key string, value []byte, expirationSeconds int) (bool, error) {
	n, err := expireIfValueScript.Run(ctx, a.client.Client(), []string{key}, value, expirationSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to renew cache key: %w", err)
	}
	return n == 1, nil
}

// DeleteIfValue removes a key that still holds value
func (a *RedisAdapter) DeleteIfValue(ctx context.Context, key string, value []byte) (bool, error) {
	n, err := deleteIfValueScript.Run(ctx, a.client.Client(), []string{key}, value).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release cache key: %w", err)
	}
	return n == 1, nil
}

// Delete removes a value from cache
func (a *RedisAdapter) Delete(ctx context.Context, key string) error {
	if err := a.client.Client().Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete from cache: %w", err)
	}
	return nil
}

// Exists checks if a key exists in cache
func (a *RedisAdapter) Exists(ctx context.Context, key string) (bool, error) {
	result, err := a.client.Client().Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence in cache: %w", err)
	}
	return result > 0, nil
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
