package providers

import (
	"context"
	"errors"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// CacheProvider defines the interface for caching operations
type CacheProvider interface {
	// Get retrieves a value from cache, returning ErrCacheMiss when absent
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration; zero means no expiry
	Set(ctx context.Context, key string, value []byte, expirationSeconds int) error

	// SetNX stores a value only if the key does not exist, atomically
	SetNX(ctx context.Context, key string, value []byte, expirationSeconds int) (bool, error)

	// Expire sets a new expiration on an existing key
	Expire(ctx context.Context, key string, expirationSeconds int) error

	// ExpireIfValue renews the expiration only while the key still holds value
	ExpireIfValue(ctx context.Context, key string, value []byte, expirationSeconds int) (bool, error)

	// DeleteIfValue removes the key only while it still holds value
	DeleteIfValue(ctx context.Context, key string, value []byte) (bool, error)

	// Delete removes a value from cache
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists in cache
	Exists(ctx context.Context, key string) (bool, error)
}
