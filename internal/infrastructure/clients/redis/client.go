// Package redis owns the connection shared by the analysis cache, the task
// queue and the session event bus.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
	"github.com/zatekoja/procedurecopilot/backend/pkg/config"
	"github.com/zatekoja/procedurecopilot/backend/pkg/retry"
)

// Client wraps the go-redis client
type Client struct {
	client *redis.Client
}

// NewClient connects with the configured pool size and retries the initial
// ping with backoff.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	client := redis.NewClient(opts)

	logger := observability.LoggerFromContext(ctx)
	err := retry.DoWithLog(ctx, retry.DefaultConfig(), "Redis",
		func() error { return client.Ping(ctx).Err() },
		func(attempt int, err error, nextDelay time.Duration) {
			logger.Warn().Err(err).
				Int("attempt", attempt).
				Dur("retry_in", nextDelay).
				Str("addr", opts.Addr).
				Msg("redis not reachable yet")
		},
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	logger.Info().Str("addr", opts.Addr).Int("pool_size", opts.PoolSize).Msg("connected to redis")
	return &Client{client: client}, nil
}

// NewFromClient wraps an existing go-redis client, typically one pointed at
// miniredis in tests.
func NewFromClient(client *redis.Client) *Client {
	return &Client{client: client}
}

// Client returns the underlying go-redis client
func (c *Client) Client() *redis.Client {
	return c.client
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.client.Close()
}
