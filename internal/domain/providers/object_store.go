package providers

import (
	"context"
	"io"
	"time"
)

// ObjectStore is a key-addressed blob store
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)

	// DownloadURL returns a time-limited reference to the object.
	DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error)
}
