package cache

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryAdapter is an in-process CacheProvider used when Redis is not
// configured. Expiry is evaluated lazily against the injected clock.
type MemoryAdapter struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryAdapter creates an in-memory cache. A nil clock uses time.Now.
func NewMemoryAdapter(now func() time.Time) *MemoryAdapter {
	if now == nil {
		now = time.Now
	}
	return &MemoryAdapter{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}

func (a *MemoryAdapter) live(key string) (memoryEntry, bool) {
	e, ok := a.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !a.now().Before(e.expiresAt) {
		delete(a.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (a *MemoryAdapter) deadline(expirationSeconds int) time.Time {
	if expirationSeconds <= 0 {
		return time.Time{}
	}
	return a.now().Add(time.Duration(expirationSeconds) * time.Second)
}

// Get retrieves a value from cache
func (a *MemoryAdapter) Get(_ context.Context, key string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.live(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", providers.ErrCacheMiss, key)
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores a value in cache with expiration
func (a *MemoryAdapter) Set(_ context.Context, key string, value []byte, expirationSeconds int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	a.entries[key] = memoryEntry{value: stored, expiresAt: a.deadline(expirationSeconds)}
	return nil
}

// SetNX stores a value only if the key is absent
func (a *MemoryAdapter) SetNX(ctx context.Context, key string, value []byte, expirationSeconds int) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.live(key); ok {
		return false, nil
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	a.entries[key] = memoryEntry{value: stored, expiresAt: a.deadline(expirationSeconds)}
	return true, nil
}

// Expire sets a new expiration on a key; zero removes the expiration
func (a *MemoryAdapter) Expire(_ context.Context, key string, expirationSeconds int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.live(key)
	if !ok {
		return nil
	}
	e.expiresAt = a.deadline(expirationSeconds)
	a.entries[key] = e
	return nil
}

// ExpireIfValue renews the expiration of a key that still holds value
func (a *MemoryAdapter) ExpireIfValue(_ context.Context, key string, value []byte, expirationSeconds int) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.live(key)
	if !ok || !bytes.Equal(e.value, value) {
		return false, nil
	}
	e.expiresAt = a.deadline(expirationSeconds)
	a.entries[key] = e
	return true, nil
}

// DeleteIfValue removes a key that still holds value
func (a *MemoryAdapter) DeleteIfValue(_ context.Context, key string, value []byte) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.live(key)
	if !ok || !bytes.Equal(e.value, value) {
		return false, nil
	}
	delete(a.entries, key)
	return true, nil
}

// Delete removes a value from cache
func (a *MemoryAdapter) Delete(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.entries, key)
	return nil
}

// Exists checks if a key exists in cache
func (a *MemoryAdapter) Exists(_ context.Context, key string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.live(key)
	return ok, nil
}
