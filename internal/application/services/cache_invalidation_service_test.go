package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/procedurecopilot/backend/internal/adapters/cache"
	"github.com/zatekoja/procedurecopilot/backend/internal/adapters/events"
	"github.com/zatekoja/procedurecopilot/backend/internal/application/services"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
)

func TestCacheInvalidationService_EvictsOnStatusChange(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryAdapter(nil)
	bus := events.NewMemoryEventBus()
	defer bus.Close()

	keysFor := func(id string) []string { return []string{"summary:" + id} }
	svc := services.NewCacheInvalidationService(store, bus, keysFor)
	require.NoError(t, svc.Start())
	defer svc.Stop()

	require.NoError(t, store.Set(ctx, "summary:s-1", []byte("cached"), 0))
	require.NoError(t, store.Set(ctx, "summary:s-2", []byte("cached"), 0))

	publish := func(id string, typ entities.SessionEventType) {
		require.NoError(t, bus.Publish(ctx, providers.EventChannelSessionUpdates, entities.NewSessionEvent(id, typ, nil)))
	}

	publish("s-1", entities.SessionEventProgress)
	publish("s-2", entities.SessionEventFinalized)
	require.Eventually(t, func() bool {
		ok, _ := store.Exists(ctx, "summary:s-2")
		return !ok
	}, time.Second, 5*time.Millisecond)

	ok, err := store.Exists(ctx, "summary:s-1")
	require.NoError(t, err)
	assert.True(t, ok, "progress events keep the cache")

	publish("s-1", entities.SessionEventStatus)
	require.Eventually(t, func() bool {
		ok, _ := store.Exists(ctx, "summary:s-1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}
