package events

import (
	"context"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
)

// MemoryEventBus is a single-process EventBus used when Redis is unavailable.
type MemoryEventBus struct {
	hub *hub
}

// NewMemoryEventBus creates an in-process event bus
func NewMemoryEventBus() providers.EventBus {
	return &MemoryEventBus{hub: newHub()}
}

// Publish delivers the event to current subscribers of the channel
func (b *MemoryEventBus) Publish(_ context.Context, channel string, event *entities.SessionEvent) error {
	b.hub.broadcast(channel, event)
	return nil
}

// Subscribe subscribes to events on a channel until ctx is done
func (b *MemoryEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.SessionEvent, error) {
	ch, _ := b.hub.add(channel)
	go func() {
		<-ctx.Done()
		b.hub.remove(channel, ch)
	}()
	return ch, nil
}

// Unsubscribe closes all subscriptions to a channel
func (b *MemoryEventBus) Unsubscribe(_ context.Context, channel string) error {
	b.hub.closeChannel(channel)
	return nil
}

// Close closes every subscription
func (b *MemoryEventBus) Close() error {
	for _, channel := range b.hub.channels() {
		b.hub.closeChannel(channel)
	}
	return nil
}
