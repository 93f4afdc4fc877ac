package services

import (
	"context"
	"fmt"
	"time"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
)

// CacheKeysFunc returns the cache keys holding responses derived from a session.
type CacheKeysFunc func(sessionID string) []string

// CacheInvalidationService evicts cached responses when a session changes state
type CacheInvalidationService struct {
	cache    providers.CacheProvider
	eventBus providers.EventBus
	keysFor  CacheKeysFunc
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCacheInvalidationService creates a new cache invalidation service
func NewCacheInvalidationService(cache providers.CacheProvider, eventBus providers.EventBus, keysFor CacheKeysFunc) *CacheInvalidationService {
	ctx, cancel := context.WithCancel(context.Background())
	return &CacheInvalidationService{
		cache:    cache,
		eventBus: eventBus,
		keysFor:  keysFor,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start begins listening for session events
func (s *CacheInvalidationService) Start() error {
	eventChan, err := s.eventBus.Subscribe(s.ctx, providers.EventChannelSessionUpdates)
	if err != nil {
		return fmt.Errorf("failed to subscribe to session updates: %w", err)
	}

	go s.processEvents(eventChan)
	observability.GetLogger().Info().Msg("cache invalidation service started")
	return nil
}

// Stop stops the cache invalidation service
func (s *CacheInvalidationService) Stop() {
	s.cancel()
	<-s.done
}

func (s *CacheInvalidationService) processEvents(eventChan <-chan *entities.SessionEvent) {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if event == nil {
				continue
			}
			s.handleEvent(event)
		}
	}
}

// handleEvent evicts on status changes and finalization. Progress and
// finding events never change what the cached routes return.
func (s *CacheInvalidationService) handleEvent(event *entities.SessionEvent) {
	if event.Type != entities.SessionEventStatus && event.Type != entities.SessionEventFinalized {
		return
	}
	if err := s.InvalidateSession(s.ctx, event.SessionID); err != nil {
		observability.GetLogger().Warn().Err(err).Str("session_id", event.SessionID).Msg("failed to invalidate session cache")
	}
}

// InvalidateSession evicts every cached response derived from a session
func (s *CacheInvalidationService) InvalidateSession(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	for _, key := range s.keysFor(sessionID) {
		if err := s.cache.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return nil
}
