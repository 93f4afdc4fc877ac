package events

import (
	"sync"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
)

const subscriberBuffer = 100

// hub fans events out to local subscriber channels. Slow subscribers drop
// events rather than block the publisher.
type hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan *entities.SessionEvent]struct{}
}

func newHub() *hub {
	return &hub{subscribers: make(map[string]map[chan *entities.SessionEvent]struct{})}
}

// add registers a subscriber and reports whether it is the channel's first.
func (h *hub) add(channel string) (chan *entities.SessionEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	first := false
	if h.subscribers[channel] == nil {
		h.subscribers[channel] = make(map[chan *entities.SessionEvent]struct{})
		first = true
	}
	ch := make(chan *entities.SessionEvent, subscriberBuffer)
	h.subscribers[channel][ch] = struct{}{}
	return ch, first
}

// remove unregisters a subscriber and reports whether the channel is now empty.
func (h *hub) remove(channel string, ch chan *entities.SessionEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[channel]
	if !ok {
		return false
	}
	if _, ok := subs[ch]; !ok {
		return false
	}
	delete(subs, ch)
	close(ch)

	if len(subs) == 0 {
		delete(h.subscribers, channel)
		return true
	}
	return false
}

func (h *hub) broadcast(channel string, event *entities.SessionEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers[channel] {
		select {
		case sub <- event:
		default:
			observability.GetLogger().Warn().
				Str("channel", channel).
				Str("event_id", event.ID).
				Msg("subscriber channel full, dropping event")
		}
	}
}

func (h *hub) closeChannel(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subscribers[channel] {
		close(sub)
	}
	delete(h.subscribers, channel)
}

func (h *hub) channels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.subscribers))
	for channel := range h.subscribers {
		out = append(out, channel)
	}
	return out
}
