package services

import (
	"sync"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
)

// DefaultTimelineCapacity bounds a live session's rolling findings.
const DefaultTimelineCapacity = 200

// FindingTimeline is the rolling list of a live session's findings. The
// oldest entries are dropped once the capacity is reached.
type FindingTimeline struct {
	mu       sync.RWMutex
	capacity int
	entries  []entities.TimelineEntry
}

// NewFindingTimeline creates a timeline holding at most capacity entries
func NewFindingTimeline(capacity int) *FindingTimeline {
	if capacity <= 0 {
		capacity = DefaultTimelineCapacity
	}
	return &FindingTimeline{capacity: capacity}
}

// Add appends an entry, evicting the oldest when full.
func (t *FindingTimeline) Add(entry entities.TimelineEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries, entry)
	if over := len(t.entries) - t.capacity; over > 0 {
		t.entries = append(t.entries[:0:0], t.entries[over:]...)
	}
}

// Entries returns a copy of the timeline, oldest first.
func (t *FindingTimeline) Entries() []entities.TimelineEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]entities.TimelineEntry{}, t.entries...)
}

// Lines renders every entry as "[HH:MM:SS] finding".
func (t *FindingTimeline) Lines() []string {
	entries := t.Entries()
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.Line()
	}
	return lines
}

// Len returns the number of entries.
func (t *FindingTimeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Clear drops every entry.
func (t *FindingTimeline) Clear() {
	t.mu.Lock()
	t.entries = nil
	t.mu.Unlock()
}
