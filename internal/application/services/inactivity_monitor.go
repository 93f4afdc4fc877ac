package services

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInactivityThreshold is how long a live session may go without a
// capture tick before it is finalized.
const DefaultInactivityThreshold = 120 * time.Second

// InactivityMonitor is a single-shot timer that runs a finalizer once after a
// quiet period. Every Reset pushes the deadline out; the finalizer runs at
// most once no matter how often the timer or Expire fire.
type InactivityMonitor struct {
	threshold time.Duration
	onExpire  func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	stopped bool

	fired atomic.Bool
}

// NewInactivityMonitor creates a stopped monitor
func NewInactivityMonitor(threshold time.Duration, onExpire func()) *InactivityMonitor {
	if threshold <= 0 {
		threshold = DefaultInactivityThreshold
	}
	return &InactivityMonitor{threshold: threshold, onExpire: onExpire}
}

// Reset (re)arms the timer for a full threshold from now. It is a no-op once
// the monitor has fired or been stopped.
func (m *InactivityMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || m.fired.Load() {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.gen++
	gen := m.gen
	m.timer = time.AfterFunc(m.threshold, func() { m.expireIfCurrent(gen) })
}

// Expire runs the finalizer unless it already ran. It reports whether this
// call ran it.
func (m *InactivityMonitor) Expire() bool {
	m.mu.Lock()
	ok := m.markFired()
	m.mu.Unlock()
	return ok && m.run()
}

// expireIfCurrent is the timer callback. A timer that already started when
// Reset or Stop superseded it does nothing.
func (m *InactivityMonitor) expireIfCurrent(gen uint64) bool {
	m.mu.Lock()
	ok := !m.stopped && gen == m.gen && m.markFired()
	m.mu.Unlock()
	return ok && m.run()
}

// markFired must be called with mu held.
func (m *InactivityMonitor) markFired() bool {
	if !m.fired.CompareAndSwap(false, true) {
		return false
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	return true
}

func (m *InactivityMonitor) run() bool {
	if m.onExpire != nil {
		m.onExpire()
	}
	return true
}

// Stop disarms the timer without running the finalizer.
func (m *InactivityMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
	}
}

// Fired reports whether the finalizer has run.
func (m *InactivityMonitor) Fired() bool {
	return m.fired.Load()
}
