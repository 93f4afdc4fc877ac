package services

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInactivityMonitor_SupersededTimerDoesNotExpire(t *testing.T) {
	var fired atomic.Int32
	monitor := NewInactivityMonitor(time.Hour, func() { fired.Add(1) })

	monitor.Reset()
	stale := monitor.gen
	monitor.Reset()
	assert.False(t, monitor.expireIfCurrent(stale), "timer from before Reset")
	assert.Zero(t, fired.Load())

	current := monitor.gen
	monitor.Stop()
	assert.False(t, monitor.expireIfCurrent(current), "timer from before Stop")
	assert.Zero(t, fired.Load())
	assert.False(t, monitor.Fired())

	assert.True(t, monitor.Expire(), "explicit expiry still finalizes")
	assert.EqualValues(t, 1, fired.Load())
}

func TestInactivityMonitor_CurrentTimerExpiresOnce(t *testing.T) {
	var fired atomic.Int32
	monitor := NewInactivityMonitor(time.Hour, func() { fired.Add(1) })

	monitor.Reset()
	current := monitor.gen
	assert.True(t, monitor.expireIfCurrent(current))
	assert.False(t, monitor.expireIfCurrent(current))
	assert.False(t, monitor.Expire())
	assert.EqualValues(t, 1, fired.Load())
}
