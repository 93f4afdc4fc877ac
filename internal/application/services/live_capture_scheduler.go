package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
)

// DefaultCaptureInterval is the live capture cadence.
const DefaultCaptureInterval = 2 * time.Second

const gatePollInterval = 10 * time.Millisecond

// Tick outcomes.
const (
	TickSubmitted = "submitted"
	TickSkipped   = "skipped"
	TickIdle      = "idle"
	TickFailed    = "failed"
)

// FrameSlot holds only the most recent live frame. A newer frame overwrites
// an unconsumed one.
type FrameSlot struct {
	mu        sync.Mutex
	frame     *entities.Frame
	overwrote uint64
}

// Put stores the frame and reports whether an unconsumed frame was replaced.
func (s *FrameSlot) Put(frame *entities.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := s.frame != nil
	if replaced {
		s.overwrote++
	}
	s.frame = frame
	return replaced
}

// Take removes and returns the frame, if any.
func (s *FrameSlot) Take() (*entities.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.frame
	s.frame = nil
	return f, f != nil
}

// Restore puts a frame back unless a newer one arrived meanwhile.
func (s *FrameSlot) Restore(frame *entities.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		s.frame = frame
	}
}

// Overwritten returns how many frames were replaced before being consumed.
func (s *FrameSlot) Overwritten() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overwrote
}

// SubmitFunc hands a frame to analysis. On success it must call done exactly
// once when the analysis finishes; ErrInFlight means the frame was not taken.
type SubmitFunc func(ctx context.Context, frame *entities.Frame, done func()) error

// LiveCaptureScheduler submits the latest frame of a live session on a fixed
// cadence, with at most one analysis outstanding per session.
type LiveCaptureScheduler struct {
	sessionID string
	interval  time.Duration
	slot      *FrameSlot
	submit    SubmitFunc
	metrics   *observability.Metrics

	// OnActivity runs after every submitted tick.
	OnActivity func()

	inFlight atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewLiveCaptureScheduler creates a stopped scheduler
func NewLiveCaptureScheduler(sessionID string, interval time.Duration, slot *FrameSlot, submit SubmitFunc, metrics *observability.Metrics) *LiveCaptureScheduler {
	if interval <= 0 {
		interval = DefaultCaptureInterval
	}
	return &LiveCaptureScheduler{
		sessionID: sessionID,
		interval:  interval,
		slot:      slot,
		submit:    submit,
		metrics:   metrics,
	}
}

// Start begins ticking. Starting a running scheduler is a no-op.
func (s *LiveCaptureScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	s.cancel, s.stopped = cancel, stopped

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop suspends ticking and waits for the tick loop to exit. An analysis
// already submitted still completes.
func (s *LiveCaptureScheduler) Stop() {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.cancel, s.stopped = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// Running reports whether the scheduler is ticking.
func (s *LiveCaptureScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Busy reports whether an analysis is outstanding.
func (s *LiveCaptureScheduler) Busy() bool {
	return s.inFlight.Load()
}

// Acquire takes the analysis gate for an analysis outside the cadence,
// waiting for an outstanding one to finish. Ticks are skipped until the
// returned release func is called.
func (s *LiveCaptureScheduler) Acquire(ctx context.Context) (func(), error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		ticker := time.NewTicker(gatePollInterval)
		defer ticker.Stop()
		for !s.inFlight.CompareAndSwap(false, true) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
			}
		}
	}

	var once sync.Once
	return func() { once.Do(func() { s.inFlight.Store(false) }) }, nil
}

// Tick runs one capture step and returns its outcome.
func (s *LiveCaptureScheduler) Tick(ctx context.Context) string {
	outcome := s.tick(ctx)
	observability.RecordLiveTick(ctx, s.metrics, outcome)
	return outcome
}

func (s *LiveCaptureScheduler) tick(ctx context.Context) string {
	if !s.inFlight.CompareAndSwap(false, true) {
		return TickSkipped
	}

	frame, ok := s.slot.Take()
	if !ok {
		s.inFlight.Store(false)
		return TickIdle
	}

	var once sync.Once
	release := func() { once.Do(func() { s.inFlight.Store(false) }) }

	if err := s.submit(ctx, frame, release); err != nil {
		release()
		if errors.Is(err, ErrInFlight) {
			s.slot.Restore(frame)
			return TickSkipped
		}
		observability.LoggerFromContext(ctx).Warn().Err(err).
			Str("session_id", s.sessionID).
			Int("frame_index", frame.Index).
			Msg("live capture submit failed")
		return TickFailed
	}

	if s.OnActivity != nil {
		s.OnActivity()
	}
	return TickSubmitted
}
