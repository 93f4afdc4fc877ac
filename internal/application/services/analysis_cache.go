package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
	"github.com/zatekoja/procedurecopilot/backend/pkg/config"
)

// ErrInFlight means another caller is already analyzing the frame.
var ErrInFlight = errors.New("analysis already in flight")

// SubmitMode decides what a caller does when the frame is already in flight.
type SubmitMode int

const (
	// ModeAwait waits for the in-flight result (batch pipeline).
	ModeAwait SubmitMode = iota
	// ModeSkip returns ErrInFlight immediately (live capture).
	ModeSkip
)

// AnalysisRequest identifies one frame analysis.
type AnalysisRequest struct {
	SessionID  string
	Kind       entities.SessionKind
	FrameIndex int
	Mode       SubmitMode
}

// AnalyzeFunc produces the analysis on a cache miss.
type AnalyzeFunc func(ctx context.Context) (*entities.AnalysisResult, error)

type inflightCall struct {
	done   chan struct{}
	result *entities.AnalysisResult
	err    error
}

// AnalysisCache maps (session, frame index) to its analysis and guarantees at
// most one analysis in flight per key. A local call table serializes callers
// in this process; a SETNX claim in the shared cache serializes processes.
// The claim is renewed while the analysis runs and released only by its owner.
//
// Recorded session entries are stored without expiry until ReleaseSession;
// live session entries get the short live TTL.
type AnalysisCache struct {
	cache   providers.CacheProvider
	cfg     config.CacheConfig
	metrics *observability.Metrics
	owner   string

	// PollInterval is how often a waiter checks a claim held by another process.
	PollInterval time.Duration
	// RenewInterval is how often a running analysis extends its claim.
	RenewInterval time.Duration

	mu       sync.Mutex
	inflight map[string]*inflightCall
}

// NewAnalysisCache creates a new analysis cache
func NewAnalysisCache(cache providers.CacheProvider, cfg config.CacheConfig, metrics *observability.Metrics) *AnalysisCache {
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 5 * time.Minute
	}
	return &AnalysisCache{
		cache:         cache,
		cfg:           cfg,
		metrics:       metrics,
		owner:         uuid.NewString(),
		PollInterval:  200 * time.Millisecond,
		RenewInterval: cfg.ClaimTTL / 3,
		inflight:      make(map[string]*inflightCall),
	}
}

func resultKey(sessionID string, frameIndex int) string {
	return fmt.Sprintf("analysis:%s:%d", sessionID, frameIndex)
}

func claimKey(sessionID string, frameIndex int) string {
	return fmt.Sprintf("analysis:claim:%s:%d", sessionID, frameIndex)
}

// Get returns the cached analysis for a frame, if any.
func (c *AnalysisCache) Get(ctx context.Context, sessionID string, frameIndex int) (*entities.AnalysisResult, bool, error) {
	return c.read(ctx, resultKey(sessionID, frameIndex))
}

// GetOrSubmit returns the cached analysis or runs fn, with at most one fn in
// flight per frame across all callers.
func (c *AnalysisCache) GetOrSubmit(ctx context.Context, req AnalysisRequest, fn AnalyzeFunc) (*entities.AnalysisResult, error) {
	result, call, err := c.acquire(ctx, req)
	if err != nil || call == nil {
		return result, err
	}
	return c.execute(ctx, req, call, fn)
}

// SubmitAsync claims the frame and runs fn in the background, delivering the
// outcome to done. It returns ErrInFlight without running anything when the
// frame is already in flight. A cached result is delivered to done as well.
func (c *AnalysisCache) SubmitAsync(ctx context.Context, req AnalysisRequest, fn AnalyzeFunc, done func(*entities.AnalysisResult, error)) error {
	req.Mode = ModeSkip
	result, call, err := c.acquire(ctx, req)
	if err != nil {
		return err
	}
	if call == nil {
		go done(result, nil)
		return nil
	}
	go func() {
		done(c.execute(ctx, req, call, fn))
	}()
	return nil
}

// InFlight reports whether this process is analyzing the frame.
func (c *AnalysisCache) InFlight(sessionID string, frameIndex int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[resultKey(sessionID, frameIndex)]
	return ok
}

// ReleaseSession applies the recorded TTL to a finished session's entries.
func (c *AnalysisCache) ReleaseSession(ctx context.Context, sessionID string, frameIndexes []int) error {
	ttl := int(c.cfg.RecordedTTL.Seconds())
	if ttl <= 0 {
		return nil
	}
	var errs []error
	for _, idx := range frameIndexes {
		if err := c.cache.Expire(ctx, resultKey(sessionID, idx), ttl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// acquire returns either a finished result (call == nil) or ownership of the
// frame (call != nil) that the caller must finish through execute.
func (c *AnalysisCache) acquire(ctx context.Context, req AnalysisRequest) (*entities.AnalysisResult, *inflightCall, error) {
	key := resultKey(req.SessionID, req.FrameIndex)

	if result, ok, err := c.read(ctx, key); err != nil {
		return nil, nil, err
	} else if ok {
		observability.RecordCacheHit(ctx, c.metrics, string(req.Kind))
		return result, nil, nil
	}
	observability.RecordCacheMiss(ctx, c.metrics, string(req.Kind))

	c.mu.Lock()
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		if req.Mode == ModeSkip {
			return nil, nil, ErrInFlight
		}
		result, err := c.wait(ctx, call)
		return result, nil, err
	}
	call := &inflightCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	claim := claimKey(req.SessionID, req.FrameIndex)
	for {
		ok, err := c.cache.SetNX(ctx, claim, []byte(c.owner), c.claimSeconds())
		if err != nil {
			c.finish(key, call, nil, err)
			return nil, nil, err
		}
		if ok {
			break
		}
		if req.Mode == ModeSkip {
			c.finish(key, call, nil, ErrInFlight)
			return nil, nil, ErrInFlight
		}

		result, err := c.awaitRemote(ctx, key, claim)
		if err != nil || result != nil {
			c.finish(key, call, result, err)
			return result, nil, err
		}
	}

	// A result may have landed between the first read and the claim.
	if result, ok, err := c.read(ctx, key); err == nil && ok {
		c.release(ctx, claim)
		c.finish(key, call, result, nil)
		return result, nil, nil
	}

	return nil, call, nil
}

func (c *AnalysisCache) execute(ctx context.Context, req AnalysisRequest, call *inflightCall, fn AnalyzeFunc) (*entities.AnalysisResult, error) {
	key := resultKey(req.SessionID, req.FrameIndex)
	claim := claimKey(req.SessionID, req.FrameIndex)

	stop := c.holdClaim(ctx, claim)
	result, err := fn(ctx)
	stop()
	if err == nil && result != nil {
		if storeErr := c.store(ctx, key, req.Kind, result); storeErr != nil {
			observability.LoggerFromContext(ctx).Warn().Err(storeErr).
				Str("session_id", req.SessionID).
				Int("frame_index", req.FrameIndex).
				Msg("failed to cache analysis result")
		}
	}

	c.release(context.WithoutCancel(ctx), claim)
	c.finish(key, call, result, err)
	return result, err
}

// holdClaim renews this process's claim until the returned stop func is
// called or the claim turns out to belong to someone else.
func (c *AnalysisCache) holdClaim(ctx context.Context, claim string) func() {
	if c.RenewInterval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.RenewInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			held, err := c.cache.ExpireIfValue(ctx, claim, []byte(c.owner), c.claimSeconds())
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				observability.LoggerFromContext(ctx).Warn().Err(err).Str("key", claim).Msg("failed to renew analysis claim")
				continue
			}
			if !held {
				observability.LoggerFromContext(ctx).Warn().Str("key", claim).Msg("analysis claim lost while running")
				return
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// release drops the claim if this process still owns it.
func (c *AnalysisCache) release(ctx context.Context, claim string) {
	if _, err := c.cache.DeleteIfValue(ctx, claim, []byte(c.owner)); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("key", claim).Msg("failed to release analysis claim")
	}
}

func (c *AnalysisCache) claimSeconds() int {
	if s := int(c.cfg.ClaimTTL.Seconds()); s > 0 {
		return s
	}
	return 1
}

func (c *AnalysisCache) finish(key string, call *inflightCall, result *entities.AnalysisResult, err error) {
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()

	call.result, call.err = result, err
	close(call.done)
}

func (c *AnalysisCache) wait(ctx context.Context, call *inflightCall) (*entities.AnalysisResult, error) {
	select {
	case <-call.done:
		return call.result, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// awaitRemote waits for another process's result. It returns (nil, nil) when
// the claim lapsed without a result so the caller can claim again.
func (c *AnalysisCache) awaitRemote(ctx context.Context, key, claim string) (*entities.AnalysisResult, error) {
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		if result, ok, err := c.read(ctx, key); err != nil {
			return nil, err
		} else if ok {
			return result, nil
		}

		held, err := c.cache.Exists(ctx, claim)
		if err != nil {
			return nil, err
		}
		if !held {
			return nil, nil
		}
	}
}

func (c *AnalysisCache) read(ctx context.Context, key string) (*entities.AnalysisResult, bool, error) {
	data, err := c.cache.Get(ctx, key)
	if errors.Is(err, providers.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var result entities.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		_ = c.cache.Delete(ctx, key)
		return nil, false, nil
	}
	return &result, true, nil
}

func (c *AnalysisCache) store(ctx context.Context, key string, kind entities.SessionKind, result *entities.AnalysisResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	ttl := 0
	if kind == entities.SessionKindLive {
		ttl = int(c.cfg.LiveTTL.Seconds())
	}
	return c.cache.Set(ctx, key, data, ttl)
}
