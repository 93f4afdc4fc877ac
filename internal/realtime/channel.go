// Package realtime drives the voice/data channel life cycle of a live session.
//
//	idle -> connecting -> offer_sent -> connected <-> {listening, speaking} -> closed
//
// error is reachable from every non-terminal state. The channel never touches
// session state; callers observe it through OnStateChange and OnMessage.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

// FindingPrefix marks injected findings in the conversation.
const FindingPrefix = "[New Finding]"

var transitions = map[entities.ChannelState][]entities.ChannelState{
	entities.ChannelIdle:       {entities.ChannelConnecting},
	entities.ChannelConnecting: {entities.ChannelOfferSent},
	entities.ChannelOfferSent:  {entities.ChannelConnected},
	entities.ChannelConnected:  {entities.ChannelListening, entities.ChannelSpeaking},
	entities.ChannelListening:  {entities.ChannelConnected, entities.ChannelSpeaking},
	entities.ChannelSpeaking:   {entities.ChannelConnected, entities.ChannelListening},
}

// CanTransition reports whether the channel may move from one state to another.
func CanTransition(from, to entities.ChannelState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == entities.ChannelError || to == entities.ChannelClosed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Options configures a Channel.
type Options struct {
	SessionID string
	Media     providers.MediaSource
	Transport providers.RealtimeTransport
	Session   SessionConfig
	Metrics   *observability.Metrics

	OnStateChange func(from, to entities.ChannelState)
	OnMessage     func(entities.ConversationMessage)
	Now           func() time.Time
}

// Channel is the signaling state machine for one live session.
type Channel struct {
	opts Options

	mu    sync.Mutex
	state entities.ChannelState
	err   error

	opened    chan struct{}
	done      chan struct{}
	started   atomic.Bool
	openOnce  sync.Once
	closeOnce sync.Once
	doneOnce  sync.Once
}

// NewChannel creates an idle channel.
func NewChannel(opts Options) *Channel {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Session == (SessionConfig{}) {
		opts.Session = DefaultSessionConfig()
	}
	return &Channel{
		opts:   opts,
		state:  entities.ChannelIdle,
		opened: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// State returns the current state.
func (c *Channel) State() entities.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that moved the channel to the error state.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once the channel reaches a terminal state and its event loop has exited.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Connect runs signaling and blocks until the data channel is open.
func (c *Channel) Connect(ctx context.Context) error {
	logger := observability.LoggerFromContext(ctx)

	if !c.transition(entities.ChannelConnecting) {
		return apperrors.NewChannelError(fmt.Sprintf("cannot connect from state %s", c.State()), nil)
	}

	offer, err := c.opts.Media.LocalDescription(ctx)
	if err != nil {
		return c.fail(fmt.Errorf("local description: %w", err))
	}
	if offer.Type != entities.DescriptionOffer || offer.SDP == "" {
		return c.fail(errors.New("local description is not an offer"))
	}
	if offer.SessionID == "" {
		offer.SessionID = c.opts.SessionID
	}

	if !c.transition(entities.ChannelOfferSent) {
		return apperrors.NewChannelError("channel closed during connect", nil)
	}

	answer, err := c.opts.Transport.Negotiate(ctx, offer)
	if err != nil {
		return c.fail(fmt.Errorf("negotiate: %w", err))
	}
	if answer.Type != entities.DescriptionAnswer || answer.SDP == "" {
		return c.fail(errors.New("remote description is not an answer"))
	}
	if answer.SessionID != offer.SessionID {
		return c.fail(fmt.Errorf("answer for session %q does not match offer %q", answer.SessionID, offer.SessionID))
	}

	c.started.Store(true)
	go c.run()

	select {
	case <-c.opened:
		logger.Info().Str("session_id", c.opts.SessionID).Msg("realtime channel connected")
		return nil
	case <-c.done:
		if err := c.Err(); err != nil {
			return err
		}
		return apperrors.NewChannelError("channel closed before opening", nil)
	case <-ctx.Done():
		return c.fail(fmt.Errorf("waiting for data channel: %w", ctx.Err()))
	}
}

// InjectFinding sends a validated finding as conversation context. It reports
// false when the channel is not open; the finding is dropped in that case.
func (c *Channel) InjectFinding(ctx context.Context, finding entities.Finding) bool {
	if !c.State().IsOpen() {
		observability.RecordInjection(ctx, c.opts.Metrics, "dropped")
		return false
	}

	text := FindingPrefix + " " + strings.ReplaceAll(finding.Text(), "\n", "; ")
	if err := c.opts.Transport.Send(ctx, contextMessage(text)); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).
			Str("session_id", c.opts.SessionID).
			Msg("failed to inject finding")
		observability.RecordInjection(ctx, c.opts.Metrics, "failed")
		return false
	}
	observability.RecordInjection(ctx, c.opts.Metrics, "sent")
	return true
}

// Close moves the channel to closed and releases the transport.
func (c *Channel) Close() error {
	c.transition(entities.ChannelClosed)
	return c.closeTransport()
}

func (c *Channel) closeTransport() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.opts.Transport.Close()
	})
	if !c.started.Load() {
		c.finish()
	}
	return err
}

func (c *Channel) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Channel) run() {
	defer c.finish()
	for ev := range c.opts.Transport.Events() {
		c.handle(ev)
	}
	c.transition(entities.ChannelClosed)
}

func (c *Channel) handle(ev entities.ChannelEvent) {
	state := c.State()

	switch ev.Type {
	case entities.ChannelEventOpen:
		if state != entities.ChannelOfferSent {
			return
		}
		if !c.transition(entities.ChannelConnected) {
			return
		}
		if err := c.opts.Transport.Send(context.Background(), sessionUpdate(c.opts.Session)); err != nil {
			c.fail(fmt.Errorf("session update: %w", err))
			return
		}
		c.openOnce.Do(func() { close(c.opened) })

	case entities.ChannelEventSpeechStarted:
		if state.IsOpen() && state != entities.ChannelListening {
			c.transition(entities.ChannelListening)
		}
	case entities.ChannelEventSpeechStopped:
		if state == entities.ChannelListening {
			c.transition(entities.ChannelConnected)
		}
	case entities.ChannelEventAudioDelta:
		if state.IsOpen() && state != entities.ChannelSpeaking {
			c.transition(entities.ChannelSpeaking)
		}
	case entities.ChannelEventAudioDone:
		if state == entities.ChannelSpeaking {
			c.transition(entities.ChannelConnected)
		}

	case entities.ChannelEventConversationItem,
		entities.ChannelEventTranscriptComplete,
		entities.ChannelEventResponseTranscript:
		c.emitMessage(ev)

	case entities.ChannelEventError:
		c.fail(errors.New(providerErrorMessage(ev.Raw)))
	case entities.ChannelEventClosed:
		c.Close()
	}
}

func (c *Channel) emitMessage(ev entities.ChannelEvent) {
	if c.opts.OnMessage == nil {
		return
	}
	role, content, ok := messageFromEvent(ev)
	if !ok {
		return
	}
	c.opts.OnMessage(entities.ConversationMessage{
		ID:        uuid.New().String(),
		SessionID: c.opts.SessionID,
		Role:      role,
		Content:   content,
		CreatedAt: c.opts.Now().UTC(),
	})
}

// fail moves the channel to error, records err and closes the transport.
func (c *Channel) fail(err error) error {
	chErr := apperrors.NewChannelError("realtime channel failed", err)

	c.mu.Lock()
	if c.err == nil && !c.state.IsTerminal() {
		c.err = chErr
	}
	c.mu.Unlock()

	if c.transition(entities.ChannelError) {
		observability.GetLogger().Warn().Err(err).
			Str("session_id", c.opts.SessionID).
			Msg("realtime channel error")
	}
	_ = c.closeTransport()
	return chErr
}

func (c *Channel) transition(to entities.ChannelState) bool {
	c.mu.Lock()
	from := c.state
	if !CanTransition(from, to) {
		c.mu.Unlock()
		return false
	}
	c.state = to
	c.mu.Unlock()

	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(from, to)
	}
	return true
}

type providerError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func providerErrorMessage(raw json.RawMessage) string {
	var pe providerError
	if err := json.Unmarshal(raw, &pe); err == nil && pe.Error.Message != "" {
		return pe.Error.Message
	}
	return "provider reported an error"
}
