package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

type fakeMedia struct {
	offer entities.SessionDescription
	err   error
}

func (m *fakeMedia) LocalDescription(ctx context.Context) (entities.SessionDescription, error) {
	return m.offer, m.err
}

type fakeTransport struct {
	answer       entities.SessionDescription
	negotiateErr error
	sendErr      error

	events    chan entities.ChannelEvent
	closeOnce sync.Once

	mu   sync.Mutex
	sent []map[string]interface{}
}

func newFakeTransport(answer entities.SessionDescription) *fakeTransport {
	return &fakeTransport{answer: answer, events: make(chan entities.ChannelEvent, 16)}
}

func (t *fakeTransport) Negotiate(ctx context.Context, offer entities.SessionDescription) (entities.SessionDescription, error) {
	return t.answer, t.negotiateErr
}

func (t *fakeTransport) Events() <-chan entities.ChannelEvent { return t.events }

func (t *fakeTransport) Send(ctx context.Context, message interface{}) error {
	if t.sendErr != nil {
		return t.sendErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, message.(map[string]interface{}))
	return nil
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.events) })
	return nil
}

func (t *fakeTransport) push(typ string, raw string) {
	if raw == "" {
		raw = `{"type":"` + typ + `"}`
	}
	t.events <- entities.ChannelEvent{Type: typ, Raw: json.RawMessage(raw)}
}

func (t *fakeTransport) sentTypes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.sent))
	for i, m := range t.sent {
		out[i], _ = m["type"].(string)
	}
	return out
}

var (
	testOffer  = entities.SessionDescription{Type: entities.DescriptionOffer, SDP: "v=0 offer", SessionID: "s-1"}
	testAnswer = entities.SessionDescription{Type: entities.DescriptionAnswer, SDP: "v=0 answer", SessionID: "s-1"}
)

type recorder struct {
	mu       sync.Mutex
	states   []entities.ChannelState
	messages []entities.ConversationMessage
}

func (r *recorder) onState(from, to entities.ChannelState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, to)
}

func (r *recorder) onMessage(m entities.ConversationMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

func (r *recorder) snapshot() ([]entities.ChannelState, []entities.ConversationMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entities.ChannelState(nil), r.states...), append([]entities.ConversationMessage(nil), r.messages...)
}

func newTestChannel(transport *fakeTransport, media *fakeMedia, rec *recorder) *Channel {
	return NewChannel(Options{
		SessionID:     "s-1",
		Media:         media,
		Transport:     transport,
		OnStateChange: rec.onState,
		OnMessage:     rec.onMessage,
	})
}

func connect(t *testing.T, ch *Channel, transport *fakeTransport) {
	t.Helper()
	transport.push(entities.ChannelEventOpen, "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ch.Connect(ctx))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(entities.ChannelIdle, entities.ChannelConnecting))
	assert.True(t, CanTransition(entities.ChannelConnected, entities.ChannelListening))
	assert.True(t, CanTransition(entities.ChannelSpeaking, entities.ChannelListening))
	assert.True(t, CanTransition(entities.ChannelOfferSent, entities.ChannelError))
	assert.True(t, CanTransition(entities.ChannelIdle, entities.ChannelClosed))

	assert.False(t, CanTransition(entities.ChannelIdle, entities.ChannelConnected))
	assert.False(t, CanTransition(entities.ChannelConnecting, entities.ChannelListening))
	assert.False(t, CanTransition(entities.ChannelClosed, entities.ChannelConnecting))
	assert.False(t, CanTransition(entities.ChannelError, entities.ChannelClosed))
}

func TestChannel_ConnectHappyPath(t *testing.T) {
	transport := newFakeTransport(testAnswer)
	rec := &recorder{}
	ch := newTestChannel(transport, &fakeMedia{offer: testOffer}, rec)

	connect(t, ch, transport)

	assert.Equal(t, entities.ChannelConnected, ch.State())
	states, _ := rec.snapshot()
	assert.Equal(t, []entities.ChannelState{
		entities.ChannelConnecting, entities.ChannelOfferSent, entities.ChannelConnected,
	}, states)
	assert.Equal(t, []string{"session.update"}, transport.sentTypes())

	transport.mu.Lock()
	session := transport.sent[0]["session"].(map[string]interface{})
	transport.mu.Unlock()
	assert.Equal(t, "alloy", session["voice"])
	vad := session["turn_detection"].(map[string]interface{})
	assert.Equal(t, 0.5, vad["threshold"])
	assert.Equal(t, 300, vad["prefix_padding_ms"])
	assert.Equal(t, 500, vad["silence_duration_ms"])
}

func TestChannel_ConnectFailures(t *testing.T) {
	tests := []struct {
		name      string
		media     *fakeMedia
		transport *fakeTransport
	}{
		{"media error", &fakeMedia{err: errors.New("no microphone")}, newFakeTransport(testAnswer)},
		{"not an offer", &fakeMedia{offer: entities.SessionDescription{Type: "answer", SDP: "x"}}, newFakeTransport(testAnswer)},
		{"negotiate error", &fakeMedia{offer: testOffer}, &fakeTransport{negotiateErr: errors.New("rejected"), events: make(chan entities.ChannelEvent)}},
		{"mismatched answer", &fakeMedia{offer: testOffer}, newFakeTransport(entities.SessionDescription{Type: "answer", SDP: "x", SessionID: "other"})},
		{"not an answer", &fakeMedia{offer: testOffer}, newFakeTransport(entities.SessionDescription{Type: "offer", SDP: "x", SessionID: "s-1"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newTestChannel(tt.transport, tt.media, &recorder{})

			err := ch.Connect(context.Background())

			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeChannel))
			assert.Equal(t, entities.ChannelError, ch.State())
			assert.Equal(t, err, ch.Err())
			select {
			case <-ch.Done():
			case <-time.After(time.Second):
				t.Fatal("channel not done after failure")
			}
		})
	}
}

func TestChannel_ConnectTimesOutWithoutOpen(t *testing.T) {
	transport := newFakeTransport(testAnswer)
	ch := newTestChannel(transport, &fakeMedia{offer: testOffer}, &recorder{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := ch.Connect(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, entities.ChannelError, ch.State())
}

func TestChannel_ConnectTwiceIsRejected(t *testing.T) {
	transport := newFakeTransport(testAnswer)
	ch := newTestChannel(transport, &fakeMedia{offer: testOffer}, &recorder{})
	connect(t, ch, transport)

	err := ch.Connect(context.Background())
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeChannel))
	assert.Equal(t, entities.ChannelConnected, ch.State())
}

func TestChannel_VoiceActivitySubStates(t *testing.T) {
	transport := newFakeTransport(testAnswer)
	rec := &recorder{}
	ch := newTestChannel(transport, &fakeMedia{offer: testOffer}, rec)
	connect(t, ch, transport)

	transport.push(entities.ChannelEventSpeechStarted, "")
	transport.push(entities.ChannelEventSpeechStopped, "")
	transport.push(entities.ChannelEventAudioDelta, "")
	transport.push(entities.ChannelEventAudioDelta, "")
	transport.push(entities.ChannelEventAudioDone, "")
	transport.push(entities.ChannelEventClosed, "")

	waitDone(t, ch)

	states, _ := rec.snapshot()
	assert.Equal(t, []entities.ChannelState{
		entities.ChannelConnecting, entities.ChannelOfferSent, entities.ChannelConnected,
		entities.ChannelListening, entities.ChannelConnected,
		entities.ChannelSpeaking, entities.ChannelConnected,
		entities.ChannelClosed,
	}, states)
}

func TestChannel_ProviderErrorEvent(t *testing.T) {
	transport := newFakeTransport(testAnswer)
	ch := newTestChannel(transport, &fakeMedia{offer: testOffer}, &recorder{})
	connect(t, ch, transport)

	transport.push(entities.ChannelEventError, `{"type":"error","error":{"message":"rate limited"}}`)
	waitDone(t, ch)

	assert.Equal(t, entities.ChannelError, ch.State())
	require.Error(t, ch.Err())
	assert.Contains(t, ch.Err().Error(), "rate limited")
}

func TestChannel_InjectFinding(t *testing.T) {
	transport := newFakeTransport(testAnswer)
	ch := newTestChannel(transport, &fakeMedia{offer: testOffer}, &recorder{})
	finding := entities.Finding{Finding: "Small polyp", Location: "Sigmoid", RiskLevel: "Medium", SuggestedAction: "Resect", Structured: true}

	assert.False(t, ch.InjectFinding(context.Background(), finding), "dropped while idle")
	assert.Empty(t, transport.sentTypes())

	connect(t, ch, transport)
	require.True(t, ch.InjectFinding(context.Background(), finding))

	transport.mu.Lock()
	msg := transport.sent[1]
	transport.mu.Unlock()
	assert.Equal(t, "conversation.item.create", msg["type"])
	content := msg["item"].(map[string]interface{})["content"].([]map[string]string)
	assert.Equal(t, "[New Finding] Finding: Small polyp; Location: Sigmoid; Risk Level: Medium; Suggested Action: Resect", content[0]["text"])

	require.NoError(t, ch.Close())
	waitDone(t, ch)
	assert.False(t, ch.InjectFinding(context.Background(), finding), "dropped after close")
}

func TestChannel_PersistsConversationMessages(t *testing.T) {
	transport := newFakeTransport(testAnswer)
	rec := &recorder{}
	ch := newTestChannel(transport, &fakeMedia{offer: testOffer}, rec)
	connect(t, ch, transport)

	transport.push(entities.ChannelEventTranscriptComplete, `{"type":"conversation.item.input_audio_transcription.completed","transcript":"what is that?"}`)
	transport.push(entities.ChannelEventConversationItem, `{"type":"conversation.item.created","item":{"role":"assistant","content":[{"type":"text","text":"Looks like a polyp."}]}}`)
	transport.push(entities.ChannelEventConversationItem, `{"type":"conversation.item.created","item":{"role":"user","content":[{"type":"input_text","text":"[New Finding] Finding: x"}]}}`)
	transport.push(entities.ChannelEventConversationItem, `{"type":"conversation.item.created","item":{"role":"user","content":[{"type":"input_audio"}]}}`)
	transport.push(entities.ChannelEventClosed, "")
	waitDone(t, ch)

	_, messages := rec.snapshot()
	require.Len(t, messages, 2)
	assert.Equal(t, entities.RoleUser, messages[0].Role)
	assert.Equal(t, "what is that?", messages[0].Content)
	assert.Equal(t, "s-1", messages[0].SessionID)
	assert.NotEmpty(t, messages[0].ID)
	assert.Equal(t, entities.RoleAssistant, messages[1].Role)
	assert.Equal(t, "Looks like a polyp.", messages[1].Content)
}

func TestChannel_TransportClosingEndsChannel(t *testing.T) {
	transport := newFakeTransport(testAnswer)
	ch := newTestChannel(transport, &fakeMedia{offer: testOffer}, &recorder{})
	connect(t, ch, transport)

	require.NoError(t, transport.Close())
	waitDone(t, ch)

	assert.Equal(t, entities.ChannelClosed, ch.State())
	assert.NoError(t, ch.Err())
}

func waitDone(t *testing.T, ch *Channel) {
	t.Helper()
	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not finish")
	}
}
