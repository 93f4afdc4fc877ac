package entities

import "encoding/json"

// ChannelState is the life cycle state of a realtime voice/data channel
type ChannelState string

const (
	ChannelIdle       ChannelState = "idle"
	ChannelConnecting ChannelState = "connecting"
	ChannelOfferSent  ChannelState = "offer_sent"
	ChannelConnected  ChannelState = "connected"
	ChannelListening  ChannelState = "listening"
	ChannelSpeaking   ChannelState = "speaking"
	ChannelClosed     ChannelState = "closed"
	ChannelError      ChannelState = "error"
)

// IsOpen reports whether messages may be sent on the channel.
func (s ChannelState) IsOpen() bool {
	return s == ChannelConnected || s == ChannelListening || s == ChannelSpeaking
}

// IsTerminal reports whether the channel can no longer change state.
func (s ChannelState) IsTerminal() bool {
	return s == ChannelClosed || s == ChannelError
}

// Channel event names delivered by the signaling transport.
const (
	ChannelEventOpen               = "channel.open"
	ChannelEventSpeechStarted      = "input_audio_buffer.speech_started"
	ChannelEventSpeechStopped      = "input_audio_buffer.speech_stopped"
	ChannelEventAudioDelta         = "response.audio.delta"
	ChannelEventAudioDone          = "response.audio.done"
	ChannelEventConversationItem   = "conversation.item.created"
	ChannelEventTranscriptComplete = "conversation.item.input_audio_transcription.completed"
	ChannelEventResponseTranscript = "response.audio_transcript.done"
	ChannelEventError              = "error"
	ChannelEventClosed             = "channel.closed"
)

// ChannelEvent is one named message from the realtime channel
type ChannelEvent struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// SessionDescription is an offer or answer exchanged over signaling
type SessionDescription struct {
	Type      string `json:"type"`
	SDP       string `json:"sdp"`
	SessionID string `json:"session_id,omitempty"`
}

const (
	DescriptionOffer  = "offer"
	DescriptionAnswer = "answer"
)
