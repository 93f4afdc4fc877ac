package realtime

import (
	"encoding/json"
	"strings"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
)

// SessionConfig is sent to the provider as session.update once the data channel opens.
type SessionConfig struct {
	Instructions       string
	Voice              string
	AudioFormat        string
	TranscriptionModel string
	VADThreshold       float64
	PrefixPaddingMS    int
	SilenceDurationMS  int
}

// DefaultSessionConfig returns the voice assistant configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Instructions: "You are a procedure copilot voice assistant. You help endoscopists discuss what they see during procedures. " +
			"You receive analysis findings prefixed with " + FindingPrefix + ". Reference them when asked about the video. " +
			"Keep responses to one or two sentences and give educational insights, not diagnoses.",
		Voice:              "alloy",
		AudioFormat:        "pcm16",
		TranscriptionModel: "whisper-1",
		VADThreshold:       0.5,
		PrefixPaddingMS:    300,
		SilenceDurationMS:  500,
	}
}

func sessionUpdate(cfg SessionConfig) map[string]interface{} {
	return map[string]interface{}{
		"type": "session.update",
		"session": map[string]interface{}{
			"modalities":                []string{"audio", "text"},
			"instructions":              cfg.Instructions,
			"voice":                     cfg.Voice,
			"input_audio_format":        cfg.AudioFormat,
			"output_audio_format":       cfg.AudioFormat,
			"input_audio_transcription": map[string]string{"model": cfg.TranscriptionModel},
			"turn_detection": map[string]interface{}{
				"type":                "server_vad",
				"threshold":           cfg.VADThreshold,
				"prefix_padding_ms":   cfg.PrefixPaddingMS,
				"silence_duration_ms": cfg.SilenceDurationMS,
			},
		},
	}
}

func contextMessage(text string) map[string]interface{} {
	return map[string]interface{}{
		"type": "conversation.item.create",
		"item": map[string]interface{}{
			"type": "message",
			"role": "user",
			"content": []map[string]string{
				{"type": "input_text", "text": text},
			},
		},
	}
}

type itemEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Item       struct {
		Role    string `json:"role"`
		Content []struct {
			Type       string `json:"type"`
			Text       string `json:"text"`
			Transcript string `json:"transcript"`
		} `json:"content"`
	} `json:"item"`
}

// messageFromEvent extracts a transcript line from a provider event. Injected
// findings are echoed back by the provider and are skipped.
func messageFromEvent(ev entities.ChannelEvent) (entities.MessageRole, string, bool) {
	var e itemEvent
	if err := json.Unmarshal(ev.Raw, &e); err != nil {
		return "", "", false
	}

	var role entities.MessageRole
	var content string
	switch ev.Type {
	case entities.ChannelEventTranscriptComplete:
		role, content = entities.RoleUser, e.Transcript
	case entities.ChannelEventResponseTranscript:
		role, content = entities.RoleAssistant, e.Transcript
	case entities.ChannelEventConversationItem:
		role = entities.MessageRole(e.Item.Role)
		parts := make([]string, 0, len(e.Item.Content))
		for _, c := range e.Item.Content {
			switch {
			case c.Text != "":
				parts = append(parts, c.Text)
			case c.Transcript != "":
				parts = append(parts, c.Transcript)
			}
		}
		content = strings.Join(parts, " ")
	}

	content = strings.TrimSpace(content)
	if content == "" || !role.IsValid() || strings.HasPrefix(content, FindingPrefix) {
		return "", "", false
	}
	return role, content, true
}
