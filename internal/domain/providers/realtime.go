package providers

import (
	"context"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
)

// MediaSource produces the local session description for a realtime channel
type MediaSource interface {
	LocalDescription(ctx context.Context) (entities.SessionDescription, error)
}

// RealtimeTransport carries signaling and the event stream of a realtime channel
type RealtimeTransport interface {
	// Negotiate sends the local offer and returns the remote answer
	Negotiate(ctx context.Context, offer entities.SessionDescription) (entities.SessionDescription, error)

	// Events delivers channel events until the transport closes
	Events() <-chan entities.ChannelEvent

	// Send writes a JSON message to the channel
	Send(ctx context.Context, message interface{}) error

	Close() error
}

// RealtimeTokenIssuer mints short-lived client credentials for the voice provider
type RealtimeTokenIssuer interface {
	IssueToken(ctx context.Context) (*RealtimeToken, error)
}

// RealtimeToken is an ephemeral client secret
type RealtimeToken struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
	Model     string `json:"model"`
}
