package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	rtadapter "github.com/zatekoja/procedurecopilot/backend/internal/adapters/realtime"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
	"github.com/zatekoja/procedurecopilot/backend/internal/realtime"
)

// ChannelAttacher connects a realtime channel to a running live session
type ChannelAttacher interface {
	AttachChannel(ctx context.Context, id string, media providers.MediaSource, transport providers.RealtimeTransport, sessionCfg realtime.SessionConfig) (*realtime.Channel, error)
}

// RealtimeHandler mints voice provider tokens and relays channel signaling
// between the browser and the provider.
type RealtimeHandler struct {
	tokens         providers.RealtimeTokenIssuer
	live           ChannelAttacher
	signaler       *rtadapter.Signaler
	sessionCfg     realtime.SessionConfig
	connectTimeout time.Duration
	upgrader       websocket.Upgrader
}

// NewRealtimeHandler creates a new realtime handler
func NewRealtimeHandler(tokens providers.RealtimeTokenIssuer, live ChannelAttacher, signaler *rtadapter.Signaler, sessionCfg realtime.SessionConfig, connectTimeout time.Duration) *RealtimeHandler {
	if connectTimeout <= 0 {
		connectTimeout = 15 * time.Second
	}
	return &RealtimeHandler{
		tokens:         tokens,
		live:           live,
		signaler:       signaler,
		sessionCfg:     sessionCfg,
		connectTimeout: connectTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// IssueToken handles POST /api/realtime/token
func (h *RealtimeHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.tokens.IssueToken(r.Context())
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, token)
}

// Relay handles GET /api/live/sessions/{id}/realtime.
// The socket carries the browser's offer, the provider's answer and then the
// data channel event stream for as long as the channel lives.
func (h *RealtimeHandler) Relay(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	logger := observability.LoggerFromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Str("session_id", id).Msg("realtime relay upgrade failed")
		return
	}
	relay := rtadapter.NewRelay(conn, h.signaler)

	ctx, cancel := context.WithTimeout(context.Background(), h.connectTimeout)
	defer cancel()

	ch, err := h.live.AttachChannel(ctx, id, relay, relay, h.sessionCfg)
	if err != nil {
		logger.Warn().Err(err).Str("session_id", id).Msg("realtime channel failed to connect")
		_ = relay.Send(ctx, map[string]string{"type": "error", "message": err.Error()})
		_ = relay.Close()
		return
	}

	logger.Debug().Str("session_id", id).Str("state", string(ch.State())).Msg("realtime relay attached")
}
