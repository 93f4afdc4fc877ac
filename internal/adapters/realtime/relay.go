// Package realtime connects the operator's browser and the voice provider.
//
// The browser owns the media. It sends its SDP offer over the relay socket,
// the relay exchanges it with the provider and returns the answer, and the
// browser forwards every data channel event back over the same socket.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
	"github.com/zatekoja/procedurecopilot/backend/pkg/config"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second
)

// Signaler exchanges an SDP offer for the provider's answer.
type Signaler struct {
	sdpURL     string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewSignaler creates a signaler from the realtime configuration
func NewSignaler(cfg *config.RealtimeConfig) *Signaler {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Signaler{
		sdpURL:     cfg.SDPURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Exchange posts the offer SDP and returns the provider's answer SDP.
func (s *Signaler) Exchange(ctx context.Context, offerSDP string) (string, error) {
	u, err := url.Parse(s.sdpURL)
	if err != nil {
		return "", apperrors.NewChannelError("invalid signaling url", err)
	}
	q := u.Query()
	q.Set("model", s.model)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(offerSDP))
	if err != nil {
		return "", apperrors.NewChannelError("failed to build signaling request", err)
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", apperrors.NewChannelError("signaling request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", apperrors.NewChannelError("failed to read answer", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperrors.NewChannelError("provider rejected offer", fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body)))
	}
	return string(body), nil
}

// relayMessage is the envelope used on the browser socket.
type relayMessage struct {
	Type      string `json:"type"`
	SDP       string `json:"sdp,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Relay implements providers.MediaSource and providers.RealtimeTransport over
// one browser websocket.
type Relay struct {
	conn     *websocket.Conn
	signaler *Signaler

	writeMu sync.Mutex
	events  chan entities.ChannelEvent
	offers  chan relayMessage
	done    chan struct{}

	closeOnce sync.Once
}

// NewRelay starts reading from conn. The relay owns conn from here on.
func NewRelay(conn *websocket.Conn, signaler *Signaler) *Relay {
	r := &Relay{
		conn:     conn,
		signaler: signaler,
		events:   make(chan entities.ChannelEvent, 64),
		offers:   make(chan relayMessage, 1),
		done:     make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go r.readLoop()
	go r.pingLoop()
	return r
}

func (r *Relay) readLoop() {
	logger := observability.GetLogger()
	defer close(r.events)
	defer r.Close()

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("realtime relay read failed")
			}
			r.emit(entities.ChannelEvent{Type: entities.ChannelEventClosed})
			return
		}

		var msg relayMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			logger.Debug().Msg("ignoring malformed relay message")
			continue
		}

		if msg.Type == entities.DescriptionOffer {
			select {
			case r.offers <- msg:
			default:
				logger.Warn().Msg("dropping duplicate offer")
			}
			continue
		}

		r.emit(entities.ChannelEvent{Type: msg.Type, Raw: json.RawMessage(data)})
	}
}

func (r *Relay) emit(ev entities.ChannelEvent) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (r *Relay) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.writeMu.Lock()
			err := r.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			r.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// LocalDescription waits for the browser's offer.
func (r *Relay) LocalDescription(ctx context.Context) (entities.SessionDescription, error) {
	select {
	case msg := <-r.offers:
		return entities.SessionDescription{Type: msg.Type, SDP: msg.SDP, SessionID: msg.SessionID}, nil
	case <-r.done:
		return entities.SessionDescription{}, apperrors.NewChannelError("relay closed before offer", nil)
	case <-ctx.Done():
		return entities.SessionDescription{}, ctx.Err()
	}
}

// Negotiate exchanges the offer with the provider and hands the answer to the browser.
func (r *Relay) Negotiate(ctx context.Context, offer entities.SessionDescription) (entities.SessionDescription, error) {
	sdp, err := r.signaler.Exchange(ctx, offer.SDP)
	if err != nil {
		return entities.SessionDescription{}, err
	}

	answer := entities.SessionDescription{
		Type:      entities.DescriptionAnswer,
		SDP:       sdp,
		SessionID: offer.SessionID,
	}
	if err := r.Send(ctx, relayMessage{Type: answer.Type, SDP: answer.SDP, SessionID: answer.SessionID}); err != nil {
		return entities.SessionDescription{}, err
	}
	return answer, nil
}

// Events delivers browser-forwarded channel events until the socket closes.
func (r *Relay) Events() <-chan entities.ChannelEvent {
	return r.events
}

// Send writes a JSON message for the browser to forward on its data channel.
func (r *Relay) Send(ctx context.Context, message interface{}) error {
	select {
	case <-r.done:
		return apperrors.NewChannelError("relay closed", nil)
	default:
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	r.conn.SetWriteDeadline(deadline)
	if err := r.conn.WriteJSON(message); err != nil {
		return apperrors.NewChannelError("relay write failed", err)
	}
	return nil
}

// Close closes the browser socket.
func (r *Relay) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		r.writeMu.Lock()
		_ = r.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		r.writeMu.Unlock()
		err = r.conn.Close()
		if errors.Is(err, websocket.ErrCloseSent) {
			err = nil
		}
	})
	return err
}
