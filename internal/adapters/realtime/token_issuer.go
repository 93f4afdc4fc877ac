package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	"github.com/zatekoja/procedurecopilot/backend/pkg/config"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

// TokenIssuer mints ephemeral client secrets from the provider's sessions endpoint.
type TokenIssuer struct {
	cfg        *config.RealtimeConfig
	httpClient *http.Client
}

// NewTokenIssuer creates a token issuer
func NewTokenIssuer(cfg *config.RealtimeConfig) *TokenIssuer {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TokenIssuer{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
}

type sessionRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice,omitempty"`
}

type sessionResponse struct {
	Model        string `json:"model"`
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// IssueToken requests a new client secret.
func (i *TokenIssuer) IssueToken(ctx context.Context) (*providers.RealtimeToken, error) {
	if i.cfg.APIKey == "" {
		return nil, apperrors.NewValidationError("realtime API key is not configured")
	}

	body, err := json.Marshal(sessionRequest{Model: i.cfg.Model, Voice: i.cfg.Voice})
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode session request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.cfg.SessionsURL, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build session request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+i.cfg.APIKey)

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewExternalError("realtime session request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperrors.NewExternalError("failed to read session response", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, apperrors.NewExternalError("realtime session rejected", fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(raw)))
	}

	var out sessionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperrors.NewExternalError("malformed session response", err)
	}
	if out.ClientSecret.Value == "" {
		return nil, apperrors.NewExternalError("session response has no client secret", nil)
	}

	model := out.Model
	if model == "" {
		model = i.cfg.Model
	}
	return &providers.RealtimeToken{
		Value:     out.ClientSecret.Value,
		ExpiresAt: out.ClientSecret.ExpiresAt,
		Model:     model,
	}, nil
}
