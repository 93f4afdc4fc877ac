// Package extraction calls the frame-extraction sidecar that decodes source media.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	"github.com/zatekoja/procedurecopilot/backend/pkg/config"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

// Client implements providers.FrameExtractor over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an extraction client
func NewClient(cfg *config.ExtractionConfig) (*Client, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, errors.New("extraction base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type extractRequest struct {
	SourceKey string `json:"source_key"`
	providers.ExtractionConfig
}

// Extract asks the sidecar to decode the source and write candidate frames
// under cfg.OutputKey. Unreadable media is reported as a DECODE error.
func (c *Client) Extract(ctx context.Context, sourceKey string, cfg providers.ExtractionConfig) (*providers.ExtractionResult, error) {
	body, err := json.Marshal(extractRequest{SourceKey: sourceKey, ExtractionConfig: cfg})
	if err != nil {
		return nil, apperrors.NewInternalError("failed to marshal extraction request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/extract", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build extraction request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewExternalError("extraction request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		switch {
		case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusUnsupportedMediaType:
			return nil, apperrors.NewDecodeError(fmt.Sprintf("could not decode %s", sourceKey), cause)
		case resp.StatusCode == http.StatusNotFound:
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("source %s not found", sourceKey))
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return nil, apperrors.NewExternalError("extraction service failed", cause)
		}
		return nil, apperrors.NewValidationError(cause.Error())
	}

	var result providers.ExtractionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperrors.NewExternalError("malformed extraction response", err)
	}
	return &result, nil
}
