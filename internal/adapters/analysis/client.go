// Package analysis is the HTTP client for the vision-language inference server.
package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
	"github.com/zatekoja/procedurecopilot/backend/pkg/config"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

const maxNewTokens = 256

// Client implements providers.AnalysisBackend against an inference server.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *tokenBucket
	breaker    *gobreaker.CircuitBreaker
	store      providers.ObjectStore
}

// NewClient creates an analysis client. Frame images are read from store.
func NewClient(cfg *config.AnalysisConfig, store providers.ObjectStore) (*Client, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, errors.New("analysis base url is required")
	}

	model := cfg.Model
	if model == "" {
		model = "medgemma-4b-it"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	failures := cfg.BreakerFailures
	if failures <= 0 {
		failures = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "analysis-backend",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || apperrors.IsType(err, apperrors.ErrorTypePermanentBackend)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.GetLogger().Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("analysis backend breaker state changed")
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    newTokenBucket(cfg.RequestsPerMinute, 5),
		breaker:    breaker,
		store:      store,
	}, nil
}

// ModelID identifies the model behind the backend.
func (c *Client) ModelID() string {
	return c.model
}

// Close stops the rate limiter.
func (c *Client) Close() {
	if c.limiter != nil {
		c.limiter.Close()
	}
}

// Analyze sends one frame image to the inference server.
func (c *Client) Analyze(ctx context.Context, imageRef string) (*providers.AnalysisOutput, error) {
	image, err := c.loadImage(ctx, imageRef)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.call(ctx, image)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, apperrors.NewTransientBackendError("analysis backend unavailable", err)
	}
	if err != nil {
		return nil, err
	}
	return result.(*providers.AnalysisOutput), nil
}

func (c *Client) loadImage(ctx context.Context, imageRef string) ([]byte, error) {
	r, err := c.store.Get(ctx, imageRef)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewPermanentBackendError(fmt.Sprintf("frame image %s not found", imageRef), err)
		}
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to read frame image", err)
	}
	return data, nil
}

func (c *Client) call(ctx context.Context, image []byte) (*providers.AnalysisOutput, error) {
	body, err := json.Marshal(analyzeRequest{
		Model:       c.model,
		Prompt:      snapshotPrompt,
		ImageBase64: base64.StdEncoding.EncodeToString(image),
		MaxTokens:   maxNewTokens,
	})
	if err != nil {
		return nil, apperrors.NewInternalError("failed to marshal analysis request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build analysis request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewTransientBackendError("analysis request failed", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}

	var out analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.NewPermanentBackendError("malformed analysis response", err)
	}

	return &providers.AnalysisOutput{
		FindingText: out.Finding,
		Location:    out.Location,
		RiskLevel:   out.RiskLevel,
		Confidence:  out.Confidence,
		Features:    out.Features,
		RawText:     out.Text,
	}, nil
}

// classifyStatus maps rate limiting and server errors to retryable failures
// and every other non-2xx status to a permanent failure.
func classifyStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500 {
		return apperrors.NewTransientBackendError("analysis backend temporarily failed", err)
	}
	return apperrors.NewPermanentBackendError("analysis backend rejected request", err)
}
