package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/procedurecopilot/backend/pkg/config"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

type fakeStore struct {
	objects map[string][]byte
}

func (s *fakeStore) Put(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.objects[key] = data
	return nil
}

func (s *fakeStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, apperrors.NewNotFoundError("missing " + key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeStore) DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	return "", time.Time{}, nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store := &fakeStore{objects: map[string][]byte{"frames/1.jpg": []byte("jpeg-bytes")}}
	c, err := NewClient(&config.AnalysisConfig{
		BaseURL:           server.URL,
		APIKey:            "k",
		Model:             "medgemma-4b-it",
		Timeout:           5 * time.Second,
		RequestsPerMinute: 6000,
		BreakerFailures:   2,
		BreakerCooldown:   time.Minute,
	}, store)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestClient_Analyze(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/analyze", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var req analyzeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "medgemma-4b-it", req.Model)
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")), req.ImageBase64)

		_ = json.NewEncoder(w).Encode(analyzeResponse{Text: "Finding: Polyp\nLocation: Rectum\nRisk Level: High\nSuggested Action: Resect"})
	})

	out, err := c.Analyze(context.Background(), "frames/1.jpg")
	require.NoError(t, err)
	assert.Contains(t, out.RawText, "Finding: Polyp")
	assert.Nil(t, out.Confidence)
	assert.Equal(t, "medgemma-4b-it", c.ModelID())
}

func TestClient_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   apperrors.ErrorType
	}{
		{"server error is transient", http.StatusBadGateway, apperrors.ErrorTypeTransientBackend},
		{"rate limited is transient", http.StatusTooManyRequests, apperrors.ErrorTypeTransientBackend},
		{"bad request is permanent", http.StatusBadRequest, apperrors.ErrorTypePermanentBackend},
		{"unauthorized is permanent", http.StatusUnauthorized, apperrors.ErrorTypePermanentBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			})

			_, err := c.Analyze(context.Background(), "frames/1.jpg")
			assert.True(t, apperrors.IsType(err, tt.want), "got %v", err)
		})
	}
}

func TestClient_MissingImageIsPermanent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be called")
	})

	_, err := c.Analyze(context.Background(), "frames/404.jpg")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypePermanentBackend))
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 2; i++ {
		_, err := c.Analyze(context.Background(), "frames/1.jpg")
		require.Error(t, err)
	}

	_, err := c.Analyze(context.Background(), "frames/1.jpg")
	assert.True(t, apperrors.IsTransient(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "open breaker short-circuits")
}

func TestClient_PermanentFailuresDoNotTripBreaker(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	for i := 0; i < 4; i++ {
		_, _ = c.Analyze(context.Background(), "frames/1.jpg")
	}
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}
