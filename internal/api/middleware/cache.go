package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
)

// CacheConfig holds cache configuration for a route. Prefix and Suffix both
// have to match when set.
type CacheConfig struct {
	Prefix     string
	Suffix     string
	TTLSeconds int
}

// DefaultCacheRoutes caches read models that stop changing once written.
var DefaultCacheRoutes = []CacheConfig{
	{Prefix: "/api/sessions/", Suffix: "/summary", TTLSeconds: 600},
	{Prefix: "/api/findings/search", TTLSeconds: 30},
}

// CacheMiddleware provides HTTP response caching
type CacheMiddleware struct {
	cache   providers.CacheProvider
	routes  []CacheConfig
	metrics *observability.Metrics
}

// NewCacheMiddleware creates a new cache middleware
func NewCacheMiddleware(cache providers.CacheProvider, routes []CacheConfig, metrics *observability.Metrics) *CacheMiddleware {
	if routes == nil {
		routes = DefaultCacheRoutes
	}
	return &CacheMiddleware{cache: cache, routes: routes, metrics: metrics}
}

// Middleware returns the cache middleware handler
func (m *CacheMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || m.cache == nil {
			next.ServeHTTP(w, r)
			return
		}

		config, ok := m.routeConfig(r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		logger := observability.LoggerFromContext(ctx)
		cacheKey := m.cacheKey(r)

		if cached, err := m.cache.Get(ctx, cacheKey); err == nil {
			observability.RecordCacheHit(ctx, m.metrics, "http")
			w.Header().Set("X-Cache", "HIT")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(cached)
			return
		}

		observability.RecordCacheMiss(ctx, m.metrics, "http")
		w.Header().Set("X-Cache", "MISS")

		recorder := &responseRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
			body:           &bytes.Buffer{},
		}
		next.ServeHTTP(recorder, r)

		// Only cache successful responses
		if recorder.statusCode == http.StatusOK && recorder.body.Len() > 0 {
			if err := m.cache.Set(ctx, cacheKey, recorder.body.Bytes(), config.TTLSeconds); err != nil {
				logger.Warn().Err(err).Str("path", r.URL.Path).Msg("failed to cache response")
			}
		}
	})
}

func (m *CacheMiddleware) routeConfig(path string) (CacheConfig, bool) {
	for _, c := range m.routes {
		if c.Prefix != "" && !strings.HasPrefix(path, c.Prefix) {
			continue
		}
		if c.Suffix != "" && !strings.HasSuffix(path, c.Suffix) {
			continue
		}
		return c, true
	}
	return CacheConfig{}, false
}

func (m *CacheMiddleware) cacheKey(r *http.Request) string {
	return CacheKey(r.Method, r.URL.Path, r.URL.RawQuery)
}

// CacheKey is the cache key of a response
func CacheKey(method, path, rawQuery string) string {
	key := fmt.Sprintf("%s:%s", method, path)
	if rawQuery != "" {
		key += "?" + rawQuery
	}

	hash := sha256.Sum256([]byte(key))
	return "http:cache:" + hex.EncodeToString(hash[:])
}

// SessionCacheKeys returns the keys of cached responses derived from a session
func SessionCacheKeys(sessionID string) []string {
	return []string{
		CacheKey(http.MethodGet, "/api/sessions/"+sessionID+"/summary", ""),
	}
}

// responseRecorder captures the response for caching
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	written    bool
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	if !r.written {
		r.statusCode = statusCode
		r.ResponseWriter.WriteHeader(statusCode)
		r.written = true
	}
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if !r.written {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(data)
	return r.ResponseWriter.Write(data)
}
