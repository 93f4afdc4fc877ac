package routes

import (
	"net/http"

	"github.com/zatekoja/procedurecopilot/backend/internal/api/handlers"
	"github.com/zatekoja/procedurecopilot/backend/internal/api/middleware"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
)

// Handlers groups the route handlers. A nil handler leaves its routes
// unregistered so a process can serve a subset of the API.
type Handlers struct {
	Sessions  *handlers.SessionHandler
	Live      *handlers.LiveHandler
	Realtime  *handlers.RealtimeHandler
	Downloads *handlers.DownloadHandler
	Events    *handlers.SSEHandler
}

// Router holds all route handlers
type Router struct {
	mux             *http.ServeMux
	handlers        Handlers
	analyses        repositories.AnalysisRepository
	cacheMiddleware *middleware.CacheMiddleware
	metrics         *observability.Metrics

	// AllowedOrigins configures CORS; empty allows any origin.
	AllowedOrigins []string
}

// NewRouter creates a new router
func NewRouter(h Handlers, analyses repositories.AnalysisRepository, cacheMiddleware *middleware.CacheMiddleware, metrics *observability.Metrics) *Router {
	return &Router{
		mux:             http.NewServeMux(),
		handlers:        h,
		analyses:        analyses,
		cacheMiddleware: cacheMiddleware,
		metrics:         metrics,
	}
}

// handle registers a route that reports its pattern to the observability
// middleware.
func (r *Router) handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, func(w http.ResponseWriter, req *http.Request) {
		middleware.RecordRoute(req)
		h(w, req)
	})
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.handle("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}
	})

	// Recorded sessions
	if s := r.handlers.Sessions; s != nil {
		r.handle("POST /api/sessions", s.StartSession)
		r.handle("GET /api/sessions", s.ListSessions)
		r.handle("GET /api/sessions/{id}", s.GetSession)
		r.handle("GET /api/sessions/{id}/status", s.GetStatus)
		r.handle("POST /api/sessions/{id}/abort", s.AbortSession)
		r.handle("GET /api/sessions/{id}/frames", s.ListFrames)
		r.handle("GET /api/sessions/{id}/summary", s.GetSummary)
		r.handle("POST /api/sessions/{id}/export", s.RequestExport)
		r.handle("GET /api/findings/search", s.SearchFindings)
		r.handle("GET /api/tasks/{id}", s.GetTask)
	}

	if d := r.handlers.Downloads; d != nil {
		r.handle("GET /api/downloads", d.Download)
	}

	// Live sessions
	if l := r.handlers.Live; l != nil {
		r.handle("POST /api/live/sessions", l.StartLive)
		r.handle("GET /api/live/sessions", l.ListLive)
		r.handle("GET /api/live/sessions/{id}", l.GetLive)
		r.handle("POST /api/live/sessions/{id}/frames", l.PushFrame)
		r.handle("POST /api/live/sessions/{id}/capture/start", l.StartCapture)
		r.handle("POST /api/live/sessions/{id}/capture/stop", l.StopCapture)
		r.handle("GET /api/live/sessions/{id}/findings", l.GetFindings)
		r.handle("DELETE /api/live/sessions/{id}/findings", l.ClearFindings)
		r.handle("POST /api/live/sessions/{id}/finalize", l.Finalize)
		r.handle("GET /api/live/sessions/{id}/messages", l.GetMessages)
	}

	if rt := r.handlers.Realtime; rt != nil {
		r.handle("POST /api/realtime/token", rt.IssueToken)
		r.handle("GET /api/live/sessions/{id}/realtime", rt.Relay)
	}

	// Server-sent events
	if e := r.handlers.Events; e != nil {
		r.handle("GET /api/events", e.StreamAllEvents)
		r.handle("GET /api/sessions/{id}/events", e.StreamSessionEvents)
	}

	// Apply middleware in reverse order (last middleware wraps first)
	var handler http.Handler = r.mux
	if r.analyses != nil {
		handler = middleware.LoadersMiddleware(r.analyses)(handler)
	}
	handler = middleware.LoggingMiddleware(handler)

	if r.cacheMiddleware != nil {
		handler = r.cacheMiddleware.Middleware(handler)
	}

	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)

	// CORS wraps everything so headers are set even on cache HITs
	handler = middleware.CORSMiddleware(r.AllowedOrigins)(handler)

	return handler
}
