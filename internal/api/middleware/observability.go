package middleware

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
)

type routeKey struct{}

// RecordRoute stores the matched mux pattern where ObservabilityMiddleware
// can read it. The mux sets Pattern on its own copy of the request, so the
// outer middleware never sees it otherwise.
func RecordRoute(r *http.Request) {
	if holder, ok := r.Context().Value(routeKey{}).(*string); ok {
		*holder = r.Pattern
	}
}

// ObservabilityMiddleware traces each request and records the request metric
// labeled by route pattern. Health checks are not traced.
func ObservabilityMiddleware(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			route := new(string)
			ctx := context.WithValue(r.Context(), routeKey{}, route)
			ctx, span := observability.StartSpan(ctx, r.Method+" "+r.URL.Path)
			defer span.End()

			rw := newStatusWriter(w)
			start := time.Now()
			next.ServeHTTP(rw, r.WithContext(ctx))

			// unmatched paths share one label to bound cardinality
			label := *route
			if label == "" {
				label = "unmatched"
			} else {
				span.SetName(label)
			}

			observability.RecordRequestMetric(ctx, metrics, r.Method, label, rw.statusCode, time.Since(start))
			observability.SetSpanAttributes(span,
				attribute.String("http.method", r.Method),
				attribute.String("http.route", label),
				attribute.Int("http.status_code", rw.statusCode),
				attribute.String("http.request_id", rw.Header().Get(RequestIDHeader)),
			)
			if rw.statusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
			}
		})
	}
}
