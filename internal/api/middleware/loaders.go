package middleware

import (
	"net/http"

	"github.com/zatekoja/procedurecopilot/backend/internal/application/loaders"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
)

// LoadersMiddleware attaches request-scoped batch loaders so a frame page
// resolves its analyses in one query.
func LoadersMiddleware(analyses repositories.AnalysisRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := loaders.WithLoaders(r.Context(), loaders.NewLoaders(analyses))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
