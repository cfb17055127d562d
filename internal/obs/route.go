package obs

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type routeKey struct{}

// WithRoute pins the route label for handlers served outside a chi router.
func WithRoute(ctx context.Context, pattern string) context.Context {
	return context.WithValue(ctx, routeKey{}, pattern)
}

// Route is the low-cardinality label for metrics, spans and logs: a pinned
// WithRoute value, else chi's matched pattern, else fallback. Call it after
// the router has served the request so the chi pattern is complete.
func Route(r *http.Request, fallback string) string {
	if v, ok := r.Context().Value(routeKey{}).(string); ok && v != "" {
		return v
	}
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return fallback
}
