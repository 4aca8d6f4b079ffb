// Package httpapi is the shared operational HTTP surface each TRINETRA
// service mounts alongside its main loop: health, Prometheus metrics, a
// debug event stream, and rate-limited internal control endpoints.
// End-user-facing API gateway auth is a downstream dashboard/gateway
// concern, so this package carries none of the teacher's JWT/tenant
// machinery.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Router builds the standard per-service mux: /health, /metrics,
// /debug/live, wrapped in request logging and permissive CORS, mirroring
// the teacher's own middleware chain shape minus the auth/tenant layer.
func Router(deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger)
	r.Use(CORS)

	r.Get("/health", deps.Health.ServeHTTP)
	r.Handle("/metrics", deps.MetricsHandler)
	r.Get("/debug/live", deps.Live.ServeWS)

	if deps.Control != nil {
		r.Route("/internal", func(cr chi.Router) {
			cr.Use(RateLimit(deps.ControlLimiter, 30, time.Minute))
			deps.Control(cr)
		})
	}

	return r
}

// RouterDeps wires a Router to one service's concrete health/metrics/live
// implementations. Control is optional: the Ingestor mounts its
// /framebus-snapshot endpoint here; the Worker and Resolver mount none.
type RouterDeps struct {
	Health         *HealthHandler
	MetricsHandler http.Handler
	Live           *LiveHub
	Control        func(chi.Router)
	ControlLimiter *Limiter
}
