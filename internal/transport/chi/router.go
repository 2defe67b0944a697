package chi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/threadscout/internal/metrics"
)

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	APIKeys []string
	// RequestTimeout bounds every /api/v1 request. Zero disables it.
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// NewRouter mounts s behind recovery, request id, access log, auth and metrics.
func NewRouter(s *Server, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(JSONRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEventMiddleware(logger))
	r.Use(BearerAuthMiddleware(opts.APIKeys))
	r.Use(metrics.Middleware())

	r.NotFound(s.NotFound)
	r.MethodNotAllowed(s.MethodNotAllowed)

	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(RequestTimeout(opts.RequestTimeout))
			r.Post("/search", s.Search)
			r.Get("/search", s.SearchGet)
			r.Get("/posts/details", s.GetDetails)
		})
		r.Get("/usage", s.GetUsage)
		r.Get("/usage/stream", s.StreamUsage)
	})

	return r
}
