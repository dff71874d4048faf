package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omarluq/tpmguard/internal/quota"
	"github.com/omarluq/tpmguard/internal/ratelimit"
)

// Options configures the admin routes.
type Options struct {
	// Metrics serves MetricsPath when non-nil.
	Metrics     http.Handler
	Logger      *zerolog.Logger
	MetricsPath string
}

// NewRouter builds the admin handler. Every route is read-only and never
// consumes tokens.
func NewRouter(manager *ratelimit.Manager, limiter *quota.Limiter, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = &log.Logger
	}

	h := &handlers{manager: manager, limiter: limiter}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware(logger))
	r.Use(LoggingMiddleware)

	r.Get("/health", h.health)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/buckets", h.listBuckets)
		r.Get("/buckets/{key}", h.getBucket)
		r.Get("/quotas", h.listQuotas)
	})

	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, opts.Metrics)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusNotFound, "not_found_error", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "admin API is read-only")
	})

	return r
}
