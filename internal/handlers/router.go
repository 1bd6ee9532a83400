package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/garlicbreadcleric/increadable/internal/middleware"
)

// RouterConfig holds everything the HTTP surface is built from
type RouterConfig struct {
	Documents   *DocumentHandler
	Reader      *ReaderHandler
	Health      http.Handler
	RateLimiter *middleware.RateLimiter
	Timeout     time.Duration
	Logger      *zap.Logger
}

// NewRouter wires routes and middleware
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Health stays outside the middleware chain so probes answer even under load.
	if cfg.Health != nil {
		r.Method(http.MethodGet, "/health", cfg.Health)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.LoggingMiddleware(cfg.Logger))
		r.Use(middleware.RecoveryMiddleware(cfg.Logger))
		r.Use(middleware.TimeoutMiddleware(cfg.Timeout))
		if cfg.RateLimiter != nil {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimiter, cfg.Logger))
		}

		r.Get("/", cfg.Reader.Index)
		r.Get("/book/{id}", cfg.Reader.Book)

		r.Route("/api/documents", func(r chi.Router) {
			cfg.Documents.Routes(r)
			cfg.Reader.Routes(r)
		})

		r.NotFound(NotFound)
	})

	return r
}
