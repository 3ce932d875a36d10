package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/metrics"
)

// RouterConfig carries the middleware the router applies per route group.
type RouterConfig struct {
	// Authenticate verifies the bearer token (auth.Middleware).
	Authenticate func(http.Handler) http.Handler
	// Device admits authorized devices only (devices.Middleware).
	Device func(http.Handler) http.Handler

	PollLimiter Limiter
	Idempotency Idempotency

	// Health reports readiness; nil always answers OK.
	Health func(*http.Request) error
	// RequestTimeout bounds every request. Zero means 30s.
	RequestTimeout time.Duration
}

// NewRouter builds the gateway's chi router.
func NewRouter(h *Handler, cfg RouterConfig) chi.Router {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Authenticate == nil || cfg.Device == nil {
		panic("api: router needs both the bearer and the device middleware")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(h.logger))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/token", h.Login)

		// Terminals poll with their fingerprint only.
		r.With(cfg.Device, RateLimitMiddleware(cfg.PollLimiter, h.logger, "device_poll", DeviceKeyFunc)).
			Get("/jobs", h.PollJobs)

		r.Group(func(r chi.Router) {
			r.Use(cfg.Authenticate)

			r.With(cfg.Device).Post("/jobs/{id}/claim", h.ClaimJob)
			r.With(cfg.Device).Post("/jobs/{id}/resolve", h.ResolveJob)
			r.Post("/jobs", h.EnqueueJob)
			r.Post("/jobs/reclaim", h.ReclaimJobs)

			r.Get("/devices/{fp}", h.GetDevice)
			r.Put("/devices/{fp}/authorization", h.AuthorizeDevice)
			r.Delete("/devices/{fp}/authorization", h.RevokeDevice)
			r.Post("/devices/{fp}/deactivate", h.DeactivateDevice)

			r.Get("/nps/dispatchable", h.ListDispatchable)
			r.Post("/nps/dispatch", h.Dispatch)
			r.Post("/nps/envelopes", h.ScheduleEnvelope)
			r.Get("/nps/envelopes", h.FindEnvelope)
			r.Get("/nps/envelopes/{id}", h.GetEnvelope)
			r.With(IdempotencyMiddleware(cfg.Idempotency, h.logger)).
				Post("/nps/envelopes/{id}/attempts", h.RecordAttempt)
			r.Post("/nps/envelopes/{id}/requeue", h.RequeueEnvelope)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(r); err != nil {
				h.logger.Warn("health check failed", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("UNAVAILABLE"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	return r
}
