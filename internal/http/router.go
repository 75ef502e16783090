package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/event-bookings/internal/idempotency"
	"github.com/robertarktes/event-bookings/internal/observability"
	"github.com/robertarktes/event-bookings/internal/rateLimit"
	"github.com/robertarktes/event-bookings/internal/session"
)

type RouterOptions struct {
	Sessions           *session.Manager
	RateLimiter        *rateLimit.RateLimiter
	RateLimitPerMinute int
	Idempotency        *idempotency.Idempotency
	AdminToken         string
}

// SetupRouter wires the booking routes. A nil RateLimiter or Idempotency
// disables that middleware.
func SetupRouter(h *Handlers, logger observability.Logger, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(MetricsMiddleware)
	r.Use(TracingMiddleware)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(SessionMiddleware(opts.Sessions))
		if opts.RateLimiter != nil {
			r.Use(RateLimitMiddleware(opts.RateLimiter, opts.RateLimitPerMinute, logger))
		}
		if opts.Idempotency != nil {
			r.Use(IdempotencyMiddleware(opts.Idempotency, logger))
		}

		r.Route("/booking", func(r chi.Router) {
			r.Get("/", h.MyBookings)
			r.Post("/payment/verify", h.VerifyPayment)
			r.Get("/{postId}", h.BookingPage)
			r.Get("/{postId}/status", h.BookingStatus)
			r.Post("/{postId}/cancel", h.CancelBooking)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(AdminMiddleware(opts.AdminToken))
		r.Get("/posts/{postId}/bookings", h.PostBookings)
		r.Delete("/users/{userId}/bookings", h.DeleteUserBookings)
	})

	return r
}
