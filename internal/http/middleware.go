package http

import (
	"bytes"
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robertarktes/event-bookings/internal/idempotency"
	"github.com/robertarktes/event-bookings/internal/observability"
	"github.com/robertarktes/event-bookings/internal/rateLimit"
	"github.com/robertarktes/event-bookings/internal/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelhttp "go.opentelemetry.io/otel/propagation"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayHeader      = "Idempotent-Replay"
	AdminTokenHeader  = "X-Admin-Token"
)

type userIDKey struct{}

// UserIDFrom returns the signed-in user set by SessionMiddleware.
func UserIDFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey{}).(int64)
	return id, ok && id > 0
}

func WithUserID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := logger.WithField("request_id", middleware.GetReqID(r.Context()))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(observability.ContextWithLogger(r.Context(), entry)))

			entry.WithField("method", r.Method).
				WithField("path", r.URL.Path).
				WithField("status", ww.Status()).
				WithField("duration_ms", time.Since(start).Milliseconds()).
				Info("request completed")
		})
	}
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status()), r.Method).Inc()
	})
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), otelhttp.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionMiddleware resolves the session cookie. Requests without a valid
// session pass through anonymously; handlers decide what that means.
func SessionMiddleware(sessions *session.Manager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := sessions.FromRequest(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// AdminMiddleware guards admin routes with a shared token. An empty
// configured token disables them.
func AdminMiddleware(token string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AdminTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeStatus(w, http.StatusForbidden, statusUnauthorized, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware applies a per-minute window to the signed-in user
// and to the client address.
func RateLimitMiddleware(rl *rateLimit.RateLimiter, perMinute int, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keys := []string{"ip:" + clientIP(r)}
			if userID, ok := UserIDFrom(r.Context()); ok {
				keys = append(keys, "user:"+strconv.FormatInt(userID, 10))
			}
			for _, key := range keys {
				allowed, err := rl.Allow(r.Context(), key, perMinute, time.Minute)
				if err != nil {
					observability.LoggerFrom(r.Context(), logger).WithError(err).Warn("rate limiter unavailable")
				}
				if !allowed {
					observability.RateLimitExceeded.Inc()
					w.Header().Set("Retry-After", "60")
					writeStatus(w, http.StatusTooManyRequests, statusFailed, "Too many requests, please try again later")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type capturingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *capturingWriter) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *capturingWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key on POST. The header is optional; 5xx responses are not
// stored so the client can retry them.
func IdempotencyMiddleware(idemp *idempotency.Idempotency, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > 128 {
				writeStatus(w, http.StatusBadRequest, statusFailed, "invalid Idempotency-Key")
				return
			}
			subject := "ip:" + clientIP(r)
			if userID, ok := UserIDFrom(r.Context()); ok {
				subject = "user:" + strconv.FormatInt(userID, 10)
			}
			scoped := idempotency.Scope(subject, r.URL.Path+":"+key)
			log := observability.LoggerFrom(r.Context(), logger).WithField("idempotency_key", key)

			stored, err := idemp.Begin(r.Context(), scoped)
			switch {
			case errors.Is(err, idempotency.ErrInFlight):
				writeStatus(w, http.StatusConflict, statusFailed, "A request with this Idempotency-Key is in progress")
				return
			case err != nil:
				log.WithError(err).Warn("idempotency store unavailable")
				next.ServeHTTP(w, r)
				return
			case stored != nil:
				if stored.ContentType != "" {
					w.Header().Set("Content-Type", stored.ContentType)
				}
				w.Header().Set(ReplayHeader, "true")
				w.WriteHeader(stored.Status)
				w.Write(stored.Body)
				return
			}

			cw := &capturingWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r)

			// The request context may be gone once the client disconnects.
			ctx := context.WithoutCancel(r.Context())
			if cw.status >= http.StatusInternalServerError || cw.status == 0 {
				if err := idemp.Abort(ctx, scoped); err != nil {
					log.WithError(err).Warn("idempotency release failed")
				}
				return
			}
			resp := idempotency.Response{Status: cw.status, ContentType: w.Header().Get("Content-Type"), Body: cw.body.Bytes()}
			if err := idemp.Finish(ctx, scoped, resp); err != nil {
				log.WithError(err).Warn("idempotency store failed")
			}
		})
	}
}
