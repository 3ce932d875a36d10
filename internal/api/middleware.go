package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/apperr"
	"github.com/lalithlochan/backoffice/internal/auth"
	"github.com/lalithlochan/backoffice/internal/devices"
	"github.com/lalithlochan/backoffice/internal/metrics"
	"github.com/lalithlochan/backoffice/internal/redis"
)

// Limiter is a keyed request limiter.
type Limiter interface {
	Allow(ctx context.Context, key string) (*redis.RateLimitResult, error)
}

// Idempotency stores responses per Idempotency-Key.
type Idempotency interface {
	CheckOrReserve(ctx context.Context, scope, key string) (*redis.IdempotencyResult, error)
	Store(ctx context.Context, scope, key string, result *redis.IdempotencyResult, ttl time.Duration) error
	Release(ctx context.Context, scope, key string) error
}

// RateLimitMiddleware rejects requests over the limit with 429 and a
// Retry-After header. keyFunc returning "" skips the check, and a limiter
// error lets the request through.
func RateLimitMiddleware(limiter Limiter, logger *zap.Logger, scope string, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limit check failed", zap.Error(err), zap.String("key", key))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				retryAfter := max(result.RetryAfter(time.Now()), 1)
				metrics.RecordRateLimitRejection(scope)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				apperr.WriteProblem(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too Many Requests",
					fmt.Sprintf("poll again in %d seconds", retryAfter))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// DeviceKeyFunc keys limits by the admitted device fingerprint.
func DeviceKeyFunc(r *http.Request) string {
	if fp, ok := devices.FingerprintFrom(r.Context()); ok {
		return "device:" + fp
	}
	return ""
}

// IdempotencyMiddleware replays the stored response of a request repeated
// with the same Idempotency-Key. Keys are scoped to the authenticated subject
// and the path. Only 2xx responses are stored; anything else releases the key
// so the client can retry.
func IdempotencyMiddleware(store Idempotency, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if store == nil || key == "" {
				next.ServeHTTP(w, r)
				return
			}

			subject, _ := auth.SubjectFrom(r.Context())
			scope := fmt.Sprintf("%d:%s", subject, r.URL.Path)

			cached, err := store.CheckOrReserve(r.Context(), scope, key)
			switch {
			case errors.Is(err, redis.ErrDuplicateRequest):
				apperr.WriteProblem(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"another request with this idempotency key is in progress")
				return
			case err != nil:
				logger.Warn("idempotency check failed, proceeding",
					zap.Error(err),
					zap.String("idempotency_key", key),
				)
				next.ServeHTTP(w, r)
				return
			case cached != nil:
				metrics.RecordIdempotencyHit()
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotency-Replayed", "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			var body bytes.Buffer
			ww.Tee(&body)

			next.ServeHTTP(ww, r)

			// The request context may already be done; finish on a fresh one.
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
			defer cancel()

			status := ww.Status()
			if status >= 200 && status < 300 && body.Len() > 0 {
				err = store.Store(ctx, scope, key, &redis.IdempotencyResult{
					StatusCode: status,
					Body:       bytes.TrimSpace(body.Bytes()),
				}, redis.IdempotencyTTL)
			} else {
				err = store.Release(ctx, scope, key)
			}
			if err != nil {
				logger.Warn("failed to finish idempotency record",
					zap.Error(err),
					zap.String("idempotency_key", key),
				)
			}
		})
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if fp := r.Header.Get(devices.FingerprintHeader); fp != "" {
				fields = append(fields, zap.String("fingerprint", fp))
			}
			logger.Info("request completed", fields...)
		})
	}
}
