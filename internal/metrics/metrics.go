package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backoffice_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backoffice_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	jobsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backoffice_sync_jobs_enqueued_total",
			Help: "Sync jobs created",
		},
	)

	jobClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backoffice_sync_job_claims_total",
			Help: "Claim attempts by result (claimed, conflict, not_found)",
		},
		[]string{"result"},
	)

	jobsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backoffice_sync_jobs_resolved_total",
			Help: "Sync jobs resolved by outcome",
		},
		[]string{"outcome"},
	)

	jobsReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backoffice_sync_jobs_reclaimed_total",
			Help: "Stale claims returned to pending",
		},
	)

	deviceRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backoffice_device_rejections_total",
			Help: "Device requests rejected by reason",
		},
		[]string{"reason"},
	)

	npsAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backoffice_nps_attempts_total",
			Help: "NPS delivery attempts by result and channel",
		},
		[]string{"result", "channel"},
	)

	npsDispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backoffice_nps_dispatch_cycle_seconds",
			Help:    "Duration of one NPS dispatch cycle",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60},
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backoffice_idempotency_hits_total",
			Help: "Requests served from idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backoffice_rate_limit_rejections_total",
			Help: "Requests rejected by the poll interval limiter",
		},
		[]string{"scope"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backoffice_sender_breaker_state",
			Help: "Sender circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"sender"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "backoffice_db_connections_active",
			Help: "Acquired database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordJobEnqueued() {
	jobsEnqueued.Inc()
}

// RecordJobClaim records the result of a claim attempt.
func RecordJobClaim(result string) {
	jobClaims.WithLabelValues(result).Inc()
}

func RecordJobResolved(outcome string) {
	jobsResolved.WithLabelValues(outcome).Inc()
}

func RecordJobsReclaimed(n int64) {
	jobsReclaimed.Add(float64(n))
}

// RecordDeviceRejection records a device that failed the registry check.
func RecordDeviceRejection(reason string) {
	deviceRejections.WithLabelValues(reason).Inc()
}

// RecordNPSAttempt records the result of one envelope delivery attempt.
func RecordNPSAttempt(result, channel string) {
	npsAttempts.WithLabelValues(result, channel).Inc()
}

func RecordDispatchCycle(duration time.Duration) {
	npsDispatchDuration.Observe(duration.Seconds())
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(scope string) {
	rateLimitRejections.WithLabelValues(scope).Inc()
}

// SetBreakerState records the state of a named sender circuit breaker.
func SetBreakerState(sender string, state int) {
	breakerState.WithLabelValues(sender).Set(float64(state))
}

// SetDBConnections sets acquired database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request metrics labelled by the chi route pattern, so
// /v1/jobs/{id}/claim is one series instead of one per job.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		RecordRequest(r.Method, path, wrapped.status, time.Since(start))
	})
}
