package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/org/teamvault/internal/storage"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "teamvault_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "teamvault_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	activeUsersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "teamvault_active_users",
		Help: "Number of active user accounts.",
	})

	secretsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "teamvault_secrets_total",
		Help: "Total number of stored secrets.",
	})

	pendingInvitesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "teamvault_pending_invites",
		Help: "Number of outstanding invitations.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, activeUsersGauge, secretsGauge, pendingInvitesGauge)
}

// MetricsHandler serves Prometheus metrics, refreshing the domain gauges from
// storage on each scrape.
func MetricsHandler(store storage.Backend) http.Handler {
	inner := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshGauges(r.Context(), store)
		inner.ServeHTTP(w, r)
	})
}

func refreshGauges(ctx context.Context, store storage.Backend) {
	if n, err := store.CountActiveUsers(ctx); err == nil {
		activeUsersGauge.Set(float64(n))
	} else {
		log.Warn().Err(err).Msg("refreshing active user gauge failed")
	}
	if n, err := store.CountSecrets(ctx); err == nil {
		secretsGauge.Set(float64(n))
	}
	if n, err := store.CountPendingInvites(ctx); err == nil {
		pendingInvitesGauge.Set(float64(n))
	}
}

// metricsMiddleware records request metrics.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(dur)
	})
}
