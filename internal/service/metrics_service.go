package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avtomat-kz/avtomat-api/internal/models"
)

// MetricsService owns the Prometheus registry shared by the panel and the bot.
// Every method is safe on a nil receiver so components can run without metrics.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLookups    *prometheus.HistogramVec
	cacheWrite      prometheus.Histogram
	dbQueryDuration *prometheus.HistogramVec

	botUpdates     *prometheus.CounterVec
	applications   *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	scoreRefreshes *prometheus.CounterVec
}

// NewMetricsService registers the HTTP, cache, database and bot collectors
// together with the Go runtime and process collectors.
func NewMetricsService() *MetricsService {
	m := &MetricsService{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		cacheLookups: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cache_lookup_seconds",
			Help:    "Latency of cache reads by result",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"result"}),
		cacheWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_write_seconds",
			Help:    "Latency of cache writes",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		dbQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of aggregate database reads",
			Buckets: prometheus.DefBuckets,
		}, []string{"query"}),
		botUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_updates_total",
			Help: "Inbound bot actions by kind and outcome",
		}, []string{"kind", "outcome"}),
		applications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "applications_created_total",
			Help: "Applications created by the bot per target kind",
		}, []string{"target"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Outbound notification attempts by outcome",
		}, []string{"outcome"}),
		scoreRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "score_refresh_total",
			Help: "Trust and discipline index recomputations",
		}, []string{"subject", "outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestDuration, m.requestTotal,
		m.cacheLookups, m.cacheWrite, m.dbQueryDuration,
		m.botUpdates, m.applications, m.notifications, m.scoreRefreshes,
	)
	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
	return m
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records one served request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, code).Inc()
}

// RecordCacheOperation records a cache read; the hit ratio is derived from the result label.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveCacheWrite tracks the duration of a cache write.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordBotUpdate counts one handled inbound action.
func (m *MetricsService) RecordBotUpdate(kind, outcome string) {
	if m == nil {
		return
	}
	m.botUpdates.WithLabelValues(kind, outcome).Inc()
}

// RecordApplicationCreated counts a persisted application.
func (m *MetricsService) RecordApplicationCreated(target models.TargetKind) {
	if m == nil {
		return
	}
	m.applications.WithLabelValues(string(target)).Inc()
}

// RecordNotification counts a delivery attempt.
func (m *MetricsService) RecordNotification(delivered bool) {
	if m == nil {
		return
	}
	outcome := "delivered"
	if !delivered {
		outcome = "failed"
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

// RecordScoreRefresh counts an index recomputation.
func (m *MetricsService) RecordScoreRefresh(subject string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.scoreRefreshes.WithLabelValues(subject, outcome).Inc()
}
