package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/grade-portal/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the portal.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	cacheLatency     prometheus.Histogram
	gradeTransitions *prometheus.CounterVec
	alertsCreated    *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	fanoutFailures   prometheus.Counter
	realtimeClients  prometheus.Gauge
}

// NewMetricsService registers the portal collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grade_cache_lookups_total",
			Help: "Grade cache lookups by result",
		}, []string{"result"}),
		cacheLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grade_cache_latency_seconds",
			Help:    "Latency for grade cache lookups",
			Buckets: prometheus.DefBuckets,
		}),
		gradeTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grade_transitions_total",
			Help: "Grades written per resulting approval status",
		}, []string{"status"}),
		alertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_alerts_created_total",
			Help: "Guardian alerts created by type and severity",
		}, []string{"type", "severity"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_created_total",
			Help: "Inbox notifications created by type",
		}, []string{"type"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "external_deliveries_total",
			Help: "External delivery attempts by channel and outcome",
		}, []string{"channel", "outcome"}),
		fanoutFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fanout_failures_total",
			Help: "Fan-out persistence failures swallowed after a grade write",
		}),
		realtimeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_clients",
			Help: "Connected websocket clients on this instance",
		}),
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(m.requestDuration, m.requestTotal, m.cacheLookups, m.cacheLatency, m.gradeTransitions,
		m.alertsCreated, m.notifications, m.deliveries, m.fanoutFailures, m.realtimeClients, goroutines)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
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

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheLookup records a grade cache hit or miss.
func (m *MetricsService) RecordCacheLookup(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
	m.cacheLatency.Observe(duration.Seconds())
}

// RecordGradeTransition counts a grade written with status.
func (m *MetricsService) RecordGradeTransition(status models.ApprovalStatus) {
	if m == nil {
		return
	}
	m.gradeTransitions.WithLabelValues(string(status)).Inc()
}

// RecordAlert counts a created guardian alert.
func (m *MetricsService) RecordAlert(c Classification) {
	if m == nil {
		return
	}
	m.alertsCreated.WithLabelValues(string(c.Type), string(c.Severity)).Inc()
}

// RecordNotification counts a created inbox notification.
func (m *MetricsService) RecordNotification(t models.NotificationType) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(string(t)).Inc()
}

// RecordDelivery counts an external delivery attempt. It matches delivery.Observer.
func (m *MetricsService) RecordDelivery(channel string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.deliveries.WithLabelValues(channel, outcome).Inc()
}

// RecordFanoutFailure counts a swallowed fan-out failure.
func (m *MetricsService) RecordFanoutFailure() {
	if m == nil {
		return
	}
	m.fanoutFailures.Inc()
}

// RealtimeConnected adjusts the connected client gauge by delta.
func (m *MetricsService) RealtimeConnected(delta int) {
	if m == nil {
		return
	}
	m.realtimeClients.Add(float64(delta))
}
