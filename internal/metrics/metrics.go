// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	samplesTotal     *prometheus.CounterVec
	binsTotal        *prometheus.CounterVec
	failuresTotal    *prometheus.CounterVec
	recordedRows     *prometheus.CounterVec
	sessionState     *prometheus.GaugeVec
	droppedPublishes *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		samplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wheel_samples_total",
			Help: "Samples parsed from the device, by session.",
		}, []string{"session"}),
		binsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wheel_bins_committed_total",
			Help: "Aggregate bins committed, by session.",
		}, []string{"session"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wheel_session_failures_total",
			Help: "Reader task failures, by session and kind.",
		}, []string{"session", "kind"}),
		recordedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wheel_recorded_rows_total",
			Help: "CSV rows written to recording files, by session.",
		}, []string{"session"}),
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wheel_session_state",
			Help: "Session state (0 idle, 1 monitoring, 2 recording, 3 failed).",
		}, []string{"session"}),
		droppedPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wheel_publish_dropped_total",
			Help: "Messages dropped because a consumer was not keeping up, by consumer.",
		}, []string{"consumer"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.samplesTotal,
		m.binsTotal,
		m.failuresTotal,
		m.recordedRows,
		m.sessionState,
		m.droppedPublishes,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SampleRead(session string) {
	if m == nil {
		return
	}
	m.samplesTotal.WithLabelValues(session).Inc()
}

func (m *Metrics) BinCommitted(session string) {
	if m == nil {
		return
	}
	m.binsTotal.WithLabelValues(session).Inc()
}

func (m *Metrics) RowRecorded(session string) {
	if m == nil {
		return
	}
	m.recordedRows.WithLabelValues(session).Inc()
}

func (m *Metrics) SessionFailed(session, kind string) {
	if m == nil {
		return
	}
	m.failuresTotal.WithLabelValues(session, kind).Inc()
}

func (m *Metrics) SetSessionState(session string, state float64) {
	if m == nil {
		return
	}
	m.sessionState.WithLabelValues(session).Set(state)
}

func (m *Metrics) PublishDropped(consumer string) {
	if m == nil {
		return
	}
	m.droppedPublishes.WithLabelValues(consumer).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler records count and latency of requests served by next.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}
