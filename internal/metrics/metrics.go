// Package metrics exposes Prometheus instrumentation for the feed, the
// monitor and the HTTP API.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/firewatch/internal/feed"
	"github.com/rewired-gh/firewatch/internal/models"
)

const namespace = "firewatch"

// Metrics holds the collectors on a private registry. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	readingsTotal   *prometheus.CounterVec
	riskLevel       prometheus.Gauge
	missingTotal    *prometheus.CounterVec
	alertsTotal     *prometheus.CounterVec
	sinkErrors      *prometheus.CounterVec
	sourceFailures  prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	lastReadingUnix prometheus.Gauge
}

// New creates the collectors and registers them together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		readingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_total",
			Help:      "Total classified readings by risk level.",
		}, []string{"level"}),
		riskLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "risk_level",
			Help:      "Risk severity of the installed reading (0 safe, 1 warning, 2 danger).",
		}),
		missingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_readings_total",
			Help:      "Total readings that arrived without a value, by field.",
		}, []string{"field"}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Total alerts raised by the monitor, by severity.",
		}, []string{"severity"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Total failures writing a reading to a sink.",
		}, []string{"sink"}),
		sourceFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_consecutive_failures",
			Help:      "Consecutive failed polls of the reading source.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		lastReadingUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reading_timestamp_seconds",
			Help:      "Unix time of the most recent reading.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.readingsTotal,
		m.riskLevel,
		m.missingTotal,
		m.alertsTotal,
		m.sinkErrors,
		m.sourceFailures,
		m.httpRequests,
		m.httpDuration,
		m.lastReadingUnix,
	)

	for _, l := range models.RiskLevels {
		m.readingsTotal.WithLabelValues(l.String())
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveState records one classified reading.
func (m *Metrics) ObserveState(st feed.State) {
	if m == nil {
		return
	}
	level := st.Level()
	m.readingsTotal.WithLabelValues(level.String()).Inc()
	m.riskLevel.Set(float64(level.Severity()))
	for _, f := range st.Assessment.Missing {
		m.missingTotal.WithLabelValues(string(f)).Inc()
	}
	if !st.Reading.Timestamp.IsZero() {
		m.lastReadingUnix.Set(float64(st.Reading.Timestamp.Unix()))
	}
}

// AlertRaised counts an alert.
func (m *Metrics) AlertRaised(a *models.Alert) {
	if m == nil || a == nil {
		return
	}
	m.alertsTotal.WithLabelValues(a.Severity).Inc()
}

// SinkError counts a failed write to a named sink.
func (m *Metrics) SinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

// SetSourceFailures sets the consecutive poll failure gauge.
func (m *Metrics) SetSourceFailures(n int) {
	if m == nil {
		return
	}
	m.sourceFailures.Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Flush lets streaming handlers flush through the recorder.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets websocket upgrades pass through the recorder.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// WrapHandler counts requests and observes latency under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
