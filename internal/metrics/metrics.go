package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/septivank/meter-reading-service/internal/db"
)

const namespace = "meter_reading"

// Outcome labels
const (
	OutcomeSuccess = "success"
)

// measure_type labels for values outside the accepted set
const (
	measureTypeUnknown = "unknown"
	measureTypeInvalid = "invalid"
)

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// submissions counts upload attempts.
	// Labels: measure_type (WATER, GAS, unknown or invalid), outcome (success or an error code)
	submissions *prometheus.CounterVec

	// confirmations counts confirmation attempts.
	// Labels: outcome (success or an error code)
	confirmations *prometheus.CounterVec

	// analyzerDuration measures image analysis latency.
	// Labels: status (success or an error code)
	analyzerDuration *prometheus.HistogramVec

	// httpRequests counts served requests.
	// Labels: method, route, status
	httpRequests *prometheus.CounterVec
}

// New registers the service collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Reading submissions by measure type and outcome",
		}, []string{"measure_type", "outcome"}),
		confirmations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_total",
			Help:      "Reading confirmations by outcome",
		}, []string{"outcome"}),
		analyzerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "duration_seconds",
			Help:      "Image analysis provider latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13, 21, 30},
		}, []string{"status"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
	}
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSubmission records one upload attempt. measureType may be the raw
// client value; anything but WATER or GAS is folded into one label.
func (m *Metrics) ObserveSubmission(measureType, outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(measureTypeLabel(measureType), outcome).Inc()
}

func measureTypeLabel(raw string) string {
	if raw == "" {
		return measureTypeUnknown
	}
	if mt, ok := db.ParseMeasureType(raw); ok {
		return string(mt)
	}
	return measureTypeInvalid
}

// ObserveConfirmation records one confirmation attempt
func (m *Metrics) ObserveConfirmation(outcome string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(outcome).Inc()
}

// ObserveAnalysis records one provider round trip
func (m *Metrics) ObserveAnalysis(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.analyzerDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// ObserveRequest records one served HTTP request
func (m *Metrics) ObserveRequest(method, route, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}
