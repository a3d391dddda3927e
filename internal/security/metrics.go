package security

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains security pipeline metrics. It is a
// prometheus.Collector so it can be registered on any registry.
type Metrics struct {
	sessionsLoaded   *prometheus.CounterVec
	headersApplied   prometheus.Counter
	pollutedRequests prometheus.Counter
	originRejected   prometheus.Counter
}

// NewMetrics creates security metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		sessionsLoaded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "security",
				Name:      "sessions_loaded_total",
				Help:      "Session cookies read by result (none, valid, invalid, expired)",
			},
			[]string{"result"},
		),
		headersApplied: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "security",
				Name:      "headers_applied_total",
				Help:      "Total number of responses given the hardening headers",
			},
		),
		pollutedRequests: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "security",
				Name:      "polluted_requests_total",
				Help:      "Requests whose repeated query parameters were collapsed",
			},
		),
		originRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "security",
				Name:      "origin_rejected_total",
				Help:      "Requests carrying an origin other than the allowed one",
			},
		),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.sessionsLoaded.Describe(ch)
	m.headersApplied.Describe(ch)
	m.pollutedRequests.Describe(ch)
	m.originRejected.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.sessionsLoaded.Collect(ch)
	m.headersApplied.Collect(ch)
	m.pollutedRequests.Collect(ch)
	m.originRejected.Collect(ch)
}
