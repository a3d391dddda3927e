package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains bridge metrics.
type Metrics struct {
	published       *prometheus.CounterVec
	received        *prometheus.CounterVec
	publishDuration prometheus.Histogram
	connectFailures prometheus.Counter
}

// NewMetrics creates bridge metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "published_total",
				Help:      "Packets published to the broker by result",
			},
			[]string{"result"},
		),
		received: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "received_total",
				Help:      "Packets received from the broker by outcome (delivered, own, invalid)",
			},
			[]string{"outcome"},
		),
		publishDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "publish_duration_seconds",
				Help:      "Broker publish latency",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		connectFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "connect_failures_total",
				Help:      "Failed attempts to connect the publisher and subscriber",
			},
		),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.published.Describe(ch)
	m.received.Describe(ch)
	m.publishDuration.Describe(ch)
	m.connectFailures.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.published.Collect(ch)
	m.received.Collect(ch)
	m.publishDuration.Collect(ch)
	m.connectFailures.Collect(ch)
}
