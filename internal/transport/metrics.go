package transport

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains websocket transport metrics.
type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  *prometheus.CounterVec
	framesReceived    *prometheus.CounterVec
	framesSent        prometheus.Counter
	broadcasts        *prometheus.CounterVec
	droppedFrames     prometheus.Counter
}

// NewMetrics creates transport metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections_active",
			Help:      "Number of open websocket connections",
		}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "Websocket upgrade attempts by result",
		}, []string{"result"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "frames_received_total",
			Help:      "Inbound frames by outcome",
		}, []string{"outcome"}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "frames_sent_total",
			Help:      "Frames written to clients",
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "broadcasts_total",
			Help:      "Broadcasts fanned out to local connections by origin (local, remote)",
		}, []string{"origin"}),
		droppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "dropped_frames_total",
			Help:      "Frames dropped because a send queue was full",
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.connectionsActive.Describe(ch)
	m.connectionsTotal.Describe(ch)
	m.framesReceived.Describe(ch)
	m.framesSent.Describe(ch)
	m.broadcasts.Describe(ch)
	m.droppedFrames.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.connectionsActive.Collect(ch)
	m.connectionsTotal.Collect(ch)
	m.framesReceived.Collect(ch)
	m.framesSent.Collect(ch)
	m.broadcasts.Collect(ch)
	m.droppedFrames.Collect(ch)
}
