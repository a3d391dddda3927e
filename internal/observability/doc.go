// Package observability provides structured logging, Prometheus metrics
// and OpenTelemetry tracing for the gateway.
//
// # Logging
//
// The Logger interface is passed explicitly into every component that
// logs; there is no package-level logger.
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = logger.Sync() }()
//
//	logger.Info("server running", observability.Int("port", 3000))
//
// # Metrics
//
// Metrics owns a private Prometheus registry. Other packages register
// their own collectors on it so a single /metrics endpoint exposes
// everything:
//
//	m := observability.NewMetrics("chattygw")
//	m.MustRegisterCollector(bridgeMetrics)
//	http.Handle("/metrics", m.Handler())
//
// # Tracing
//
// NewTracer installs an OTLP/gRPC exporter when enabled and is a no-op
// tracer otherwise.
package observability
