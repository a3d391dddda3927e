// Package health provides the liveness, readiness and health endpoints
// served next to the metrics endpoint.
//
// Readiness runs every registered check with a probe timeout; the gateway
// registers a check that pings both broker connections of the bridge.
//
//	checker := health.NewChecker(version, health.WithLogger(logger))
//	checker.RegisterCheck("bridge", gw.Ping)
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/health", checker.HealthHandler())
//	mux.HandleFunc("/ready", checker.ReadinessHandler())
//	mux.HandleFunc("/live", checker.LivenessHandler())
package health
