// Package config provides the process-wide configuration for the
// gateway.
//
// Configuration is read once at startup and never mutated afterwards.
// Values come from three layers, applied in order:
//
//  1. Default() built-in values
//  2. an optional YAML file with ${VAR} and ${VAR:-default} substitution
//  3. well-known environment variables (PORT, NODE_ENV, CLIENT_URL,
//     REDIS_HOST, SECRET_KEY_ONE, SECRET_KEY_TWO, LOG_LEVEL)
//
// Load a file and validate it:
//
//	cfg, err := config.Load("gateway.yaml")
//	if err != nil {
//	    return err
//	}
//
// Durations are written in Go syntax ("30s", "5m") and decoded through
// the Duration type.
package config
