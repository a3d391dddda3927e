package config

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variables read by ApplyEnv.
const (
	EnvPort         = "PORT"
	EnvNodeEnv      = "NODE_ENV"
	EnvClientURL    = "CLIENT_URL"
	EnvRedisHost    = "REDIS_HOST"
	EnvSecretKeyOne = "SECRET_KEY_ONE"
	EnvSecretKeyTwo = "SECRET_KEY_TWO"
	EnvLogLevel     = "LOG_LEVEL"
)

// ApplyEnv overrides cfg with the well-known environment variables that
// are set and non-empty. SECRET_KEY_ONE and SECRET_KEY_TWO replace the
// session key list when either is non-empty, primary first. A secondary
// key without a primary is rejected.
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, EnvPort, v)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup(EnvNodeEnv); ok && v != "" {
		cfg.Environment = v
	}
	if v, ok := lookup(EnvClientURL); ok && v != "" {
		cfg.Server.ClientURL = v
	}
	if v, ok := lookup(EnvRedisHost); ok && v != "" {
		cfg.Redis.URL = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Observability.LogLevel = v
	}

	one, _ := lookup(EnvSecretKeyOne)
	two, _ := lookup(EnvSecretKeyTwo)
	switch {
	case one == "" && two != "":
		return fmt.Errorf("%w: %s is set without %s", ErrInvalid, EnvSecretKeyTwo, EnvSecretKeyOne)
	case two != "":
		cfg.Security.Session.Keys = []string{one, two}
	case one != "":
		cfg.Security.Session.Keys = []string{one}
	}
	return nil
}
