package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalid is wrapped by every configuration validation failure.
var ErrInvalid = errors.New("invalid configuration")

// ValidationError is a single field-scoped validation failure.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e[i].Error())
	}
	return sb.String()
}

// Is makes errors.Is(err, ErrInvalid) true for any ValidationErrors.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalid
}

// Validate checks the configuration and returns ValidationErrors, which
// match ErrInvalid, when anything is wrong.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(path, format string, args ...any) {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ClientURL == "" {
		add("server.clientURL", "is required")
	} else if u, err := url.Parse(c.Server.ClientURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("server.clientURL", "must be an absolute origin, got %q", c.Server.ClientURL)
	}
	if c.Server.BodyLimit <= 0 {
		add("server.bodyLimit", "must be positive")
	}

	if !strings.HasPrefix(c.Socket.Path, "/") {
		add("socket.path", "must start with '/', got %q", c.Socket.Path)
	}
	if c.Socket.PingInterval <= 0 {
		add("socket.pingInterval", "must be positive")
	}
	if c.Socket.PongTimeout <= c.Socket.PingInterval {
		add("socket.pongTimeout", "must be greater than socket.pingInterval")
	}
	if c.Socket.SendQueueSize < 1 {
		add("socket.sendQueueSize", "must be at least 1")
	}
	if c.Socket.RateLimit < 0 {
		add("socket.rateLimit", "must not be negative")
	}

	if c.Security.Session.Name == "" {
		add("security.session.name", "is required")
	}
	if len(c.Security.Session.Keys) == 0 {
		add("security.session.keys", "at least one signing key is required")
	}
	for i, k := range c.Security.Session.Keys {
		if k == "" {
			add(fmt.Sprintf("security.session.keys[%d]", i), "must not be empty")
		}
	}
	if c.Security.Session.MaxAge <= 0 {
		add("security.session.maxAge", "must be positive")
	}

	if c.Redis.URL == "" {
		add("redis.url", "is required")
	}
	if c.Redis.Channel == "" {
		add("redis.channel", "is required")
	}

	if c.Observability.Metrics.Enabled {
		if c.Observability.Metrics.Port < 1 || c.Observability.Metrics.Port > 65535 {
			add("observability.metrics.port", "must be between 1 and 65535, got %d", c.Observability.Metrics.Port)
		}
		if c.Observability.Metrics.Port == c.Server.Port {
			add("observability.metrics.port", "must differ from server.port")
		}
	}
	if r := c.Observability.Tracing.SamplingRate; r < 0 || r > 1 {
		add("observability.tracing.samplingRate", "must be between 0 and 1, got %v", r)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
