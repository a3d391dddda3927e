package config

import (
	"net"
	"strconv"
	"time"
)

// EnvironmentDevelopment disables the Secure flag on the session cookie.
const EnvironmentDevelopment = "development"

// Defaults.
const (
	DefaultPort            = 3000
	DefaultMetricsPort     = 9090
	DefaultSocketPath      = "/socket"
	DefaultSessionName     = "session"
	DefaultRedisChannel    = "chattygw#broadcast"
	DefaultBodyLimit int64 = 50 << 20

	// DefaultSessionMaxAge is 24*7*360000 milliseconds.
	DefaultSessionMaxAge = 24 * 7 * 360000 * time.Millisecond
)

// Config is the root configuration object.
type Config struct {
	Environment   string              `yaml:"environment" json:"environment"`
	Server        ServerConfig        `yaml:"server" json:"server"`
	Socket        SocketConfig        `yaml:"socket" json:"socket"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Redis         RedisConfig         `yaml:"redis" json:"redis"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ServerConfig configures the HTTP listener shared by the application and
// the websocket transport.
type ServerConfig struct {
	Bind            string   `yaml:"bind" json:"bind"`
	Port            int      `yaml:"port" json:"port"`
	ClientURL       string   `yaml:"clientURL" json:"clientURL"`
	BodyLimit       int64    `yaml:"bodyLimit" json:"bodyLimit"`
	ReadTimeout     Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout" json:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout" json:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
}

// Address returns the host:port the listener binds to.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Bind, strconv.Itoa(s.Port))
}

// SocketConfig configures the websocket transport.
type SocketConfig struct {
	Path          string   `yaml:"path" json:"path"`
	PingInterval  Duration `yaml:"pingInterval" json:"pingInterval"`
	PongTimeout   Duration `yaml:"pongTimeout" json:"pongTimeout"`
	WriteWait     Duration `yaml:"writeWait" json:"writeWait"`
	ReadLimit     int64    `yaml:"readLimit" json:"readLimit"`
	SendQueueSize int      `yaml:"sendQueueSize" json:"sendQueueSize"`
	// RateLimit is the sustained number of inbound frames per second
	// allowed per connection. Zero disables limiting.
	RateLimit float64 `yaml:"rateLimit" json:"rateLimit"`
	RateBurst int     `yaml:"rateBurst" json:"rateBurst"`
}

// SecurityConfig configures the security pipeline.
type SecurityConfig struct {
	Session SessionConfig `yaml:"session" json:"session"`
	Headers HeadersConfig `yaml:"headers" json:"headers"`
	HPP     HPPConfig     `yaml:"hpp" json:"hpp"`
}

// SessionConfig configures the signed session cookie.
type SessionConfig struct {
	Name string `yaml:"name" json:"name"`
	// Keys are the signing keys. Keys[0] signs new cookies; every key is
	// accepted when verifying.
	Keys   []string `yaml:"keys" json:"-"`
	MaxAge Duration `yaml:"maxAge" json:"maxAge"`
}

// HeadersConfig toggles the hardening headers stage.
type HeadersConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// HPPConfig configures the parameter-pollution guard.
type HPPConfig struct {
	// Whitelist names query keys that keep all of their values.
	Whitelist []string `yaml:"whitelist" json:"whitelist"`
}

// RedisConfig configures the broker connection shared by both bridge
// clients.
type RedisConfig struct {
	URL          string   `yaml:"url" json:"-"`
	Channel      string   `yaml:"channel" json:"channel"`
	PoolSize     int      `yaml:"poolSize" json:"poolSize"`
	DialTimeout  Duration `yaml:"dialTimeout" json:"dialTimeout"`
	ReadTimeout  Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout" json:"writeTimeout"`
}

// ObservabilityConfig configures logging, metrics and tracing.
type ObservabilityConfig struct {
	LogLevel  string        `yaml:"logLevel" json:"logLevel"`
	LogFormat string        `yaml:"logFormat" json:"logFormat"`
	Metrics   MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing   TracingConfig `yaml:"tracing" json:"tracing"`
}

// MetricsConfig configures the metrics and health server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// TracingConfig configures the OTLP exporter.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate"`
	ServiceName  string  `yaml:"serviceName" json:"serviceName"`
}

// Default returns the built-in configuration. Session keys have no
// default and must be supplied.
func Default() *Config {
	return &Config{
		Environment: EnvironmentDevelopment,
		Server: ServerConfig{
			Port:            DefaultPort,
			ClientURL:       "http://localhost:3000",
			BodyLimit:       DefaultBodyLimit,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			IdleTimeout:     Duration(120 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Socket: SocketConfig{
			Path:          DefaultSocketPath,
			PingInterval:  Duration(30 * time.Second),
			PongTimeout:   Duration(60 * time.Second),
			WriteWait:     Duration(10 * time.Second),
			ReadLimit:     1 << 20,
			SendQueueSize: 256,
			RateLimit:     50,
			RateBurst:     100,
		},
		Security: SecurityConfig{
			Session: SessionConfig{
				Name:   DefaultSessionName,
				MaxAge: Duration(DefaultSessionMaxAge),
			},
			Headers: HeadersConfig{Enabled: true},
		},
		Redis: RedisConfig{
			URL:          "redis://localhost:6379",
			Channel:      DefaultRedisChannel,
			PoolSize:     10,
			DialTimeout:  Duration(5 * time.Second),
			ReadTimeout:  Duration(3 * time.Second),
			WriteTimeout: Duration(3 * time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Metrics: MetricsConfig{
				Enabled: true,
				Port:    DefaultMetricsPort,
				Path:    "/metrics",
			},
			Tracing: TracingConfig{
				SamplingRate: 1.0,
				ServiceName:  "chattygw",
			},
		},
	}
}

// IsDevelopment reports whether the process runs in the development
// environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvironmentDevelopment
}

// SecureCookies reports whether the session cookie carries the Secure
// flag.
func (c *Config) SecureCookies() bool {
	return !c.IsDevelopment()
}
