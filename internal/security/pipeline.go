package security

import (
	"net/http"

	"github.com/vyrodovalexey/chattygw/internal/config"
	"github.com/vyrodovalexey/chattygw/internal/middleware"
	"github.com/vyrodovalexey/chattygw/internal/observability"
)

// Stage names in execution order.
const (
	StageSession = "session"
	StageHeaders = "headers"
	StageHPP     = "hpp"
	StageOrigin  = "origin"
)

// Stage is one named request transform of the pipeline.
type Stage struct {
	Name       string
	Middleware func(http.Handler) http.Handler
}

// Pipeline is the fixed, ordered list of security stages.
type Pipeline struct {
	stages   []Stage
	sessions *SessionStore
}

type pipelineOptions struct {
	logger  observability.Logger
	metrics *Metrics
}

// Option configures a Pipeline.
type Option func(*pipelineOptions)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(o *pipelineOptions) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(o *pipelineOptions) {
		o.metrics = m
	}
}

// NewPipeline builds the pipeline from the process configuration.
func NewPipeline(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	o := pipelineOptions{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	sessions, err := NewSessionStore(
		cfg.Security.Session,
		cfg.SecureCookies(),
		WithSessionLogger(o.logger),
		WithSessionMetrics(o.metrics),
	)
	if err != nil {
		return nil, err
	}

	var onReject func(*http.Request)
	if o.metrics != nil {
		onReject = func(*http.Request) { o.metrics.originRejected.Inc() }
	}

	return &Pipeline{
		sessions: sessions,
		stages: []Stage{
			{Name: StageSession, Middleware: sessions.Middleware()},
			{Name: StageHeaders, Middleware: Headers(cfg.Security.Headers.Enabled, o.metrics)},
			{Name: StageHPP, Middleware: ParameterPollution(cfg.Security.HPP.Whitelist, o.metrics)},
			{Name: StageOrigin, Middleware: middleware.Origin(middleware.OriginConfig{
				AllowOrigin: cfg.Server.ClientURL,
				OnReject:    onReject,
			})},
		},
	}, nil
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Sessions returns the session store used by the session stage.
func (p *Pipeline) Sessions() *SessionStore {
	return p.sessions
}

// Then wraps h so the first stage sees the request first.
func (p *Pipeline) Then(h http.Handler) http.Handler {
	for i := len(p.stages) - 1; i >= 0; i-- {
		h = p.stages[i].Middleware(h)
	}
	return h
}
