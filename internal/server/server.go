package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/chattygw/internal/bridge"
	"github.com/vyrodovalexey/chattygw/internal/config"
	"github.com/vyrodovalexey/chattygw/internal/gateway"
	"github.com/vyrodovalexey/chattygw/internal/health"
	"github.com/vyrodovalexey/chattygw/internal/middleware"
	"github.com/vyrodovalexey/chattygw/internal/observability"
	"github.com/vyrodovalexey/chattygw/internal/security"
	"github.com/vyrodovalexey/chattygw/internal/transport"
)

// Stage names in execution order.
const (
	StageSecurity       = "security"
	StageStandard       = "standard"
	StageRoutes         = "routes"
	StageNotFound       = "not-found"
	StageErrorResponder = "error-responder"
	StageGateway        = "gateway"
)

// metricsNamespace prefixes every metric of the process.
const metricsNamespace = "chattygw"

var releaseMode sync.Once

// RouteInstaller registers application routes on the engine and event
// handlers on the websocket transport.
type RouteInstaller func(r gin.IRouter, ws *transport.Server)

// Server is one gateway process.
type Server struct {
	cfg         *config.Config
	logger      observability.Logger
	routes      RouteInstaller
	tracer      *observability.Tracer
	ownTracer   bool
	gatewayOpts []gateway.Option

	version   string
	commit    string
	buildTime string

	metrics   *observability.Metrics
	engine    *gin.Engine
	transport *transport.Server
	checker   *health.Checker
	responder func(c *gin.Context, err error)

	mu            sync.Mutex
	stages        []string
	pipeline      *security.Pipeline
	gateway       *gateway.Gateway
	metricsServer *gateway.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRoutes sets the route installer.
func WithRoutes(install RouteInstaller) Option {
	return func(s *Server) {
		s.routes = install
	}
}

// WithTracer sets the tracer. The caller keeps ownership of it.
func WithTracer(tracer *observability.Tracer) Option {
	return func(s *Server) {
		s.tracer = tracer
	}
}

// WithBuildInfo sets the version reported by metrics and health.
func WithBuildInfo(version, commit, buildTime string) Option {
	return func(s *Server) {
		s.version = version
		s.commit = commit
		s.buildTime = buildTime
	}
}

// WithGatewayOptions passes extra options to the connection gateway.
func WithGatewayOptions(opts ...gateway.Option) Option {
	return func(s *Server) {
		s.gatewayOpts = append(s.gatewayOpts, opts...)
	}
}

// New creates a server. Nothing is bound until Start.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, gateway.ErrNilConfig
	}

	s := &Server{
		cfg:     cfg,
		logger:  observability.NopLogger(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.metrics = observability.NewMetrics(metricsNamespace)
	s.metrics.SetBuildInfo(s.version, s.commit, s.buildTime)

	transportMetrics := transport.NewMetrics(metricsNamespace)
	healthMetrics := health.NewMetrics(metricsNamespace)
	s.metrics.MustRegisterCollector(transportMetrics)
	s.metrics.MustRegisterCollector(healthMetrics)

	s.transport = transport.NewServer(cfg.Socket,
		transport.WithLogger(s.logger),
		transport.WithMetrics(transportMetrics),
	)
	s.checker = health.NewChecker(s.version,
		health.WithLogger(s.logger),
		health.WithMetrics(healthMetrics),
	)

	releaseMode.Do(func() { gin.SetMode(gin.ReleaseMode) })
	s.engine = gin.New()
	s.engine.Use(s.errorBoundary)

	return s, nil
}

// Start runs every stage in order and returns once the gateway accepts
// connections.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.stages) > 0 {
		return gateway.ErrAlreadyStarted
	}

	if s.tracer == nil {
		tracer, err := observability.NewTracer(ctx, observability.TracerConfig{
			ServiceName:    s.cfg.Observability.Tracing.ServiceName,
			ServiceVersion: s.version,
			OTLPEndpoint:   s.cfg.Observability.Tracing.OTLPEndpoint,
			SamplingRate:   s.cfg.Observability.Tracing.SamplingRate,
			Enabled:        s.cfg.Observability.Tracing.Enabled,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracer = tracer
		s.ownTracer = true
	}

	for _, stage := range []struct {
		name string
		run  func(ctx context.Context) error
	}{
		{StageSecurity, s.installSecurity},
		{StageStandard, s.installStandard},
		{StageRoutes, s.installRoutes},
		{StageNotFound, s.installNotFound},
		{StageErrorResponder, s.installErrorResponder},
		{StageGateway, s.startGateway},
	} {
		s.stages = append(s.stages, stage.name)
		if err := stage.run(ctx); err != nil {
			err = fmt.Errorf("stage %s: %w", stage.name, err)
			if s.ownTracer {
				err = errors.Join(err, s.tracer.Shutdown(ctx))
				s.ownTracer = false
			}
			return err
		}
		s.logger.Debug("stage installed", observability.String("stage", stage.name))
	}

	if s.cfg.Observability.Metrics.Enabled {
		if err := s.startMetricsServer(ctx); err != nil {
			err = errors.Join(err, s.gateway.Stop(ctx))
			if s.ownTracer {
				err = errors.Join(err, s.tracer.Shutdown(ctx))
				s.ownTracer = false
			}
			return err
		}
	}

	return nil
}

func (s *Server) installSecurity(context.Context) error {
	metrics := security.NewMetrics(metricsNamespace)
	if err := s.metrics.RegisterCollector(metrics); err != nil {
		return err
	}

	pipeline, err := security.NewPipeline(s.cfg,
		security.WithLogger(s.logger),
		security.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	s.pipeline = pipeline
	return nil
}

func (s *Server) installStandard(context.Context) error {
	s.engine.Use(originGuard, routeLabel, bodyLimit(s.cfg.Server.BodyLimit))
	return nil
}

func (s *Server) installRoutes(context.Context) error {
	if s.routes != nil {
		s.routes(s.engine, s.transport)
	}
	return nil
}

func (s *Server) installNotFound(context.Context) error {
	s.engine.NoRoute(notFound)
	return nil
}

func (s *Server) installErrorResponder(context.Context) error {
	s.responder = s.respondError
	return nil
}

func (s *Server) startGateway(ctx context.Context) error {
	bridgeMetrics := bridge.NewMetrics(metricsNamespace)
	if err := s.metrics.RegisterCollector(bridgeMetrics); err != nil {
		return err
	}

	opts := []gateway.Option{
		gateway.WithLogger(s.logger),
		gateway.WithTransport(s.transport),
		gateway.WithBridgeOptions(bridge.WithMetrics(bridgeMetrics)),
		gateway.WithMiddleware(
			middleware.Recovery(s.logger),
			middleware.RequestID(),
			observability.TracingMiddleware(s.tracer),
			middleware.Logging(s.logger),
			observability.MetricsMiddleware(s.metrics),
			s.pipeline.Then,
		),
	}
	opts = append(opts, s.gatewayOpts...)

	gw, err := gateway.New(s.cfg, s.engine, opts...)
	if err != nil {
		return err
	}
	s.gateway = gw
	s.checker.RegisterCheck("bridge", gw.Ping)

	return gw.Start(ctx)
}

func (s *Server) startMetricsServer(ctx context.Context) error {
	mcfg := s.cfg.Observability.Metrics
	mux := http.NewServeMux()
	mux.Handle(mcfg.Path, s.metrics.Handler())
	mux.HandleFunc("/health", s.checker.HealthHandler())
	mux.HandleFunc("/ready", s.checker.ReadinessHandler())
	mux.HandleFunc("/live", s.checker.LivenessHandler())

	listener := gateway.NewListener(config.ServerConfig{
		Bind:         s.cfg.Server.Bind,
		Port:         mcfg.Port,
		ReadTimeout:  config.Duration(5 * time.Second),
		WriteTimeout: config.Duration(10 * time.Second),
		IdleTimeout:  config.Duration(60 * time.Second),
	}, mux, gateway.WithListenerLogger(s.logger))
	if err := listener.Bind(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	if err := listener.Serve(); err != nil {
		return errors.Join(err, listener.Close())
	}
	s.metricsServer = listener

	s.logger.Info("starting metrics server",
		observability.String("address", listener.Addr().String()),
		observability.String("metrics_path", mcfg.Path),
	)
	return nil
}

// Stop stops the gateway, the metrics server and an owned tracer.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gateway == nil {
		return gateway.ErrNotRunning
	}

	var errs []error
	if err := s.gateway.Stop(ctx); err != nil && !errors.Is(err, gateway.ErrNotRunning) {
		errs = append(errs, err)
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop metrics server: %w", err))
		}
		s.metricsServer = nil
	}
	if s.ownTracer {
		if err := s.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer: %w", err))
		}
		s.ownTracer = false
	}
	return errors.Join(errs...)
}

// Run starts the server, blocks until ctx is done and stops it within the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	s.logger.Info("shutting down", observability.Error(context.Cause(ctx)))

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	return s.Stop(stopCtx)
}

// Stages returns the stages executed so far, in order.
func (s *Server) Stages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.stages...)
}

// Addr returns the address the gateway is bound to.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gateway == nil {
		return nil
	}
	return s.gateway.Addr()
}

// MetricsAddr returns the address of the metrics server, if running.
func (s *Server) MetricsAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metricsServer == nil {
		return nil
	}
	return s.metricsServer.Addr()
}

// Transport returns the websocket transport server.
func (s *Server) Transport() *transport.Server {
	return s.transport
}

// Engine returns the application engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Metrics returns the process metrics.
func (s *Server) Metrics() *observability.Metrics {
	return s.metrics
}
