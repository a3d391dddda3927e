package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/chattygw/internal/bridge"
	"github.com/vyrodovalexey/chattygw/internal/config"
	"github.com/vyrodovalexey/chattygw/internal/observability"
	"github.com/vyrodovalexey/chattygw/internal/transport"
)

// State represents the gateway state.
type State int32

const (
	// StateUnbound indicates the listener is not bound yet.
	StateUnbound State = iota
	// StateBridgePending indicates the listener is bound and the bridge
	// is connecting.
	StateBridgePending
	// StateAccepting indicates the gateway serves connections.
	StateAccepting
	// StateFailed indicates the bridge could not be connected. Terminal.
	StateFailed
	// StateStopped indicates the gateway was stopped after accepting.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBridgePending:
		return "bridge_pending"
	case StateAccepting:
		return "accepting"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Bridge is the cross-process adapter the gateway installs on its
// transport server.
type Bridge interface {
	Install(ctx context.Context, target bridge.Target) error
	Ping(ctx context.Context) error
	Close() error
}

// BridgeConnector connects a Bridge.
type BridgeConnector func(ctx context.Context, cfg config.RedisConfig, opts ...bridge.Option) (Bridge, error)

func connectRedisBridge(ctx context.Context, cfg config.RedisConfig, opts ...bridge.Option) (Bridge, error) {
	b, err := bridge.Connect(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Gateway owns the listener, the websocket transport and the bridge.
type Gateway struct {
	config      *config.Config
	app         http.Handler
	logger      observability.Logger
	transport   *transport.Server
	middlewares []func(http.Handler) http.Handler
	connector   BridgeConnector
	bridgeOpts  []bridge.Option

	mu        sync.Mutex
	listener  *Listener
	bridge    Bridge
	state     atomic.Int32
	startTime time.Time
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithTransport sets the websocket transport server.
func WithTransport(s *transport.Server) Option {
	return func(g *Gateway) {
		g.transport = s
	}
}

// WithMiddleware wraps the root handler. The first middleware is the
// outermost.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(g *Gateway) {
		g.middlewares = append(g.middlewares, mw...)
	}
}

// WithBridgeOptions passes options to the bridge connector.
func WithBridgeOptions(opts ...bridge.Option) Option {
	return func(g *Gateway) {
		g.bridgeOpts = append(g.bridgeOpts, opts...)
	}
}

// WithBridgeConnector replaces the Redis bridge connector.
func WithBridgeConnector(fn BridgeConnector) Option {
	return func(g *Gateway) {
		g.connector = fn
	}
}

// New creates a gateway serving app for every path except the socket
// path.
func New(cfg *config.Config, app http.Handler, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if app == nil {
		return nil, ErrNilHandler
	}

	g := &Gateway{
		config:    cfg,
		app:       app,
		logger:    observability.NopLogger(),
		connector: connectRedisBridge,
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.transport == nil {
		g.transport = transport.NewServer(cfg.Socket, transport.WithLogger(g.logger))
	}

	g.state.Store(int32(StateUnbound))

	return g, nil
}

// Handler returns the root handler: the socket path goes to the transport,
// everything else to the application, all behind the middlewares.
func (g *Gateway) Handler() http.Handler {
	socketPath := g.config.Socket.Path

	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == socketPath {
			g.transport.ServeHTTP(w, r)
			return
		}
		g.app.ServeHTTP(w, r)
	})

	for i := len(g.middlewares) - 1; i >= 0; i-- {
		h = g.middlewares[i](h)
	}
	return h
}

// Start binds the listener, connects and installs the bridge, and begins
// accepting connections. A bind failure leaves the gateway Unbound; a
// bridge failure leaves it Failed with the port released.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.State() != StateUnbound {
		return fmt.Errorf("%w: state %s", ErrAlreadyStarted, g.State())
	}

	listener := NewListener(g.config.Server, g.Handler(), WithListenerLogger(g.logger))
	if err := listener.Bind(ctx); err != nil {
		return err
	}
	g.listener = listener
	g.state.Store(int32(StateBridgePending))

	opts := append([]bridge.Option{bridge.WithLogger(g.logger)}, g.bridgeOpts...)
	b, err := g.connector(ctx, g.config.Redis, opts...)
	if err != nil {
		return g.fail(fmt.Errorf("failed to connect bridge: %w", err))
	}

	if err := b.Install(ctx, g.transport); err != nil {
		return g.fail(errors.Join(fmt.Errorf("failed to install bridge: %w", err), b.Close()))
	}
	g.bridge = b

	if err := listener.Serve(); err != nil {
		return g.fail(errors.Join(err, b.Close()))
	}

	g.startTime = time.Now()
	g.state.Store(int32(StateAccepting))

	g.logger.Info("Starting server with process id",
		observability.Int("pid", os.Getpid()),
	)
	g.logger.Info("Server running on port",
		observability.Int("port", listener.Port()),
	)

	return nil
}

// fail releases the bound port and marks the gateway Failed.
func (g *Gateway) fail(err error) error {
	if closeErr := g.listener.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	g.state.Store(int32(StateFailed))
	g.logger.Error("gateway failed to start", observability.Error(err))
	return err
}

// Stop stops accepting requests, closes every websocket connection with a
// going-away frame and closes the bridge.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateAccepting), int32(StateStopped)) {
		return ErrNotRunning
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("stopping gateway")

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Server.ShutdownTimeout.Duration())
		defer cancel()
	}

	var errs []error
	if err := g.listener.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := g.transport.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to close websocket connections: %w", err))
	}
	if err := g.bridge.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close bridge: %w", err))
	}

	g.logger.Info("gateway stopped",
		observability.Duration("uptime", time.Since(g.startTime)),
	)

	return errors.Join(errs...)
}

// State returns the current gateway state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// IsAccepting returns true if the gateway serves connections.
func (g *Gateway) IsAccepting() bool {
	return g.State() == StateAccepting
}

// Uptime returns the time since the gateway began accepting.
func (g *Gateway) Uptime() time.Duration {
	if !g.IsAccepting() {
		return 0
	}
	return time.Since(g.startTime)
}

// Addr returns the bound address, or nil while Unbound.
func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// Transport returns the websocket transport server.
func (g *Gateway) Transport() *transport.Server {
	return g.transport
}

// Ping reports whether the bridge reaches the broker.
func (g *Gateway) Ping(ctx context.Context) error {
	if !g.IsAccepting() {
		return ErrNotRunning
	}
	return g.bridge.Ping(ctx)
}
