package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/vyrodovalexey/chattygw/internal/config"
	"github.com/vyrodovalexey/chattygw/internal/observability"
)

// Listener owns the bound TCP socket and the HTTP server serving it.
// Binding and serving are separate steps so the gateway can hold the port
// while the bridge connects.
type Listener struct {
	config  config.ServerConfig
	server  *http.Server
	ln      net.Listener
	logger  observability.Logger
	serving atomic.Bool
	done    chan struct{}
}

// ListenerOption is a functional option for configuring a listener.
type ListenerOption func(*Listener)

// WithListenerLogger sets the logger for the listener.
func WithListenerLogger(logger observability.Logger) ListenerOption {
	return func(l *Listener) {
		l.logger = logger
	}
}

// NewListener creates a listener for handler.
func NewListener(cfg config.ServerConfig, handler http.Handler, opts ...ListenerOption) *Listener {
	l := &Listener{
		config: cfg,
		logger: observability.NopLogger(),
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	l.server = &http.Server{
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout.Duration(),
		ReadHeaderTimeout: cfg.ReadTimeout.Duration(),
		WriteTimeout:      cfg.WriteTimeout.Duration(),
		IdleTimeout:       cfg.IdleTimeout.Duration(),
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	return l
}

// Bind opens the TCP socket.
func (l *Listener) Bind(ctx context.Context) error {
	if l.ln != nil {
		return fmt.Errorf("listener already bound to %s", l.ln.Addr())
	}

	addr := l.config.Address()
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	l.ln = ln

	l.logger.Debug("listener bound",
		observability.String("address", ln.Addr().String()),
	)
	return nil
}

// Addr returns the bound address, or nil before Bind.
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Port returns the bound port, which differs from the configured one when
// the configuration asks for port 0.
func (l *Listener) Port() int {
	if addr, ok := l.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return l.config.Port
}

// Serve starts serving the bound socket in the background.
func (l *Listener) Serve() error {
	if l.ln == nil {
		return errors.New("listener is not bound")
	}
	if !l.serving.CompareAndSwap(false, true) {
		return errors.New("listener is already serving")
	}

	go l.serve()
	return nil
}

func (l *Listener) serve() {
	defer close(l.done)

	err := l.server.Serve(l.ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.logger.Error("listener error",
			observability.String("address", l.ln.Addr().String()),
			observability.Error(err),
		)
	}
}

// Close releases a socket that was bound but never served.
func (l *Listener) Close() error {
	if l.ln == nil || l.serving.Load() {
		return nil
	}
	return l.ln.Close()
}

// Stop stops the listener gracefully.
func (l *Listener) Stop(ctx context.Context) error {
	if !l.serving.Load() {
		return l.Close()
	}

	l.logger.Info("stopping listener",
		observability.String("address", l.ln.Addr().String()),
	)

	if err := l.server.Shutdown(ctx); err != nil {
		if closeErr := l.server.Close(); closeErr != nil {
			return fmt.Errorf("failed to close listener: %w", closeErr)
		}
		return fmt.Errorf("failed to shutdown listener gracefully: %w", err)
	}

	<-l.done
	l.serving.Store(false)
	return nil
}

// IsServing returns true between Serve and Stop.
func (l *Listener) IsServing() bool {
	return l.serving.Load()
}
