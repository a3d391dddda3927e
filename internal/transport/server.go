package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/chattygw/internal/apierror"
	"github.com/vyrodovalexey/chattygw/internal/bridge"
	"github.com/vyrodovalexey/chattygw/internal/config"
	"github.com/vyrodovalexey/chattygw/internal/middleware"
	"github.com/vyrodovalexey/chattygw/internal/observability"
	"github.com/vyrodovalexey/chattygw/internal/security"
)

// HandlerFunc handles one inbound event. A returned error is sent back to
// the connection as an error frame.
type HandlerFunc func(ctx context.Context, c *Conn, data json.RawMessage) error

// Server is the websocket transport server.
type Server struct {
	cfg      config.SocketConfig
	upgrader websocket.Upgrader
	logger   observability.Logger
	metrics  *Metrics

	mu       sync.RWMutex
	conns    map[string]*Conn
	rooms    map[string]map[string]*Conn
	handlers map[string]HandlerFunc

	adapter atomic.Pointer[adapterBox]
	closed  atomic.Bool
	wg      sync.WaitGroup

	onConnect    func(c *Conn)
	onDisconnect func(c *Conn)
}

// adapterBox lets an interface value live in an atomic.Pointer.
type adapterBox struct {
	bridge.Adapter
}

var _ bridge.Target = (*Server)(nil)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithConnectHook is called after a connection is tracked.
func WithConnectHook(fn func(c *Conn)) Option {
	return func(s *Server) {
		s.onConnect = fn
	}
}

// WithDisconnectHook is called after a connection is untracked.
func WithDisconnectHook(fn func(c *Conn)) Option {
	return func(s *Server) {
		s.onDisconnect = fn
	}
}

// NewServer creates a transport server.
func NewServer(cfg config.SocketConfig, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   observability.NopLogger(),
		conns:    make(map[string]*Conn),
		rooms:    make(map[string]map[string]*Conn),
		handlers: make(map[string]HandlerFunc),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// The origin policy stage has already compared Origin with the
		// allowed client URL and marked foreign requests.
		CheckOrigin: func(r *http.Request) bool {
			return !middleware.OriginRejected(r.Context())
		},
	}
	return s
}

// On registers the handler for event. Registering twice replaces the
// handler.
func (s *Server) On(event string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = h
}

// UseAdapter implements bridge.Target.
func (s *Server) UseAdapter(a bridge.Adapter) {
	s.adapter.Store(&adapterBox{Adapter: a})
}

// Deliver implements bridge.Target: a packet from another process is
// fanned out locally only.
func (s *Server) Deliver(p bridge.Packet) {
	s.deliverLocal(p, "remote")
}

// ServeHTTP upgrades the request and blocks until the connection ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		s.observeConnection("closed")
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.observeConnection("rejected")
		s.logger.WithContext(r.Context()).Debug("websocket upgrade failed",
			observability.String("remote_addr", r.RemoteAddr),
			observability.Bool("origin_rejected", middleware.OriginRejected(r.Context())),
			observability.Error(err),
		)
		return
	}

	c := &Conn{
		id:         uuid.New().String(),
		ws:         ws,
		server:     s,
		session:    security.SessionFromContext(r.Context()),
		remoteAddr: r.RemoteAddr,
		requestID:  observability.RequestIDFromContext(r.Context()),
		send:       make(chan []byte, s.cfg.SendQueueSize),
		done:       make(chan struct{}),
		rooms:      make(map[string]struct{}),
	}
	if s.cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), max(s.cfg.RateBurst, 1))
	}

	if !s.track(c) {
		s.observeConnection("closed")
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			deadline(s.cfg.WriteWait.Duration()))
		_ = ws.Close()
		return
	}
	defer s.untrack(c)

	s.observeConnection("accepted")
	logger := s.logger.WithContext(r.Context())
	logger.Debug("websocket connected",
		observability.String("conn_id", c.id),
		observability.String("remote_addr", c.remoteAddr),
	)

	if s.onConnect != nil {
		s.onConnect(c)
	}

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		c.writePump()
	}()

	// The request context ends when the handler returns, so handlers get
	// a context detached from it that keeps its values.
	c.readPump(context.WithoutCancel(r.Context()))
	writer.Wait()

	logger.Debug("websocket disconnected",
		observability.String("conn_id", c.id),
		observability.Int("close_code", c.closeCode),
	)
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.conns[c.id] = c
	s.wg.Add(1)
	if s.metrics != nil {
		s.metrics.connectionsActive.Inc()
	}
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	for room := range c.rooms {
		s.removeFromRoom(c, room)
	}
	delete(s.conns, c.id)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.connectionsActive.Dec()
	}
	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}
	s.wg.Done()
}

func (s *Server) join(c *Conn, room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, tracked := s.conns[c.id]; !tracked {
		return
	}
	members, ok := s.rooms[room]
	if !ok {
		members = make(map[string]*Conn)
		s.rooms[room] = members
	}
	members[c.id] = c
	c.rooms[room] = struct{}{}
}

func (s *Server) leave(c *Conn, room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeFromRoom(c, room)
}

// removeFromRoom requires s.mu held for writing.
func (s *Server) removeFromRoom(c *Conn, room string) {
	delete(c.rooms, room)
	if members, ok := s.rooms[room]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(s.rooms, room)
		}
	}
}

// Join adds the connection with id to room.
func (s *Server) Join(id, room string) error {
	c, ok := s.Conn(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConn, id)
	}
	s.join(c, room)
	return nil
}

// Leave removes the connection with id from room.
func (s *Server) Leave(id, room string) error {
	c, ok := s.Conn(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConn, id)
	}
	s.leave(c, room)
	return nil
}

// Conn returns the tracked connection with id.
func (s *Server) Conn(id string) (*Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[id]
	return c, ok
}

// Count returns the number of tracked connections.
func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// RoomSize returns the number of local members of room.
func (s *Server) RoomSize(room string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[room])
}

// Broadcast sends event to every connection in room, on this process and,
// through the adapter, on every other process. An empty room means all
// connections. Local delivery happens first, in call order.
func (s *Server) Broadcast(ctx context.Context, room, event string, data any) error {
	return s.BroadcastExcept(ctx, room, event, data)
}

// BroadcastExcept is Broadcast skipping the listed connection ids.
func (s *Server) BroadcastExcept(ctx context.Context, room, event string, data any, except ...string) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	raw, err := marshalData(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}

	p := bridge.Packet{Room: room, Event: event, Data: raw, Except: except}
	s.deliverLocal(p, "local")

	if box := s.adapter.Load(); box != nil {
		return box.Publish(ctx, p)
	}
	return nil
}

func (s *Server) deliverLocal(p bridge.Packet, origin string) {
	msg, err := encodeFrame(p.Event, p.Data)
	if err != nil {
		s.logger.Error("failed to encode broadcast",
			observability.String("event", p.Event),
			observability.Error(err),
		)
		return
	}

	skip := make(map[string]struct{}, len(p.Except))
	for _, id := range p.Except {
		skip[id] = struct{}{}
	}

	s.mu.RLock()
	var targets []*Conn
	if p.Room == "" {
		targets = make([]*Conn, 0, len(s.conns))
		for id, c := range s.conns {
			if _, ok := skip[id]; !ok {
				targets = append(targets, c)
			}
		}
	} else {
		members := s.rooms[p.Room]
		targets = make([]*Conn, 0, len(members))
		for id, c := range members {
			if _, ok := skip[id]; !ok {
				targets = append(targets, c)
			}
		}
	}
	s.mu.RUnlock()

	for _, c := range targets {
		_ = c.enqueue(msg)
	}

	if s.metrics != nil {
		s.metrics.broadcasts.WithLabelValues(origin).Inc()
	}
}

// dispatch decodes one inbound frame and runs its handler.
func (s *Server) dispatch(ctx context.Context, c *Conn, msg []byte) {
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		s.observeFrame("malformed")
		c.emitError(apierror.NewBadRequestError("malformed frame"))
		return
	}
	if f.Event == "" {
		s.observeFrame("malformed")
		c.emitError(apierror.NewValidationError("event is required"))
		return
	}

	s.mu.RLock()
	h, ok := s.handlers[f.Event]
	s.mu.RUnlock()
	if !ok {
		s.observeFrame("unknown")
		c.emitError(apierror.NewNotFoundError(f.Event + " not found"))
		return
	}

	if err := s.invoke(ctx, c, h, f); err != nil {
		s.observeFrame("failed")
		r, known := apierror.Translate(err)
		if !known {
			s.logger.Error("websocket handler failed",
				observability.String("conn_id", c.id),
				observability.String("event", f.Event),
				observability.Error(err),
			)
		}
		c.emitError(r)
		return
	}
	s.observeFrame("handled")
}

func (s *Server) invoke(ctx context.Context, c *Conn, h HandlerFunc, f Frame) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s handler: %v\n%s", f.Event, rec, debug.Stack())
		}
	}()
	return h(ctx, c, f.Data)
}

func (s *Server) observeFrame(outcome string) {
	if s.metrics != nil {
		s.metrics.framesReceived.WithLabelValues(outcome).Inc()
	}
}

func (s *Server) observeConnection(result string) {
	if s.metrics != nil {
		s.metrics.connectionsTotal.WithLabelValues(result).Inc()
	}
}

// Shutdown stops accepting connections, closes every open connection with
// a going-away frame and waits for them to finish or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed.Store(true)
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
