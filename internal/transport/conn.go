package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/chattygw/internal/apierror"
	"github.com/vyrodovalexey/chattygw/internal/observability"
	"github.com/vyrodovalexey/chattygw/internal/security"
)

// Conn is one accepted websocket connection.
type Conn struct {
	id         string
	ws         *websocket.Conn
	server     *Server
	session    *security.Session
	remoteAddr string
	requestID  string
	limiter    *rate.Limiter

	send chan []byte
	done chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string

	// rooms is guarded by server.mu.
	rooms map[string]struct{}
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// Session returns the HTTP session the connection was opened with.
func (c *Conn) Session() *security.Session {
	return c.session
}

// RemoteAddr returns the client address.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Rooms returns the rooms the connection has joined.
func (c *Conn) Rooms() []string {
	c.server.mu.RLock()
	defer c.server.mu.RUnlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// Join adds the connection to room.
func (c *Conn) Join(room string) {
	c.server.join(c, room)
}

// Leave removes the connection from room.
func (c *Conn) Leave(room string) {
	c.server.leave(c, room)
}

// Emit sends one event to this connection only.
func (c *Conn) Emit(event string, data any) error {
	raw, err := marshalData(data)
	if err != nil {
		return err
	}
	msg, err := encodeFrame(event, raw)
	if err != nil {
		return err
	}
	return c.enqueue(msg)
}

// Close closes the connection with a normal closure frame.
func (c *Conn) Close() {
	c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *Conn) emitError(r apierror.Raisable) {
	_ = c.enqueue(encodeErrorFrame(r))
}

// enqueue never blocks: a full queue closes the connection.
func (c *Conn) enqueue(msg []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		if c.server.metrics != nil {
			c.server.metrics.droppedFrames.Inc()
		}
		c.server.logger.Warn("closing slow websocket consumer",
			observability.String("conn_id", c.id),
		)
		c.closeWith(websocket.ClosePolicyViolation, "send queue full")
		return ErrSlowConsumer
	}
}

func (c *Conn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// readPump reads frames until the connection fails or is closed.
func (c *Conn) readPump(ctx context.Context) {
	cfg := c.server.cfg
	pongWait := cfg.PongTimeout.Duration()

	c.ws.SetReadLimit(cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) && !isClosedConnError(err) {
				c.server.logger.Debug("websocket read error",
					observability.String("conn_id", c.id),
					observability.Error(err),
				)
			}
			c.closeWith(websocket.CloseNormalClosure, "")
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.server.observeFrame("rate_limited")
			c.emitError(apierror.NewBadRequestError("rate limit exceeded"))
			continue
		}

		c.server.dispatch(ctx, c, msg)
	}
}

// writePump owns every write to the socket.
func (c *Conn) writePump() {
	cfg := c.server.cfg
	writeWait := cfg.WriteWait.Duration()
	ticker := time.NewTicker(cfg.PingInterval.Duration())
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
			if c.server.metrics != nil {
				c.server.metrics.framesSent.Inc()
			}

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-c.done:
			c.drain(writeWait)
			if c.closeCode != websocket.CloseAbnormalClosure {
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(c.closeCode, c.closeReason),
					time.Now().Add(writeWait))
			}
			return
		}
	}
}

// drain flushes frames queued before the close so a client sees, for
// example, the error frame that preceded a shutdown.
func (c *Conn) drain(writeWait time.Duration) {
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func isClosedConnError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

func deadline(d time.Duration) time.Time {
	return time.Now().Add(d)
}
