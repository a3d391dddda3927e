package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/chattygw/internal/bridge"
	"github.com/vyrodovalexey/chattygw/internal/config"
	"github.com/vyrodovalexey/chattygw/internal/observability"
	"github.com/vyrodovalexey/chattygw/internal/transport"
)

func setupMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr
}

func testConfig(mr *miniredis.Miniredis) *config.Config {
	cfg := config.Default()
	cfg.Server.Bind = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Redis.URL = "redis://" + mr.Addr()
	return cfg
}

func appHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "app")
	})
}

func startGateway(t *testing.T, cfg *config.Config, opts ...Option) *Gateway {
	t.Helper()
	gw, err := New(cfg, appHandler(), opts...)
	require.NoError(t, err)
	require.NoError(t, gw.Start(context.Background()))
	t.Cleanup(func() { _ = gw.Stop(context.Background()) })
	return gw
}

func socketURL(gw *Gateway) string {
	return fmt.Sprintf("ws://%s%s", gw.Addr(), gw.config.Socket.Path)
}

type failingBridge struct {
	installErr error
	closed     bool
}

func (f *failingBridge) Install(context.Context, bridge.Target) error { return f.installErr }
func (f *failingBridge) Ping(context.Context) error                   { return nil }
func (f *failingBridge) Close() error {
	f.closed = true
	return nil
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateUnbound, "unbound"},
		{StateBridgePending, "bridge_pending"},
		{StateAccepting, "accepting"},
		{StateFailed, "failed"},
		{StateStopped, "stopped"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, appHandler())
	assert.ErrorIs(t, err, ErrNilConfig)

	_, err = New(config.Default(), nil)
	assert.ErrorIs(t, err, ErrNilHandler)

	gw, err := New(config.Default(), appHandler())
	require.NoError(t, err)
	assert.Equal(t, StateUnbound, gw.State())
	assert.Nil(t, gw.Addr())
	assert.NotNil(t, gw.Transport())
	assert.Zero(t, gw.Uptime())
}

func TestGateway_StartLogsPidAndPort(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)
	core, logs := observer.New(zap.InfoLevel)
	gw := startGateway(t, testConfig(mr), WithLogger(observability.NewZapLogger(zap.New(core))))

	assert.Equal(t, StateAccepting, gw.State())
	assert.True(t, gw.IsAccepting())
	assert.NoError(t, gw.Ping(context.Background()))

	port := gw.Addr().(*net.TCPAddr).Port
	pidLogs := logs.FilterMessage("Starting server with process id").All()
	require.Len(t, pidLogs, 1)
	assert.EqualValues(t, os.Getpid(), pidLogs[0].ContextMap()["pid"])

	portLogs := logs.FilterMessage("Server running on port").All()
	require.Len(t, portLogs, 1)
	assert.EqualValues(t, port, portLogs[0].ContextMap()["port"])
}

func TestGateway_StartTwice(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)
	gw := startGateway(t, testConfig(mr))

	err := gw.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestGateway_RootDispatch(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)
	var (
		mu   sync.Mutex
		seen []string
	)
	mark := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			seen = append(seen, r.URL.Path)
			mu.Unlock()
			next.ServeHTTP(w, r)
		})
	}
	gw := startGateway(t, testConfig(mr), WithMiddleware(mark))

	resp, err := http.Get(fmt.Sprintf("http://%s/anything", gw.Addr()))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "app", string(body))

	ws, resp, err := websocket.DefaultDialer.Dial(socketURL(gw), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	_ = ws.Close()

	// middleware wraps both the application and the socket path
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/anything", "/socket"}, seen)
}

func TestGateway_BridgeConnectFailure(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)
	cfg := testConfig(mr)
	mr.Close()

	gw, err := New(cfg, appHandler(), WithBridgeOptions(bridge.WithPingTimeout(time.Second)))
	require.NoError(t, err)

	err = gw.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, bridge.ErrConnect)
	assert.Equal(t, StateFailed, gw.State())

	// the port is released and nothing accepts
	addr := gw.Addr().String()
	_, dialErr := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, dialErr)

	assert.ErrorIs(t, gw.Start(context.Background()), ErrAlreadyStarted)
	assert.ErrorIs(t, gw.Stop(context.Background()), ErrNotRunning)
	assert.ErrorIs(t, gw.Ping(context.Background()), ErrNotRunning)
}

func TestGateway_BridgeInstallFailure(t *testing.T) {
	t.Parallel()

	fb := &failingBridge{installErr: errors.New("subscribe refused")}
	cfg := config.Default()
	cfg.Server.Bind = "127.0.0.1"
	cfg.Server.Port = 0

	gw, err := New(cfg, appHandler(), WithBridgeConnector(
		func(context.Context, config.RedisConfig, ...bridge.Option) (Bridge, error) {
			return fb, nil
		}))
	require.NoError(t, err)

	err = gw.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscribe refused")
	assert.True(t, fb.closed)
	assert.Equal(t, StateFailed, gw.State())
}

func TestGateway_BindFailureStaysUnbound(t *testing.T) {
	t.Parallel()

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := config.Default()
	cfg.Server.Bind = "127.0.0.1"
	cfg.Server.Port = busy.Addr().(*net.TCPAddr).Port

	connected := false
	gw, err := New(cfg, appHandler(), WithBridgeConnector(
		func(context.Context, config.RedisConfig, ...bridge.Option) (Bridge, error) {
			connected = true
			return &failingBridge{}, nil
		}))
	require.NoError(t, err)

	err = gw.Start(context.Background())
	require.Error(t, err)
	assert.False(t, connected)
	assert.Equal(t, StateUnbound, gw.State())
}

func TestGateway_Stop(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)
	gw, err := New(testConfig(mr), appHandler())
	require.NoError(t, err)
	require.NoError(t, gw.Start(context.Background()))

	ws, resp, err := websocket.DefaultDialer.Dial(socketURL(gw), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer ws.Close()
	assert.Eventually(t, func() bool { return gw.Transport().Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, gw.Stop(ctx))
	assert.Equal(t, StateStopped, gw.State())

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	assert.ErrorIs(t, gw.Stop(ctx), ErrNotRunning)
}

func TestGateway_CrossProcessFanOut(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)
	a := startGateway(t, testConfig(mr))
	b := startGateway(t, testConfig(mr))

	// the client is pinned to process B only
	ws, resp, err := websocket.DefaultDialer.Dial(socketURL(b), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = ws.Close() })
	assert.Eventually(t, func() bool { return b.Transport().Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Transport().Broadcast(context.Background(), "", "announce", map[string]string{"from": "a"}))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f transport.Frame
	require.NoError(t, ws.ReadJSON(&f))
	assert.Equal(t, "announce", f.Event)

	var data map[string]string
	require.NoError(t, json.Unmarshal(f.Data, &data))
	assert.Equal(t, "a", data["from"])
}

func TestGateway_CrossProcessRoomFanOut(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)
	a := startGateway(t, testConfig(mr))
	b := startGateway(t, testConfig(mr))
	b.Transport().On("join", func(_ context.Context, c *transport.Conn, data json.RawMessage) error {
		var room string
		if err := json.Unmarshal(data, &room); err != nil {
			return err
		}
		c.Join(room)
		return c.Emit("joined", room)
	})

	inRoom := dialAndRead(t, b, `{"event":"join","data":"lobby"}`)
	outside := dialAndRead(t, b, "")

	require.NoError(t, a.Transport().Broadcast(context.Background(), "lobby", "chat", "hi"))

	require.NoError(t, inRoom.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f transport.Frame
	require.NoError(t, inRoom.ReadJSON(&f))
	assert.Equal(t, "chat", f.Event)

	require.NoError(t, outside.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := outside.ReadMessage()
	assert.Error(t, err)
}

// dialAndRead connects to gw and, when first is set, sends it and waits
// for one reply.
func dialAndRead(t *testing.T, gw *Gateway, first string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(socketURL(gw), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = ws.Close() })
	if first != "" {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(first)))
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err = ws.ReadMessage()
		require.NoError(t, err)
	}
	return ws
}
