package gateway

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/chattygw/internal/config"
	"github.com/vyrodovalexey/chattygw/internal/observability"
)

func listenerConfig() config.ServerConfig {
	cfg := config.Default().Server
	cfg.Bind = "127.0.0.1"
	cfg.Port = 0
	return cfg
}

func TestNewListener_WithLogger(t *testing.T) {
	t.Parallel()

	logger := observability.NopLogger()
	l := NewListener(listenerConfig(), http.NotFoundHandler(), WithListenerLogger(logger))

	assert.Equal(t, logger, l.logger)
	assert.Nil(t, l.Addr())
	assert.False(t, l.IsServing())
}

func TestListener_BindServeStop(t *testing.T) {
	t.Parallel()

	l := NewListener(listenerConfig(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))

	require.Error(t, l.Serve(), "serve before bind")
	require.NoError(t, l.Bind(context.Background()))
	require.Error(t, l.Bind(context.Background()), "double bind")
	assert.NotZero(t, l.Port())

	require.NoError(t, l.Serve())
	assert.True(t, l.IsServing())
	require.Error(t, l.Serve(), "double serve")

	resp, err := http.Get("http://" + l.Addr().String())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, l.Stop(context.Background()))
	assert.False(t, l.IsServing())
}

func TestListener_CloseUnserved(t *testing.T) {
	t.Parallel()

	l := NewListener(listenerConfig(), http.NotFoundHandler())
	require.NoError(t, l.Bind(context.Background()))
	addr := l.Addr().String()

	require.NoError(t, l.Stop(context.Background()))

	// the port can be bound again
	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	_ = ln.Close()
}

func TestListener_PortBeforeBind(t *testing.T) {
	t.Parallel()

	cfg := listenerConfig()
	cfg.Port = 4321
	l := NewListener(cfg, http.NotFoundHandler())
	assert.Equal(t, 4321, l.Port())
}
