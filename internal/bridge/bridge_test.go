package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vyrodovalexey/chattygw/internal/config"
)

func setupMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr
}

func redisConfig(mr *miniredis.Miniredis) config.RedisConfig {
	cfg := config.Default().Redis
	cfg.URL = "redis://" + mr.Addr()
	return cfg
}

type fakeTarget struct {
	mu      sync.Mutex
	adapter Adapter
	packets chan Packet
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{packets: make(chan Packet, 16)}
}

func (f *fakeTarget) UseAdapter(a Adapter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adapter = a
}

func (f *fakeTarget) Deliver(p Packet) {
	f.packets <- p
}

func (f *fakeTarget) receive(t *testing.T) Packet {
	t.Helper()
	select {
	case p := <-f.packets:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
		return Packet{}
	}
}

func (f *fakeTarget) assertNothing(t *testing.T) {
	t.Helper()
	select {
	case p := <-f.packets:
		t.Fatalf("unexpected packet %+v", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func connect(t *testing.T, mr *miniredis.Miniredis, opts ...Option) *Bridge {
	t.Helper()
	b, err := Connect(context.Background(), redisConfig(mr), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestConnect(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)
	b := connect(t, mr, WithNodeID("node-a"))

	assert.Equal(t, "node-a", b.Node())
	assert.Equal(t, config.DefaultRedisChannel, b.Channel())
	assert.NoError(t, b.Ping(context.Background()))
}

func TestConnect_InvalidURL(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), config.RedisConfig{URL: "ftp://nope"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnect)
}

func TestConnect_Unreachable(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)
	addr := mr.Addr()
	mr.Close()

	metrics := NewMetrics("test")
	_, err := Connect(context.Background(), config.RedisConfig{URL: "redis://" + addr},
		WithMetrics(metrics), WithPingTimeout(time.Second))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnect)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.connectFailures))
}

func TestConnectClients_PartialFailureClosesBoth(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)
	dead := setupMiniRedis(t)
	deadAddr := dead.Addr()
	dead.Close()

	pub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sub := redis.NewClient(&redis.Options{Addr: deadAddr, MaxRetries: -1})

	b, err := connectClients(context.Background(), pub, sub, "ch", WithPingTimeout(time.Second))
	require.Error(t, err)
	assert.Nil(t, b)
	assert.ErrorIs(t, err, ErrConnect)
	assert.Contains(t, err.Error(), "subscriber")

	// no half-open bridge survives
	assert.ErrorIs(t, pub.Ping(context.Background()).Err(), redis.ErrClosed)
	assert.ErrorIs(t, sub.Ping(context.Background()).Err(), redis.ErrClosed)
}

func TestInstall_CrossProcessDelivery(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)
	metrics := NewMetrics("test")
	a := connect(t, mr, WithNodeID("a"))
	b := connect(t, mr, WithNodeID("b"), WithMetrics(metrics))

	targetA := newFakeTarget()
	targetB := newFakeTarget()
	ctx := context.Background()
	require.NoError(t, a.Install(ctx, targetA))
	require.NoError(t, b.Install(ctx, targetB))
	assert.Same(t, b, targetB.adapter)

	require.NoError(t, a.Publish(ctx, Packet{
		Node:  "spoofed",
		Room:  "lobby",
		Event: "chat",
		Data:  json.RawMessage(`{"text":"hi"}`),
	}))

	got := targetB.receive(t)
	assert.Equal(t, "a", got.Node)
	assert.Equal(t, "lobby", got.Room)
	assert.Equal(t, "chat", got.Event)
	assert.JSONEq(t, `{"text":"hi"}`, string(got.Data))

	// the publishing process never receives its own packet back
	targetA.assertNothing(t)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.received.WithLabelValues("delivered")))
}

func TestInstall_PreservesOrder(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)
	a := connect(t, mr, WithNodeID("a"))
	b := connect(t, mr, WithNodeID("b"))

	target := newFakeTarget()
	require.NoError(t, b.Install(context.Background(), target))

	for i := 0; i < 10; i++ {
		data, _ := json.Marshal(i)
		require.NoError(t, a.Publish(context.Background(), Packet{Event: "seq", Data: data}))
	}
	for i := 0; i < 10; i++ {
		var n int
		require.NoError(t, json.Unmarshal(target.receive(t).Data, &n))
		assert.Equal(t, i, n)
	}
}

func TestInstall_MalformedPayloadSkipped(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)
	metrics := NewMetrics("test")
	b := connect(t, mr, WithMetrics(metrics))
	target := newFakeTarget()
	require.NoError(t, b.Install(context.Background(), target))

	mr.Publish(b.Channel(), "{not json")
	mr.Publish(b.Channel(), `{"node":"other","event":"ok"}`)

	assert.Equal(t, "ok", target.receive(t).Event)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.received.WithLabelValues("invalid")))
}

func TestInstall_Errors(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)
	b := connect(t, mr)

	assert.ErrorIs(t, b.Install(context.Background(), nil), ErrNilTarget)
	require.NoError(t, b.Install(context.Background(), newFakeTarget()))
	assert.ErrorIs(t, b.Install(context.Background(), newFakeTarget()), ErrAlreadyInstalled)
}

func TestPublish_Span(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	mr := setupMiniRedis(t)
	metrics := NewMetrics("test")
	b := connect(t, mr, WithTracerProvider(tp), WithMetrics(metrics))

	require.NoError(t, b.Publish(context.Background(), Packet{Event: "chat", Room: "r1"}))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "bridge.Publish", spans[0].Name)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.published.WithLabelValues("ok")))
}

func TestClose(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)
	b, err := Connect(context.Background(), redisConfig(mr))
	require.NoError(t, err)
	require.NoError(t, b.Install(context.Background(), newFakeTarget()))

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(context.Background(), Packet{Event: "x"}), ErrClosed)
	assert.ErrorIs(t, b.Ping(context.Background()), ErrClosed)
	assert.ErrorIs(t, b.Install(context.Background(), newFakeTarget()), ErrClosed)
}

func TestPublish_BrokerDown(t *testing.T) {
	t.Parallel()

	mr := setupMiniRedis(t)
	metrics := NewMetrics("test")
	b := connect(t, mr, WithMetrics(metrics))
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := b.Publish(ctx, Packet{Event: "x"})
	require.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.published.WithLabelValues("error")))
	assert.Error(t, b.Ping(ctx))
}
