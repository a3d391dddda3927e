package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/vyrodovalexey/chattygw/internal/config"
	"github.com/vyrodovalexey/chattygw/internal/observability"
)

const (
	tracerName = "github.com/vyrodovalexey/chattygw/internal/bridge"

	// defaultPingTimeout bounds each handshake PING.
	defaultPingTimeout = 5 * time.Second
)

// Bridge couples a transport server to the broker channel.
type Bridge struct {
	pub     *redis.Client
	sub     *redis.Client
	channel string
	node    string

	logger      observability.Logger
	metrics     *Metrics
	tracer      trace.Tracer
	pingTimeout time.Duration

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(b *Bridge) {
		b.tracer = tp.Tracer(tracerName)
	}
}

// WithNodeID sets the process id stamped on published packets. Defaults
// to a random UUID.
func WithNodeID(id string) Option {
	return func(b *Bridge) {
		b.node = id
	}
}

// WithPingTimeout bounds each handshake PING.
func WithPingTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.pingTimeout = d
	}
}

// Connect parses the broker URL once, derives the publisher and the
// subscriber from copies of the same options and waits for both to answer
// PING concurrently. On any failure both clients are closed and the error
// wraps ErrConnect.
func Connect(ctx context.Context, cfg config.RedisConfig, opts ...Option) (*Bridge, error) {
	redisOpts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid redis URL: %w", ErrConnect, err)
	}
	applyRedisOptions(redisOpts, cfg)

	pubOpts := *redisOpts
	subOpts := *redisOpts

	return connectClients(ctx, redis.NewClient(&pubOpts), redis.NewClient(&subOpts), cfg.Channel, opts...)
}

// applyRedisOptions applies pool and timeout overrides.
func applyRedisOptions(opts *redis.Options, cfg config.RedisConfig) {
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout.Duration()
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout.Duration()
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout.Duration()
	}
}

func connectClients(ctx context.Context, pub, sub *redis.Client, channel string, opts ...Option) (*Bridge, error) {
	if channel == "" {
		channel = config.DefaultRedisChannel
	}

	b := &Bridge{
		pub:         pub,
		sub:         sub,
		channel:     channel,
		node:        uuid.New().String(),
		logger:      observability.NopLogger(),
		tracer:      otel.Tracer(tracerName),
		pingTimeout: defaultPingTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}

	if err := b.handshake(ctx); err != nil {
		_ = pub.Close()
		_ = sub.Close()
		if b.metrics != nil {
			b.metrics.connectFailures.Inc()
		}
		b.logger.Error("pub/sub bridge connect failed",
			observability.String("addr", pub.Options().Addr),
			observability.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	b.logger.Info("pub/sub bridge connected",
		observability.String("addr", pub.Options().Addr),
		observability.String("channel", channel),
		observability.String("node", b.node),
	)
	return b, nil
}

// handshake pings both clients concurrently.
func (b *Bridge) handshake(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.ping(gctx, b.pub, "publisher") })
	g.Go(func() error { return b.ping(gctx, b.sub, "subscriber") })
	return g.Wait()
}

func (b *Bridge) ping(ctx context.Context, client *redis.Client, role string) error {
	ctx, cancel := context.WithTimeout(ctx, b.pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%s: %w", role, err)
	}
	return nil
}

// Node returns the process id stamped on published packets.
func (b *Bridge) Node() string {
	return b.node
}

// Channel returns the broker channel name.
func (b *Bridge) Channel() string {
	return b.channel
}

// Install subscribes to the channel, waits for the subscription to be
// confirmed and registers the bridge as target's adapter. Packets
// published by other processes are then delivered to target in broker
// order; packets from this process are skipped because the transport has
// already delivered them locally.
func (b *Bridge) Install(ctx context.Context, target Target) error {
	if target == nil {
		return ErrNilTarget
	}
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		return ErrAlreadyInstalled
	}

	ps := b.sub.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	b.pubsub = ps

	target.UseAdapter(b)

	ch := ps.Channel()
	b.wg.Add(1)
	go b.receive(ch, target)

	b.logger.Debug("pub/sub bridge installed", observability.String("channel", b.channel))
	return nil
}

func (b *Bridge) receive(ch <-chan *redis.Message, target Target) {
	defer b.wg.Done()

	for msg := range ch {
		var p Packet
		if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
			b.observeReceived("invalid")
			b.logger.Warn("dropping malformed packet",
				observability.String("channel", msg.Channel),
				observability.Error(err),
			)
			continue
		}
		if p.Node == b.node {
			b.observeReceived("own")
			continue
		}
		b.observeReceived("delivered")
		target.Deliver(p)
	}
}

func (b *Bridge) observeReceived(outcome string) {
	if b.metrics != nil {
		b.metrics.received.WithLabelValues(outcome).Inc()
	}
}

// Publish sends p to every process subscribed to the channel. The node
// field is always overwritten with this process id.
func (b *Bridge) Publish(ctx context.Context, p Packet) error {
	if b.closed.Load() {
		return ErrClosed
	}

	ctx, span := b.tracer.Start(ctx, "bridge.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "redis"),
			attribute.String("messaging.destination.name", b.channel),
			attribute.String("chattygw.event", p.Event),
			attribute.String("chattygw.room", p.Room),
		),
	)
	defer span.End()

	start := time.Now()
	p.Node = b.node

	payload, err := json.Marshal(p)
	if err == nil {
		err = b.pub.Publish(ctx, b.channel, payload).Err()
	}

	if b.metrics != nil {
		b.metrics.publishDuration.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		b.observePublished("error")
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		b.logger.Error("bridge publish failed",
			observability.String("event", p.Event),
			observability.String("room", p.Room),
			observability.Error(err),
		)
		return fmt.Errorf("failed to publish %s: %w", p.Event, err)
	}

	b.observePublished("ok")
	span.SetAttributes(attribute.Int("messaging.message.body.size", len(payload)))
	return nil
}

func (b *Bridge) observePublished(result string) {
	if b.metrics != nil {
		b.metrics.published.WithLabelValues(result).Inc()
	}
}

// Ping checks that both clients still reach the broker.
func (b *Bridge) Ping(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.handshake(ctx)
}

// Close unsubscribes, stops the receive loop and closes both clients.
func (b *Bridge) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error

	b.mu.Lock()
	if b.pubsub != nil {
		if err := b.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("subscription: %w", err))
		}
	}
	b.mu.Unlock()
	b.wg.Wait()

	if err := b.pub.Close(); err != nil {
		errs = append(errs, fmt.Errorf("publisher: %w", err))
	}
	if err := b.sub.Close(); err != nil {
		errs = append(errs, fmt.Errorf("subscriber: %w", err))
	}

	b.logger.Info("pub/sub bridge closed", observability.String("node", b.node))
	return errors.Join(errs...)
}
