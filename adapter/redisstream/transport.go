package redisstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xawala"
)

type transport struct {
	cfg    Config
	client *redis.Client

	closed atomic.Bool

	metrics *transportMetrics
}

type transportMetrics struct {
	published     atomic.Uint64
	consumed      atomic.Uint64
	claimed       atomic.Uint64
	acked         atomic.Uint64
	nacked        atomic.Uint64
	deadLettered  atomic.Uint64
	publishErrors atomic.Uint64
	consumeErrors atomic.Uint64
}

// Stats is a snapshot of transport telemetry.
type Stats struct {
	Published     uint64
	Consumed      uint64
	Claimed       uint64
	Acked         uint64
	Nacked        uint64
	DeadLettered  uint64
	PublishErrors uint64
	ConsumeErrors uint64
}

var _ xawala.Transport = (*transport)(nil)

// NewTransport connects to Redis and returns a Streams transport.
func NewTransport(cfg Config) (xawala.Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     max(10, cfg.Concurrency+2),
		MinIdleConns: 2,
	}

	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: cfg.TLSServerName,
		}
	}

	client := redis.NewClient(opts)
	if err := ping(client); err != nil {
		_ = client.Close()
		return nil, err
	}

	return newTransport(cfg, client), nil
}

func newTransport(cfg Config, client *redis.Client) *transport {
	return &transport{
		cfg:     cfg,
		client:  client,
		metrics: &transportMetrics{},
	}
}

// StatsOf returns telemetry for a transport created by this package.
func StatsOf(t xawala.Transport) (Stats, bool) {
	rt, ok := t.(*transport)
	if !ok {
		return Stats{}, false
	}
	m := rt.metrics
	return Stats{
		Published:     m.published.Load(),
		Consumed:      m.consumed.Load(),
		Claimed:       m.claimed.Load(),
		Acked:         m.acked.Load(),
		Nacked:        m.nacked.Load(),
		DeadLettered:  m.deadLettered.Load(),
		PublishErrors: m.publishErrors.Load(),
		ConsumeErrors: m.consumeErrors.Load(),
	}, true
}

// Publish appends envelopes to the topic stream with XADD, pipelined.
func (t *transport) Publish(ctx context.Context, topic string, envs ...*xawala.Envelope) error {
	if t.closed.Load() {
		return xawala.ErrEndpointClosed
	}
	if len(envs) == 0 {
		return nil
	}

	pipe := t.client.Pipeline()
	n := 0
	for _, env := range envs {
		if env == nil {
			continue
		}
		pipe.XAdd(ctx, t.addArgs(topic, env))
		n++
	}
	if n == 0 {
		return nil
	}

	if _, err := pipe.Exec(ctx); err != nil {
		t.metrics.publishErrors.Add(uint64(n))
		return fmt.Errorf("xadd %s: %w", topic, err)
	}

	t.metrics.published.Add(uint64(n))
	return nil
}

func (t *transport) addArgs(topic string, env *xawala.Envelope) *redis.XAddArgs {
	vals := encodeEnvelope(env)
	args := &redis.XAddArgs{
		Stream: topic,
		ID:     "*",
		Values: vals,
	}
	if t.cfg.MaxLenApprox > 0 {
		args.MaxLen = t.cfg.MaxLenApprox
		args.Approx = true
	}
	return args
}

// encodeEnvelope flattens an envelope into stream entry values.
func encodeEnvelope(env *xawala.Envelope) map[string]any {
	vals := make(map[string]any, 4+len(env.Metadata))
	if env.ID != "" {
		vals[fieldID] = env.ID
	}
	vals[fieldName] = env.Name
	vals[fieldPayload] = env.Payload
	if !env.ProducedAt.IsZero() {
		vals[fieldProducedAt] = env.ProducedAt.UnixNano()
	}
	for k, v := range env.Metadata {
		vals[fieldMetaPrefix+k] = v
	}
	return vals
}

type subscription struct {
	close func() error
}

func (s *subscription) Close() error {
	if s.close != nil {
		return s.close()
	}
	return nil
}

// Subscribe reads the topic as a member of the consumer group.
// One poller distributes entries to Concurrency workers.
func (t *transport) Subscribe(ctx context.Context, topic, group string, handler func(xawala.Delivery)) (xawala.Subscription, error) {
	if t.closed.Load() {
		return nil, xawala.ErrEndpointClosed
	}
	if group == "" {
		group = t.cfg.Group
	}

	if t.cfg.AutoCreate {
		err := t.client.XGroupCreateMkStream(ctx, topic, group, t.cfg.StartID).Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return nil, fmt.Errorf("create group %s on %s: %w", group, topic, err)
		}
	}

	innerCtx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}

	workers := max(1, t.cfg.Concurrency)
	workCh := make(chan *delivery, workers*2)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range workCh {
				handler(d)
			}
		}()
	}

	producers := &sync.WaitGroup{}
	producers.Add(1)
	go func() {
		defer producers.Done()
		t.pollerLoop(innerCtx, topic, group, workCh)
	}()

	if t.cfg.ClaimMinIdle > 0 && t.cfg.ClaimInterval > 0 {
		producers.Add(1)
		go func() {
			defer producers.Done()
			t.claimLoop(innerCtx, topic, group, workCh)
		}()
	}

	go func() {
		producers.Wait()
		close(workCh)
	}()

	return &subscription{
		close: func() error {
			cancel()
			producers.Wait()
			wg.Wait()
			return nil
		},
	}, nil
}

func (t *transport) dispatch(ctx context.Context, topic, group string, msgs []redis.XMessage, workCh chan<- *delivery) bool {
	for _, msg := range msgs {
		d := &delivery{
			t:       t,
			topic:   topic,
			group:   group,
			id:      msg.ID,
			env:     decodeEnvelope(msg.ID, msg.Values),
			onceAck: &sync.Once{},
		}
		t.metrics.consumed.Add(1)

		select {
		case workCh <- d:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// pollerLoop reads new entries with XREADGROUP and hands them to workers.
func (t *transport) pollerLoop(ctx context.Context, topic, group string, workCh chan<- *delivery) {
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: t.cfg.Consumer,
		Streams:  []string{topic, ">"},
		Count:    int64(max(1, t.cfg.BatchSize)),
		Block:    t.cfg.Block,
	}

	const minBackoff = 100 * time.Millisecond
	backoff := minBackoff

	for ctx.Err() == nil {
		res, err := t.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				backoff = minBackoff
				continue
			}

			t.metrics.consumeErrors.Add(1)
			select {
			case <-time.After(backoff):
				backoff = min(backoff*2, 5*time.Second)
			case <-ctx.Done():
				return
			}
			continue
		}
		backoff = minBackoff

		for _, stream := range res {
			if !t.dispatch(ctx, topic, group, stream.Messages, workCh) {
				return
			}
		}
	}
}

// claimLoop takes over entries left pending longer than ClaimMinIdle, including
// entries nacked by this consumer, and redelivers them.
func (t *transport) claimLoop(ctx context.Context, topic, group string, workCh chan<- *delivery) {
	ticker := time.NewTicker(t.cfg.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		msgs, _, err := t.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   topic,
			Group:    group,
			Consumer: t.cfg.Consumer,
			MinIdle:  t.cfg.ClaimMinIdle,
			Start:    "0-0",
			Count:    int64(max(1, t.cfg.ClaimBatch)),
		}).Result()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, redis.Nil) {
				t.metrics.consumeErrors.Add(1)
			}
			continue
		}

		t.metrics.claimed.Add(uint64(len(msgs)))
		if !t.dispatch(ctx, topic, group, msgs, workCh) {
			return
		}
	}
}

// Close releases the Redis client.
func (t *transport) Close(_ context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.client.Close()
}

func ping(c *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}

	if !strings.EqualFold(res, "PONG") {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}
	return nil
}
