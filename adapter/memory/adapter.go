package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xawala"
)

const TransportName = "memory"

var ErrClosed = errors.New("memory transport is closed")

func init() {
	if err := xawala.RegisterTransport(TransportName, func(cfg map[string]any) (xawala.Transport, error) {
		return NewTransport(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("xawala/memory: failed to register transport: %w", err))
	}
}

// Config controls memory transport behavior.
type Config struct {
	// BufferSize is the per-group queue size (default: 1024).
	BufferSize int
	// Concurrency is the number of worker goroutines per subscription (default: 1).
	Concurrency int
	// RedeliveryDelay is the delay before re-enqueuing a message on Nack (default: 0 = immediate).
	RedeliveryDelay time.Duration
	// AssignIDs instructs the transport to assign IDs for envelopes with empty ID (default: true).
	AssignIDs bool
}

func ConfigFromMap(cfg map[string]any) Config {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}

	getBool := func(k string, d bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return d
	}

	getDur := func(k string, d time.Duration) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case float64:
			return time.Duration(v)
		}
		return d
	}

	return Config{
		BufferSize:      max(1, getInt("buffer_size", 1024)),
		Concurrency:     max(1, getInt("concurrency", 1)),
		RedeliveryDelay: getDur("redelivery_delay", 0),
		AssignIDs:       getBool("assign_ids", true),
	}
}

// Transport implements xawala.Transport using in-memory channels (dev/testing).
// Every consumer group of a topic receives each envelope once.
type Transport struct {
	cfg Config

	mu     sync.RWMutex
	topics map[string]*topic

	closed atomic.Bool

	metrics *transportMetrics
}

type transportMetrics struct {
	published    atomic.Uint64
	consumed     atomic.Uint64
	acked        atomic.Uint64
	nacked       atomic.Uint64
	redelivered  atomic.Uint64
	deadLettered atomic.Uint64
	dropped      atomic.Uint64
}

var _ xawala.Transport = (*Transport)(nil)

// NewTransport creates a new in-memory transport.
func NewTransport(cfg Config) *Transport {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1024
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return &Transport{
		cfg:     cfg,
		topics:  make(map[string]*topic),
		metrics: &transportMetrics{},
	}
}

// Publish fans out envelopes to all consumer groups for the topic.
// Envelopes published to a topic without subscribers are dropped.
func (t *Transport) Publish(ctx context.Context, topic string, envs ...*xawala.Envelope) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if len(envs) == 0 {
		return nil
	}

	t.mu.RLock()
	top, ok := t.topics[topic]
	t.mu.RUnlock()

	if !ok {
		return nil
	}

	for _, env := range envs {
		if env == nil {
			continue
		}

		if t.cfg.AssignIDs && env.ID == "" {
			env.ID = nextID()
		}

		top.mu.RLock()
		for _, g := range top.groups {
			task := &deliveryTask{group: g, env: env, tr: t}
			select {
			case g.queue <- task:
			case <-ctx.Done():
				top.mu.RUnlock()
				return ctx.Err()
			}
		}
		top.mu.RUnlock()

		t.metrics.published.Add(1)
	}

	return nil
}

// Subscribe registers a handler for a topic/group with configurable concurrency.
func (t *Transport) Subscribe(ctx context.Context, topic, group string, handler func(xawala.Delivery)) (xawala.Subscription, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}

	top := t.ensureTopic(topic)
	g := top.ensureGroup(group, t.cfg.BufferSize)

	innerCtx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}

	for i := 0; i < t.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.worker(innerCtx, g, handler)
		}()
	}

	return &subscription{
		close: func() error {
			cancel()
			wg.Wait()
			// Keep group and queue alive for other subscribers
			return nil
		},
	}, nil
}

func (t *Transport) worker(ctx context.Context, g *group, handler func(xawala.Delivery)) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-g.queue:
			if task == nil {
				continue
			}
			t.metrics.consumed.Add(1)
			handler(&memDelivery{task: task})
		}
	}
}

// Close shuts down the transport and forgets all topics.
func (t *Transport) Close(_ context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}

	t.mu.Lock()
	t.topics = make(map[string]*topic)
	t.mu.Unlock()

	return nil
}

// Stats returns transport telemetry.
type Stats struct {
	Published    uint64
	Consumed     uint64
	Acked        uint64
	Nacked       uint64
	Redelivered  uint64
	DeadLettered uint64
	Dropped      uint64 // transient nacks that found the group queue full
}

// Stats returns current transport metrics.
func (t *Transport) Stats() Stats {
	return Stats{
		Published:    t.metrics.published.Load(),
		Consumed:     t.metrics.consumed.Load(),
		Acked:        t.metrics.acked.Load(),
		Nacked:       t.metrics.nacked.Load(),
		Redelivered:  t.metrics.redelivered.Load(),
		DeadLettered: t.metrics.deadLettered.Load(),
		Dropped:      t.metrics.dropped.Load(),
	}
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

type topic struct {
	mu     sync.RWMutex
	groups map[string]*group
}

type group struct {
	name  string
	queue chan *deliveryTask
}

type deliveryTask struct {
	tr    *Transport
	group *group
	env   *xawala.Envelope
}

type memDelivery struct {
	task    *deliveryTask
	ackOnce sync.Once
}

func (d *memDelivery) Envelope() *xawala.Envelope {
	return d.task.env
}

// Ack marks the envelope as processed.
func (d *memDelivery) Ack(_ context.Context) error {
	d.ackOnce.Do(func() {
		d.task.tr.metrics.acked.Add(1)
	})
	return nil
}

// Nack re-enqueues the envelope, or drops it when reason is permanent.
// Nack never blocks: a requeue that finds the group queue full is dropped and counted.
func (d *memDelivery) Nack(_ context.Context, reason error) error {
	d.ackOnce.Do(func() {
		tr := d.task.tr
		tr.metrics.nacked.Add(1)

		if xawala.IsPermanent(reason) {
			tr.metrics.deadLettered.Add(1)
			return
		}

		delay := tr.cfg.RedeliveryDelay
		if delay <= 0 {
			tr.requeue(d.task)
			return
		}

		// The handler context may end before the delay; requeue on a detached timer.
		go func(task *deliveryTask) {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			<-timer.C
			if tr.closed.Load() {
				return
			}
			tr.requeue(task)
		}(d.task)
	})
	return nil
}

func (t *Transport) requeue(task *deliveryTask) {
	select {
	case task.group.queue <- task:
		t.metrics.redelivered.Add(1)
	default:
		t.metrics.dropped.Add(1)
	}
}

func (t *Transport) ensureTopic(name string) *topic {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tp, ok := t.topics[name]; ok {
		return tp
	}

	tp := &topic{
		groups: make(map[string]*group),
	}
	t.topics[name] = tp
	return tp
}

func (tp *topic) ensureGroup(name string, bufferSize int) *group {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if g, ok := tp.groups[name]; ok {
		return g
	}

	g := &group{
		name:  name,
		queue: make(chan *deliveryTask, bufferSize),
	}
	tp.groups[name] = g
	return g
}

// Simple monotonic ID generator (not distributed; dev/testing only).
var idSeq atomic.Uint64

func nextID() string {
	return fmt.Sprintf("mem-%d", idSeq.Add(1))
}
