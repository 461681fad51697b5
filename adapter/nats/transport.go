package nats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/trickstertwo/xawala"
)

// Reserved header names. Envelope metadata travels under headerMetaPrefix.
const (
	headerID         = "Xawala-Id"
	headerName       = "Xawala-Name"
	headerProducedAt = "Xawala-Produced-At"
	headerError      = "Xawala-Error"
	headerPermanent  = "Xawala-Permanent"
	headerMetaPrefix = "Xawala-Meta-"
)

type transport struct {
	cfg  Config
	conn *natsgo.Conn

	closed atomic.Bool

	metrics *transportMetrics
}

type transportMetrics struct {
	published     atomic.Uint64
	consumed      atomic.Uint64
	nacked        atomic.Uint64
	deadLettered  atomic.Uint64
	publishErrors atomic.Uint64
}

// Stats is a snapshot of transport telemetry.
type Stats struct {
	Published     uint64
	Consumed      uint64
	Nacked        uint64
	DeadLettered  uint64
	PublishErrors uint64
}

var _ xawala.Transport = (*transport)(nil)

// NewTransport connects to NATS.
func NewTransport(cfg Config) (xawala.Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := natsgo.Connect(cfg.URL, cfg.options()...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	return &transport{cfg: cfg, conn: conn, metrics: &transportMetrics{}}, nil
}

// StatsOf returns telemetry for a transport created by this package.
func StatsOf(t xawala.Transport) (Stats, bool) {
	nt, ok := t.(*transport)
	if !ok {
		return Stats{}, false
	}
	m := nt.metrics
	return Stats{
		Published:     m.published.Load(),
		Consumed:      m.consumed.Load(),
		Nacked:        m.nacked.Load(),
		DeadLettered:  m.deadLettered.Load(),
		PublishErrors: m.publishErrors.Load(),
	}, true
}

// Publish sends each envelope as a NATS message on the topic subject and
// flushes so that errors surface before returning.
func (t *transport) Publish(ctx context.Context, topic string, envs ...*xawala.Envelope) error {
	if t.closed.Load() {
		return xawala.ErrEndpointClosed
	}

	n := 0
	for _, env := range envs {
		if env == nil {
			continue
		}
		if err := t.conn.PublishMsg(toMsg(topic, env)); err != nil {
			t.metrics.publishErrors.Add(1)
			return fmt.Errorf("publish %s: %w", topic, err)
		}
		n++
	}
	if n == 0 {
		return nil
	}

	if err := t.conn.FlushWithContext(ctx); err != nil {
		t.metrics.publishErrors.Add(uint64(n))
		return fmt.Errorf("flush %s: %w", topic, err)
	}
	t.metrics.published.Add(uint64(n))
	return nil
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

// Subscribe joins the queue group named after group on the topic subject.
func (t *transport) Subscribe(ctx context.Context, topic, group string, handler func(xawala.Delivery)) (xawala.Subscription, error) {
	if t.closed.Load() {
		return nil, xawala.ErrEndpointClosed
	}

	workers := max(1, t.cfg.Concurrency)
	workCh := make(chan *delivery, workers*2)
	innerCtx, cancel := context.WithCancel(ctx)

	var sub *natsgo.Subscription
	var err error
	cb := func(msg *natsgo.Msg) {
		d := &delivery{t: t, topic: topic, env: fromMsg(msg)}
		t.metrics.consumed.Add(1)
		select {
		case workCh <- d:
		case <-innerCtx.Done():
		}
	}
	if group == "" {
		sub, err = t.conn.Subscribe(topic, cb)
	} else {
		sub, err = t.conn.QueueSubscribe(topic, group, cb)
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	if err := sub.SetPendingLimits(t.cfg.PendingLimit, -1); err != nil {
		cancel()
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("pending limits %s: %w", topic, err)
	}

	wg := &sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-innerCtx.Done():
					return
				case d := <-workCh:
					handler(d)
				}
			}
		}()
	}

	var once sync.Once
	closeFn := func() error {
		var uerr error
		once.Do(func() {
			if !t.closed.Load() {
				uerr = sub.Unsubscribe()
			}
			cancel()
			wg.Wait()
		})
		return uerr
	}

	go func() {
		<-innerCtx.Done()
		_ = closeFn()
	}()

	return &subscription{close: closeFn}, nil
}

// Close drains the connection, letting in-flight callbacks finish.
func (t *transport) Close(ctx context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- t.conn.Drain() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		t.conn.Close()
		return ctx.Err()
	case <-time.After(10 * time.Second):
		t.conn.Close()
		return fmt.Errorf("nats drain timeout")
	}
}

// delivery implements xawala.Delivery. Core NATS has already delivered the
// message, so Ack only records the outcome.
type delivery struct {
	t     *transport
	topic string
	env   *xawala.Envelope
	once  sync.Once
}

func (d *delivery) Envelope() *xawala.Envelope { return d.env }

func (d *delivery) Ack(_ context.Context) error { return nil }

// Nack forwards the envelope to the dead-letter subject when one is configured.
func (d *delivery) Nack(ctx context.Context, reason error) error {
	var err error
	d.once.Do(func() {
		d.t.metrics.nacked.Add(1)
		dl := d.t.cfg.DeadLetter
		if dl == "" {
			return
		}

		msg := toMsg(dl, d.env)
		msg.Header[headerError] = []string{fmt.Sprintf("%v", reason)}
		msg.Header[headerPermanent] = []string{strconv.FormatBool(xawala.IsPermanent(reason))}
		if err = d.t.conn.PublishMsg(msg); err != nil {
			err = fmt.Errorf("dead-letter %s: %w", d.env.ID, err)
			return
		}
		if err = d.t.conn.FlushWithContext(ctx); err != nil {
			return
		}
		d.t.metrics.deadLettered.Add(1)
	})
	return err
}

// toMsg maps an envelope to a NATS message. Headers are assigned directly to
// keep metadata keys byte-exact.
func toMsg(subject string, env *xawala.Envelope) *natsgo.Msg {
	msg := natsgo.NewMsg(subject)
	msg.Data = env.Payload
	if env.ID != "" {
		msg.Header[headerID] = []string{env.ID}
	}
	if env.Name != "" {
		msg.Header[headerName] = []string{env.Name}
	}
	if !env.ProducedAt.IsZero() {
		msg.Header[headerProducedAt] = []string{strconv.FormatInt(env.ProducedAt.UnixNano(), 10)}
	}
	for k, v := range env.Metadata {
		msg.Header[headerMetaPrefix+k] = []string{v}
	}
	return msg
}

func fromMsg(msg *natsgo.Msg) *xawala.Envelope {
	env := &xawala.Envelope{
		Payload:  msg.Data,
		Metadata: make(map[string]string, len(msg.Header)),
	}
	for k, vs := range msg.Header {
		if len(vs) == 0 {
			continue
		}
		v := vs[0]
		switch {
		case k == headerID:
			env.ID = v
		case k == headerName:
			env.Name = v
		case k == headerProducedAt:
			if ns, err := strconv.ParseInt(v, 10, 64); err == nil && ns > 0 {
				env.ProducedAt = time.Unix(0, ns)
			}
		case strings.HasPrefix(k, headerMetaPrefix):
			env.Metadata[strings.TrimPrefix(k, headerMetaPrefix)] = v
		}
	}
	return env
}
