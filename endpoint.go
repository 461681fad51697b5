package xawala

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

const (
	DefaultIncomingTopic = "awala.incoming-service-messages"
	DefaultOutgoingTopic = "awala.outgoing-service-messages"
)

// Topics names the streams an Endpoint consumes from and publishes to.
type Topics struct {
	Incoming string
	Outgoing string
}

// Endpoint is the Facade an Internet app uses to exchange service messages
// with the Awala Internet endpoint over a Transport.
type Endpoint struct {
	transport    Transport
	codec        Codec
	converter    *Converter
	clock        xclock.Clock
	logger       *xlog.Logger
	middlewares  []Middleware
	incoming     []IncomingMiddleware
	topics       Topics
	ackTimeout   time.Duration
	observerPool *ObserverPool
	observersMu  sync.RWMutex
	observers    []Observer
	metrics      *endpointMetrics
	closed       atomic.Bool
	closeOnce    sync.Once
}

// endpointMetrics uses lock-free atomics for telemetry.
type endpointMetrics struct {
	sentCount     atomic.Uint64
	receivedCount atomic.Uint64
	ackCount      atomic.Uint64
	nackCount     atomic.Uint64
	rejectCount   atomic.Uint64
	errorCount    atomic.Uint64
	processingNs  atomic.Int64
}

// Codec returns the configured codec (Strategy).
func (e *Endpoint) Codec() Codec { return e.codec }

// Converter returns the converter used for both directions.
func (e *Endpoint) Converter() *Converter { return e.converter }

// Topics returns the configured incoming and outgoing topics.
func (e *Endpoint) Topics() Topics { return e.topics }

// Send converts msg into an outgoing CloudEvent and publishes it on the outgoing topic.
// It returns the event id, which is the parcel id.
func (e *Endpoint) Send(ctx context.Context, msg OutgoingServiceMessage) (string, error) {
	ids, err := e.SendBatch(ctx, msg)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// SendBatch converts and publishes several messages in a single transport call.
func (e *Endpoint) SendBatch(ctx context.Context, msgs ...OutgoingServiceMessage) ([]string, error) {
	if e.closed.Load() {
		return nil, ErrEndpointClosed
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	events := make([]*cloudevents.Event, len(msgs))
	ids := make([]string, len(msgs))
	for i := range msgs {
		evt := e.converter.MakeOutgoingCloudEvent(msgs[i])
		events[i] = &evt
		ids[i] = evt.ID()
	}

	if err := e.Publish(ctx, e.topics.Outgoing, events...); err != nil {
		return nil, err
	}
	return ids, nil
}

// Publish encodes CloudEvents with the endpoint codec and sends them to topic.
func (e *Endpoint) Publish(ctx context.Context, topic string, events ...*cloudevents.Event) error {
	if e.closed.Load() {
		return ErrEndpointClosed
	}
	if topic == "" {
		return ErrInvalidTopic
	}
	if len(events) == 0 {
		return nil
	}

	envs := make([]*Envelope, len(events))
	for i, evt := range events {
		env, err := e.codec.Encode(evt)
		if err != nil {
			e.metrics.errorCount.Add(1)
			return err
		}
		env.ProducedAt = e.clock.Now()
		envs[i] = env
	}

	name, parcelID := "batch", ""
	if len(events) == 1 {
		name, parcelID = events[0].Type(), events[0].ID()
	}

	e.notify(LifecycleEvent{Type: PublishStart, Topic: topic, EventName: name, ParcelID: parcelID})

	start := e.clock.Now()
	err := e.transport.Publish(ctx, topic, envs...)
	duration := e.clock.Since(start)
	e.recordProcessingTime(duration.Nanoseconds())

	e.notify(LifecycleEvent{
		Type:      PublishDone,
		Topic:     topic,
		EventName: name,
		ParcelID:  parcelID,
		Duration:  duration,
		Err:       err,
	})

	if err != nil {
		e.metrics.errorCount.Add(1)
		return err
	}
	e.metrics.sentCount.Add(uint64(len(events)))
	return nil
}

// Receive subscribes to the incoming topic under a consumer group.
// Envelopes that cannot be decoded or converted are rejected permanently and never reach handler.
func (e *Endpoint) Receive(ctx context.Context, group string, handler IncomingHandler) (Subscription, error) {
	if e.closed.Load() {
		return nil, ErrEndpointClosed
	}
	topic := e.topics.Incoming
	if topic == "" || group == "" || handler == nil {
		return nil, ErrInvalidSubscription
	}

	ih := ChainIncoming(handler, e.incoming...)
	base := func(ctx context.Context, env *Envelope) error {
		evt, err := e.codec.Decode(env)
		if err != nil {
			return Permanent(err)
		}
		msg, err := e.converter.MakeIncomingServiceMessage(*evt)
		if err != nil {
			return err
		}
		return ih(ctx, msg)
	}
	wh := Chain(RecoveryMiddleware()(base), e.middlewares...)

	hctx := InjectAll(ctx, e.codec, e.logger, e.clock, e.converter)

	return e.transport.Subscribe(ctx, topic, group, func(d Delivery) {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Warn().Msg("xawala: handler panic (recovered)")
				e.metrics.errorCount.Add(1)
				_ = d.Nack(context.Background(), ErrHandlerPanic)
			}
		}()

		e.metrics.receivedCount.Add(1)
		env := d.Envelope()
		ev := LifecycleEvent{Topic: topic, Group: group, MessageID: env.ID, EventName: env.Name}

		start := ev
		start.Type = ConsumeStart
		e.notify(start)

		t0 := e.clock.Now()
		err := wh(hctx, env)
		duration := e.clock.Since(t0)
		e.recordProcessingTime(duration.Nanoseconds())

		done := ev
		done.Type = ConsumeDone
		done.Duration = duration
		done.Err = err
		e.notify(done)

		outcome := ev
		outcome.Err = err
		switch {
		case err == nil:
			e.metrics.ackCount.Add(1)
			e.ackWithTimeout(hctx, d, true, nil)
			outcome.Type = Ack
		case IsPermanent(err):
			e.metrics.rejectCount.Add(1)
			e.ackWithTimeout(hctx, d, false, Permanent(err))
			outcome.Type = Reject
		default:
			e.metrics.nackCount.Add(1)
			e.ackWithTimeout(hctx, d, false, err)
			outcome.Type = Nack
		}
		e.notify(outcome)
	})
}

// ackWithTimeout handles ack/nack with configurable timeout.
func (e *Endpoint) ackWithTimeout(ctx context.Context, d Delivery, ack bool, reason error) {
	actx := ctx
	cancel := func() {}
	if e.ackTimeout > 0 {
		actx, cancel = context.WithTimeout(ctx, e.ackTimeout)
	}
	defer cancel()

	var err error
	if ack {
		err = d.Ack(actx)
	} else {
		err = d.Nack(actx, reason)
	}
	if err != nil {
		e.metrics.errorCount.Add(1)
		e.notify(LifecycleEvent{Type: Error, Err: err})
		e.logger.Warn().Err(err).Msg("xawala: ack/nack failed")
	}
}

// GetMetrics returns current endpoint metrics.
func (e *Endpoint) GetMetrics() Metrics {
	m := Metrics{
		Sent:                e.metrics.sentCount.Load(),
		Received:            e.metrics.receivedCount.Load(),
		Acked:               e.metrics.ackCount.Load(),
		Nacked:              e.metrics.nackCount.Load(),
		Rejected:            e.metrics.rejectCount.Load(),
		Errors:              e.metrics.errorCount.Load(),
		AvgProcessingTimeMs: float64(e.metrics.processingNs.Load()) / 1e6,
	}
	if e.observerPool != nil {
		m.EventsDropped = e.observerPool.Stats().Dropped
	}
	return m
}

// Health checks endpoint health for Kubernetes probes.
func (e *Endpoint) Health(ctx context.Context) HealthStatus {
	if e.closed.Load() {
		return HealthStatus{
			Status:    "unhealthy",
			Timestamp: e.clock.Now(),
			Message:   "endpoint is closed",
		}
	}

	metrics := e.GetMetrics()
	status := "healthy"

	// Degraded if error rate > 5%
	if total := metrics.Sent + metrics.Received; metrics.Errors > 0 && total > 0 {
		if float64(metrics.Errors)/float64(total) > 0.05 {
			status = "degraded"
		}
	}

	return HealthStatus{
		Status:    status,
		Metrics:   metrics,
		Timestamp: e.clock.Now(),
	}
}

// Close gracefully shuts down the endpoint. It is idempotent.
func (e *Endpoint) Close(ctx context.Context) error {
	var closeErr error

	e.closeOnce.Do(func() {
		e.closed.Store(true)

		if e.observerPool != nil {
			if err := e.observerPool.Close(5 * time.Second); err != nil {
				e.logger.Warn().Err(err).Msg("xawala: observer pool shutdown timeout")
				closeErr = err
			}
		}

		if err := e.transport.Close(ctx); err != nil {
			e.logger.Error().Err(err).Msg("xawala: transport close failed")
			closeErr = err
		}
	})

	return closeErr
}

// AddObserver registers an observer (thread-safe).
func (e *Endpoint) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	e.observersMu.Lock()
	e.observers = append(e.observers, obs)
	e.observersMu.Unlock()
}

// RemoveObserver removes an observer. obs must be of a comparable type.
func (e *Endpoint) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	e.observersMu.Lock()
	defer e.observersMu.Unlock()

	for i, o := range e.observers {
		if o == obs {
			e.observers = append(e.observers[:i], e.observers[i+1:]...)
			break
		}
	}
}

// notify dispatches through the observer pool when configured, synchronously otherwise.
func (e *Endpoint) notify(ev LifecycleEvent) {
	e.observersMu.RLock()
	if len(e.observers) == 0 {
		e.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, len(e.observers))
	copy(observers, e.observers)
	e.observersMu.RUnlock()

	if e.observerPool != nil {
		e.observerPool.Notify(ev, observers)
		return
	}
	for _, o := range observers {
		o.OnEvent(ev)
	}
}

// recordProcessingTime records processing time using exponential moving average.
func (e *Endpoint) recordProcessingTime(ns int64) {
	const alpha = 0.2 // 20% weight to new sample
	current := e.metrics.processingNs.Load()
	if current == 0 {
		e.metrics.processingNs.Store(ns)
		return
	}
	e.metrics.processingNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}
