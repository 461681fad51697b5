package xawala

import (
	"context"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// EndpointBuilder constructs Endpoint instances (Builder pattern).
type EndpointBuilder struct {
	transportName string
	transportCfg  map[string]any
	transportInst Transport

	codecName string
	codecInst Codec

	converter   *Converter
	middlewares []Middleware
	incoming    []IncomingMiddleware
	observers   []Observer
	logger      *xlog.Logger
	clock       xclock.Clock
	ackTimeout  time.Duration
	topics      Topics

	poolWorkers int
	poolBuffer  int
}

// NewEndpointBuilder returns a new builder with sensible defaults.
func NewEndpointBuilder() *EndpointBuilder {
	return &EndpointBuilder{
		codecName:  StructuredCodec{}.Name(),
		ackTimeout: 5 * time.Second,
		topics: Topics{
			Incoming: DefaultIncomingTopic,
			Outgoing: DefaultOutgoingTopic,
		},
	}
}

func (eb *EndpointBuilder) WithTransport(name string, cfg map[string]any) *EndpointBuilder {
	eb.transportName = name
	eb.transportCfg = cfg
	return eb
}

// WithTransportInstance accepts a ready Transport instance.
func (eb *EndpointBuilder) WithTransportInstance(t Transport) *EndpointBuilder {
	eb.transportInst = t
	return eb
}

func (eb *EndpointBuilder) WithCodec(name string) *EndpointBuilder {
	eb.codecName = name
	return eb
}

// WithCodecInstance accepts a ready Codec instance.
func (eb *EndpointBuilder) WithCodecInstance(c Codec) *EndpointBuilder {
	eb.codecInst = c
	return eb
}

// WithConverter overrides the converter; by default one is built on the endpoint clock.
func (eb *EndpointBuilder) WithConverter(c *Converter) *EndpointBuilder {
	eb.converter = c
	return eb
}

func (eb *EndpointBuilder) WithMiddleware(mw ...Middleware) *EndpointBuilder {
	eb.middlewares = append(eb.middlewares, mw...)
	return eb
}

// WithIncomingMiddleware adds middlewares that run on converted incoming service messages.
func (eb *EndpointBuilder) WithIncomingMiddleware(mw ...IncomingMiddleware) *EndpointBuilder {
	eb.incoming = append(eb.incoming, mw...)
	return eb
}

func (eb *EndpointBuilder) WithObserver(obs ...Observer) *EndpointBuilder {
	for _, o := range obs {
		if o != nil {
			eb.observers = append(eb.observers, o)
		}
	}
	return eb
}

// WithObserverPool dispatches lifecycle events asynchronously through an ObserverPool.
func (eb *EndpointBuilder) WithObserverPool(workers, bufferSize int) *EndpointBuilder {
	eb.poolWorkers = workers
	eb.poolBuffer = bufferSize
	return eb
}

func (eb *EndpointBuilder) WithLogger(l *xlog.Logger) *EndpointBuilder {
	eb.logger = l
	return eb
}

func (eb *EndpointBuilder) WithClock(c xclock.Clock) *EndpointBuilder {
	eb.clock = c
	return eb
}

func (eb *EndpointBuilder) WithAckTimeout(d time.Duration) *EndpointBuilder {
	if d > 0 {
		eb.ackTimeout = d
	}
	return eb
}

// WithTopics overrides the incoming and outgoing topics; empty values keep the defaults.
func (eb *EndpointBuilder) WithTopics(t Topics) *EndpointBuilder {
	if t.Incoming != "" {
		eb.topics.Incoming = t.Incoming
	}
	if t.Outgoing != "" {
		eb.topics.Outgoing = t.Outgoing
	}
	return eb
}

func (eb *EndpointBuilder) Build() (*Endpoint, error) {
	var tr Transport
	var err error

	switch {
	case eb.transportInst != nil:
		tr = eb.transportInst
	case eb.transportName != "":
		tr, err = NewTransport(eb.transportName, eb.transportCfg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoTransportConfigured
	}

	var cd Codec
	if eb.codecInst != nil {
		cd = eb.codecInst
	} else {
		cd, err = NewCodec(eb.codecName)
		if err != nil {
			return nil, err
		}
	}

	clk := eb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := eb.logger
	if lg == nil {
		lg = xlog.Default()
	}
	conv := eb.converter
	if conv == nil {
		conv = NewConverter(WithClock(clk))
	}

	e := &Endpoint{
		transport:   tr,
		codec:       cd,
		converter:   conv,
		clock:       clk,
		logger:      lg,
		middlewares: eb.middlewares,
		incoming:    eb.incoming,
		topics:      eb.topics,
		ackTimeout:  eb.ackTimeout,
		metrics:     &endpointMetrics{},
	}
	if eb.poolWorkers > 0 {
		e.observerPool = NewObserverPool(context.Background(), eb.poolWorkers, eb.poolBuffer)
	}

	// Attach logging observer first unless one was supplied.
	hasLoggingObserver := false
	for _, o := range eb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		e.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range eb.observers {
		e.AddObserver(o)
	}

	return e, nil
}

// New constructs an Endpoint via Builder and returns a close func for convenience.
func New(init func(b *EndpointBuilder)) (*Endpoint, func() error, error) {
	b := NewEndpointBuilder()
	if init != nil {
		init(b)
	}
	e, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return e.Close(context.Background()) }
	return e, closeFn, nil
}
