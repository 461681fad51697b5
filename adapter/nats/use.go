package nats

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xawala"
	"github.com/trickstertwo/xlog"
)

const TransportName = "nats"

func init() {
	if err := xawala.RegisterTransport(TransportName, func(cfg map[string]any) (xawala.Transport, error) {
		return NewTransport(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xawala: failed to register transport %q: %w", TransportName, err))
	}
}

// Option configures the xawala.Endpoint construction when calling Use.
type Option func(*xawala.EndpointBuilder)

func WithLogger(l *xlog.Logger) Option {
	return func(b *xawala.EndpointBuilder) { b.WithLogger(l) }
}

// WithCodec selects a codec by name. The binary codec maps CloudEvent
// attributes onto NATS headers.
func WithCodec(name string) Option {
	return func(b *xawala.EndpointBuilder) { b.WithCodec(name) }
}

func WithTopics(t xawala.Topics) Option {
	return func(b *xawala.EndpointBuilder) { b.WithTopics(t) }
}

func WithMiddleware(mw ...xawala.Middleware) Option {
	return func(b *xawala.EndpointBuilder) { b.WithMiddleware(mw...) }
}

func WithIncomingMiddleware(mw ...xawala.IncomingMiddleware) Option {
	return func(b *xawala.EndpointBuilder) { b.WithIncomingMiddleware(mw...) }
}

func WithAckTimeout(d time.Duration) Option {
	return func(b *xawala.EndpointBuilder) { b.WithAckTimeout(d) }
}

func WithObserver(obs ...xawala.Observer) Option {
	return func(b *xawala.EndpointBuilder) { b.WithObserver(obs...) }
}

// Use builds an Endpoint on NATS, installs it as the default Endpoint and returns it.
func Use(cfg Config, opts ...Option) *xawala.Endpoint {
	eb := xawala.NewEndpointBuilder().
		WithTransport(TransportName, cfg.toMap())

	for _, o := range opts {
		if o != nil {
			o(eb)
		}
	}
	ep, err := eb.Build()
	if err != nil {
		panic(fmt.Errorf("nats.Use: %w", err))
	}

	xawala.SetDefault(ep)
	return ep
}
