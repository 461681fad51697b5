package memory

import (
	"fmt"
	"time"

	"github.com/trickstertwo/xawala"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Use builds an Endpoint with the in-memory transport and sets it as the default.
//
// Example:
//
//	ep := memory.Use(memory.Config{
//	    BufferSize:  4096,
//	    Concurrency: 8,
//	    AssignIDs:   true,
//	},
//	    memory.WithLogger(logger),
//	    memory.WithObserver(observer),
//	)
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
		panic(fmt.Errorf("memory.Use: %w", err))
	}

	xawala.SetDefault(ep)
	return ep
}

// toMap converts Config to the generic map expected by the transport factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"buffer_size":      c.BufferSize,
		"concurrency":      c.Concurrency,
		"redelivery_delay": c.RedeliveryDelay,
		"assign_ids":       c.AssignIDs,
	}
}

// Option configures the xawala.Endpoint when calling Use.
type Option func(*xawala.EndpointBuilder)

func WithLogger(l *xlog.Logger) Option {
	return func(b *xawala.EndpointBuilder) { b.WithLogger(l) }
}

func WithClock(c xclock.Clock) Option {
	return func(b *xawala.EndpointBuilder) { b.WithClock(c) }
}

// WithCodec selects a codec by name (default: "structured").
func WithCodec(name string) Option {
	return func(b *xawala.EndpointBuilder) { b.WithCodec(name) }
}

func WithConverter(c *xawala.Converter) Option {
	return func(b *xawala.EndpointBuilder) { b.WithConverter(c) }
}

// WithTopics overrides the incoming and outgoing topics.
func WithTopics(t xawala.Topics) Option {
	return func(b *xawala.EndpointBuilder) { b.WithTopics(t) }
}

// WithMiddleware adds processing middlewares (retry, timeout, etc).
func WithMiddleware(mw ...xawala.Middleware) Option {
	return func(b *xawala.EndpointBuilder) { b.WithMiddleware(mw...) }
}

// WithIncomingMiddleware adds service message middlewares (dedup, etc).
func WithIncomingMiddleware(mw ...xawala.IncomingMiddleware) Option {
	return func(b *xawala.EndpointBuilder) { b.WithIncomingMiddleware(mw...) }
}

// WithAckTimeout sets acks/nacks timeout (default: 5s).
func WithAckTimeout(d time.Duration) Option {
	return func(b *xawala.EndpointBuilder) { b.WithAckTimeout(d) }
}

func WithObserver(obs ...xawala.Observer) Option {
	return func(b *xawala.EndpointBuilder) { b.WithObserver(obs...) }
}

// WithObserverPool configures async observer pool for non-blocking notifications.
func WithObserverPool(workers, bufferSize int) Option {
	return func(b *xawala.EndpointBuilder) { b.WithObserverPool(workers, bufferSize) }
}
