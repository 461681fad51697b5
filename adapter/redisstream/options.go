package redisstream

import (
	"time"

	"github.com/trickstertwo/xawala"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Option configures the xawala.Endpoint construction when calling Use.
type Option func(*xawala.EndpointBuilder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(b *xawala.EndpointBuilder) { b.WithLogger(l) }
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(b *xawala.EndpointBuilder) { b.WithClock(c) }
}

// WithCodec selects a codec by name (default: structured).
func WithCodec(name string) Option {
	return func(b *xawala.EndpointBuilder) { b.WithCodec(name) }
}

func WithConverter(c *xawala.Converter) Option {
	return func(b *xawala.EndpointBuilder) { b.WithConverter(c) }
}

// WithTopics overrides the incoming and outgoing stream names.
func WithTopics(t xawala.Topics) Option {
	return func(b *xawala.EndpointBuilder) { b.WithTopics(t) }
}

// WithMiddleware adds processing middlewares.
func WithMiddleware(mw ...xawala.Middleware) Option {
	return func(b *xawala.EndpointBuilder) { b.WithMiddleware(mw...) }
}

func WithIncomingMiddleware(mw ...xawala.IncomingMiddleware) Option {
	return func(b *xawala.EndpointBuilder) { b.WithIncomingMiddleware(mw...) }
}

// WithAckTimeout sets acks/nacks timeout.
func WithAckTimeout(d time.Duration) Option {
	return func(b *xawala.EndpointBuilder) { b.WithAckTimeout(d) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...xawala.Observer) Option {
	return func(b *xawala.EndpointBuilder) { b.WithObserver(obs...) }
}
